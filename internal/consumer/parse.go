package consumer

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// flexTime accepts RFC 3339 strings or unix milliseconds.
type flexTime struct {
	time.Time
}

func (f *flexTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		t, err := parseTimestamp(s)
		if err != nil {
			return err
		}
		f.Time = t
		return nil
	}
	var ms int64
	if err := json.Unmarshal(b, &ms); err != nil {
		return fmt.Errorf("timestamp must be RFC 3339 or unix milliseconds: %s", string(b))
	}
	f.Time = time.UnixMilli(ms).UTC()
	return nil
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

// positionPayload is the MQTT position message body.
type positionPayload struct {
	SubjectID string   `json:"subject_id"`
	X         *float64 `json:"x"`
	Y         *float64 `json:"y"`
	Timestamp flexTime `json:"timestamp"`
}

// densityPayload is the JSON body of a density stream entry.
type densityPayload struct {
	ZoneID    string   `json:"zone_id"`
	Value     *float64 `json:"value"`
	Timestamp flexTime `json:"timestamp"`
}
