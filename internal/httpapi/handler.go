package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/krishan2005op/safe-track-go/internal/alerting"
	"github.com/krishan2005op/safe-track-go/internal/catalog"
	"github.com/krishan2005op/safe-track-go/internal/clock"
	"github.com/krishan2005op/safe-track-go/internal/engine"
	"github.com/krishan2005op/safe-track-go/internal/models"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Engine is the part of engine.Engine the API serves.
type Engine interface {
	SubmitPosition(subjectID string, x, y float64, ts time.Time) (*engine.PositionResult, error)
	SubmitDensitySample(zoneID string, value float64, ts time.Time) (*models.DensityChangedEvent, error)
	LoadZones(zones []models.Zone) (*engine.LoadResult, error)
	TransitionAlert(alertID string, target models.AlertState, reason string, expectedVersion int64) (*models.Alert, error)
	Alert(alertID string) (*models.Alert, error)
	Alerts(f alerting.Filter) []models.Alert
	Subject(subjectID string) (models.Subject, error)
	Subjects() []models.Subject
	Zones() []models.Zone
	Zone(zoneID string) (models.Zone, error)
	ResolvePoint(p models.Point) string
	ZoneVersion() uint64
	DensityEstimate(zoneID string) (models.DensityEstimate, error)
	DensityEstimates() []models.DensityEstimate
	DensityTrend(zoneID string) (models.DensityTrend, error)
	Summary() engine.Summary
}

// Handler serves the tracking API.
type Handler struct {
	engine Engine
	clock  clock.Clock
	logger *zap.Logger
}

func NewHandler(e Engine, clk clock.Clock, logger *zap.Logger) *Handler {
	return &Handler{engine: e, clock: clk, logger: logger}
}

type positionRequest struct {
	SubjectID string     `json:"subject_id"`
	X         *float64   `json:"x"`
	Y         *float64   `json:"y"`
	Timestamp *time.Time `json:"timestamp"`
}

type densityRequest struct {
	ZoneID    string     `json:"zone_id"`
	Value     *float64   `json:"value"`
	Timestamp *time.Time `json:"timestamp"`
}

// alertActionRequest is the optional body of the alert action endpoints.
// Version > 0 makes the change conditional.
type alertActionRequest struct {
	State   string `json:"state"`
	Reason  string `json:"reason"`
	Version int64  `json:"version"`
}

type zoneList struct {
	Version uint64        `json:"version"`
	Zones   []models.Zone `json:"zones"`
}

type resolveResult struct {
	Point  models.Point `json:"point"`
	ZoneID string       `json:"zone_id"`
	Zone   *models.Zone `json:"zone,omitempty"`
}

func (h *Handler) GetSummary(w http.ResponseWriter, _ *http.Request) {
	writeOk(w, h.engine.Summary())
}

func (h *Handler) ListZones(w http.ResponseWriter, _ *http.Request) {
	writeOk(w, zoneList{Version: h.engine.ZoneVersion(), Zones: h.engine.Zones()})
}

func (h *Handler) GetZone(w http.ResponseWriter, r *http.Request) {
	z, err := h.engine.Zone(chi.URLParam(r, "zoneID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOk(w, z)
}

// ReloadZones replaces the whole catalog. The body uses the zone file format
// in YAML or JSON.
func (h *Handler) ReloadZones(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	zones, err := catalog.Parse(body)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.engine.LoadZones(zones)
	if err != nil {
		writeError(w, err)
		return
	}
	h.logger.Info("Zones reloaded over HTTP",
		zap.Uint64("version", res.Version),
		zap.Int("zones", res.Zones),
		zap.Strings("removed", res.Removed),
	)
	writeOk(w, res)
}

func (h *Handler) ResolvePoint(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	x, err := parseFloat(q.Get("x"), "x")
	if err != nil {
		writeError(w, err)
		return
	}
	y, err := parseFloat(q.Get("y"), "y")
	if err != nil {
		writeError(w, err)
		return
	}
	p := models.Point{X: x, Y: y}
	res := resolveResult{Point: p, ZoneID: h.engine.ResolvePoint(p)}
	if res.ZoneID != models.Unzoned {
		if z, err := h.engine.Zone(res.ZoneID); err == nil {
			res.Zone = &z
		}
	}
	writeOk(w, res)
}

func (h *Handler) ListSubjects(w http.ResponseWriter, _ *http.Request) {
	writeOk(w, h.engine.Subjects())
}

func (h *Handler) GetSubject(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.Subject(chi.URLParam(r, "subjectID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOk(w, s)
}

func (h *Handler) SubmitPosition(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if err := readBodyJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.X == nil || req.Y == nil {
		writeError(w, fmt.Errorf("%w: x and y are required", models.ErrValidation))
		return
	}
	ts := h.clock.Now()
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}
	res, err := h.engine.SubmitPosition(req.SubjectID, *req.X, *req.Y, ts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOk(w, res)
}

func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	f, err := alertFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOk(w, h.engine.Alerts(f))
}

// ExportAlerts serves the filtered alerts and zone status as an xlsx workbook.
func (h *Handler) ExportAlerts(w http.ResponseWriter, r *http.Request) {
	f, err := alertFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := GenerateAlertExport(h.engine.Alerts(f), h.engine.Summary())
	if err != nil {
		h.logger.Error("Failed to generate alert export", zap.Error(err))
		writeError(w, err)
		return
	}
	filename := fmt.Sprintf("safetrack-alerts-%s.xlsx", h.clock.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func alertFilter(r *http.Request) (alerting.Filter, error) {
	q := r.URL.Query()
	f := alerting.Filter{
		SubjectID:  q.Get("subject_id"),
		ZoneID:     q.Get("zone_id"),
		ActiveOnly: parseBool(q.Get("active")),
	}
	if s := q.Get("state"); s != "" {
		st, err := parseAlertState(s)
		if err != nil {
			return f, err
		}
		f.State = st
	}
	return f, nil
}

func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	a, err := h.engine.Alert(chi.URLParam(r, "alertID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOk(w, a)
}

func (h *Handler) DispatchAlert(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, models.AlertDispatched)
}

func (h *Handler) RespondAlert(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, models.AlertResponding)
}

func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, models.AlertResolved)
}

// TransitionAlert moves an alert to the state named in the body.
func (h *Handler) TransitionAlert(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "")
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, target models.AlertState) {
	alertID := chi.URLParam(r, "alertID")
	var req alertActionRequest
	if err := readBodyJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if target == "" {
		st, err := parseAlertState(req.State)
		if err != nil {
			writeError(w, err)
			return
		}
		target = st
	}
	a, err := h.engine.TransitionAlert(alertID, target, req.Reason, req.Version)
	if err != nil {
		h.logger.Debug("Alert transition rejected",
			zap.String("alert_id", alertID),
			zap.String("target", string(target)),
			zap.Error(err),
		)
		writeError(w, err)
		return
	}
	writeOk(w, a)
}

func (h *Handler) ListDensity(w http.ResponseWriter, _ *http.Request) {
	writeOk(w, h.engine.DensityEstimates())
}

func (h *Handler) GetDensity(w http.ResponseWriter, r *http.Request) {
	est, err := h.engine.DensityEstimate(chi.URLParam(r, "zoneID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOk(w, est)
}

func (h *Handler) GetDensityTrend(w http.ResponseWriter, r *http.Request) {
	tr, err := h.engine.DensityTrend(chi.URLParam(r, "zoneID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOk(w, tr)
}

// SubmitDensity accepts one sample. The result is the tier change it caused,
// or null.
func (h *Handler) SubmitDensity(w http.ResponseWriter, r *http.Request) {
	var req densityRequest
	if err := readBodyJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Value == nil {
		writeError(w, fmt.Errorf("%w: value is required", models.ErrValidation))
		return
	}
	ts := h.clock.Now()
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}
	evt, err := h.engine.SubmitDensitySample(req.ZoneID, *req.Value, ts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOk(w, evt)
}
