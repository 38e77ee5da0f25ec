package simulation

import (
	"context"
	"time"

	"github.com/krishan2005op/safe-track-go/internal/clock"
	"github.com/krishan2005op/safe-track-go/internal/engine"
	"github.com/krishan2005op/safe-track-go/internal/models"

	"go.uber.org/zap"
)

// Target receives simulated samples; *engine.Engine satisfies it.
type Target interface {
	SubmitPosition(subjectID string, x, y float64, ts time.Time) (*engine.PositionResult, error)
	SubmitDensitySample(zoneID string, value float64, ts time.Time) (*models.DensityChangedEvent, error)
}

// Runner drives a Simulator on two tickers.
type Runner struct {
	sim           *Simulator
	target        Target
	clock         clock.Clock
	positionEvery time.Duration
	densityEvery  time.Duration
	logger        *zap.Logger
}

// NewRunner creates a runner. A zero interval disables that stream.
func NewRunner(sim *Simulator, target Target, clk clock.Clock, positionEvery, densityEvery time.Duration, logger *zap.Logger) *Runner {
	return &Runner{
		sim:           sim,
		target:        target,
		clock:         clk,
		positionEvery: positionEvery,
		densityEvery:  densityEvery,
		logger:        logger,
	}
}

// Run feeds samples until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	var posC, denC <-chan time.Time
	if r.positionEvery > 0 {
		t := time.NewTicker(r.positionEvery)
		defer t.Stop()
		posC = t.C
	}
	if r.densityEvery > 0 {
		t := time.NewTicker(r.densityEvery)
		defer t.Stop()
		denC = t.C
	}

	r.logger.Info("Simulation started",
		zap.Int("subjects", len(r.sim.walkers)),
		zap.Int("crowd_zones", len(r.sim.crowds)),
		zap.Duration("position_interval", r.positionEvery),
		zap.Duration("density_interval", r.densityEvery),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Simulation stopped")
			return nil
		case <-posC:
			r.emitPositions(r.clock.Now())
		case <-denC:
			r.emitDensity(r.clock.Now())
		}
	}
}

func (r *Runner) emitPositions(now time.Time) {
	for _, p := range r.sim.StepPositions(now) {
		if _, err := r.target.SubmitPosition(p.SubjectID, p.X, p.Y, p.Timestamp); err != nil {
			r.logger.Warn("Simulated position rejected", zap.String("subject_id", p.SubjectID), zap.Error(err))
		}
	}
}

func (r *Runner) emitDensity(now time.Time) {
	for _, d := range r.sim.StepDensity(now) {
		if _, err := r.target.SubmitDensitySample(d.ZoneID, d.Value, d.Timestamp); err != nil {
			r.logger.Warn("Simulated density sample rejected", zap.String("zone_id", d.ZoneID), zap.Error(err))
		}
	}
}
