package strategy

import (
	"fmt"
	"time"

	"ma-crossover-bot-go/internal/models"

	"go.uber.org/zap"
)

// HostCall is one invocation from a charting host that owns the bar arrays.
type HostCall struct {
	Index  int         // bar being evaluated
	Closes []float64   // close prices, indexed by bar
	Times  []time.Time // optional bar times, same indexing as Closes
	IsLast bool        // set by the host on the final bar of the series
}

// HostOutput carries the per-bar values a host plots.
type HostOutput struct {
	EntryMA    float64
	ExitMA     float64
	EntryReady bool
	ExitReady  bool
	Position   models.Position
	Report     *models.Report // only set on the last bar
}

// HostAdapter maps a host's flag-driven calling convention onto the tracker
// lifecycle: index 0 re-initializes, every call processes its bar and the
// last-bar call finalizes.
type HostAdapter struct {
	cfg     models.StrategyConfig
	tracker *Tracker
}

// NewHostAdapter validates cfg and prepares a tracker for the host.
func NewHostAdapter(cfg models.StrategyConfig, sink LogSink, logger *zap.Logger) (*HostAdapter, error) {
	tr := NewTracker(sink, logger)
	if err := tr.Initialize(cfg); err != nil {
		return nil, err
	}
	return &HostAdapter{cfg: cfg, tracker: tr}, nil
}

// Tracker exposes the underlying tracker.
func (h *HostAdapter) Tracker() *Tracker { return h.tracker }

// Evaluate handles one host call.
func (h *HostAdapter) Evaluate(call HostCall) (HostOutput, error) {
	if call.Index < 0 || call.Index >= len(call.Closes) {
		return HostOutput{}, fmt.Errorf("%w: index %d outside %d closes", ErrBarOutOfOrder, call.Index, len(call.Closes))
	}
	if call.Index == 0 {
		if err := h.tracker.Initialize(h.cfg); err != nil {
			return HostOutput{}, err
		}
	}

	bar := models.Bar{Index: call.Index, Close: call.Closes[call.Index]}
	if call.Index < len(call.Times) {
		bar.Time = call.Times[call.Index]
	}

	snap, err := h.tracker.ProcessBar(bar)
	if err != nil {
		return HostOutput{}, err
	}
	out := HostOutput{
		EntryMA:    snap.EntryMA,
		ExitMA:     snap.ExitMA,
		EntryReady: snap.EntryReady,
		ExitReady:  snap.ExitReady,
		Position:   snap.Position,
	}
	if call.IsLast {
		r, err := h.tracker.Finalize()
		if err != nil {
			return out, err
		}
		out.Report = &r
	}
	return out, nil
}
