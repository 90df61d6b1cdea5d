package rollback

import (
	"fmt"

	"github.com/solosage1/amm-challenge-sub000/internal/ir"
)

// Trigger reasons.
const (
	ReasonConsecutiveInvalid = "consecutive_invalid"
	ReasonSevereRegression   = "severe_regression"
	ReasonCumulativeLoss     = "cumulative_loss"
	ReasonChampionDestroyed  = "champion_destroyed"
	ReasonManual             = "manual"
)

// Thresholds configure the governor checks.
//
// ConsecutiveInvalid <= 0 disables the consecutive-invalid check; Window
// <= 0 disables both window checks.
type Thresholds struct {
	ConsecutiveInvalid int     `json:"consecutive_invalid" yaml:"consecutive_invalid" env:"CONSECUTIVE_INVALID"`
	SevereRegression   float64 `json:"severe_regression" yaml:"severe_regression" env:"SEVERE_REGRESSION"`
	CumulativeLoss     float64 `json:"cumulative_loss" yaml:"cumulative_loss" env:"CUMULATIVE_LOSS"`
	Window             int     `json:"window" yaml:"window" env:"WINDOW" validate:"gte=0"`
}

// DefaultThresholds returns the default thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ConsecutiveInvalid: 5,
		SevereRegression:   -2.0,
		CumulativeLoss:     -5.0,
		Window:             10,
	}
}

// Signals are the raw values the checks compared.
type Signals struct {
	ConsecutiveInvalid int      `json:"consecutive_invalid"`
	WindowSize         int      `json:"window_size"`
	WorstDelta         *float64 `json:"worst_delta,omitempty"`
	CumulativeDelta    float64  `json:"cumulative_delta"`
	MeasuredInWindow   int      `json:"measured_in_window"`
	CurrentEdge        float64  `json:"current_edge"`
	BaselineEdge       float64  `json:"baseline_edge"`
}

// Decision is the governor verdict.
type Decision struct {
	Triggered bool     `json:"triggered"`
	Reason    string   `json:"reason,omitempty"`
	Detail    string   `json:"detail,omitempty"`
	Fired     []string `json:"fired,omitempty"`
	Signals   Signals  `json:"signals"`
}

// Evaluate recomputes the governor decision from the log.
func Evaluate(log []ir.LogEntry, th Thresholds, currentEdge, baselineEdge float64) Decision {
	var d Decision
	d.Signals.CurrentEdge = currentEdge
	d.Signals.BaselineEdge = baselineEdge

	fire := func(reason, detail string) {
		d.Triggered = true
		d.Reason = reason
		d.Detail = detail
		d.Fired = append(d.Fired, reason)
	}

	for i := len(log) - 1; i >= 0 && !log[i].Valid; i-- {
		d.Signals.ConsecutiveInvalid++
	}
	if th.ConsecutiveInvalid > 0 && d.Signals.ConsecutiveInvalid >= th.ConsecutiveInvalid {
		fire(ReasonConsecutiveInvalid, fmt.Sprintf("%d trailing invalid entries (threshold %d)",
			d.Signals.ConsecutiveInvalid, th.ConsecutiveInvalid))
	}

	if th.Window > 0 {
		window := log
		if len(window) > th.Window {
			window = window[len(window)-th.Window:]
		}
		d.Signals.WindowSize = len(window)
		for _, e := range window {
			if e.Delta == nil {
				continue
			}
			d.Signals.MeasuredInWindow++
			d.Signals.CumulativeDelta += *e.Delta
			if d.Signals.WorstDelta == nil || *e.Delta < *d.Signals.WorstDelta {
				d.Signals.WorstDelta = ir.Float(*e.Delta)
			}
		}

		if w := d.Signals.WorstDelta; w != nil && *w <= th.SevereRegression {
			fire(ReasonSevereRegression, fmt.Sprintf("delta %.4f <= %.4f in last %d entries",
				*w, th.SevereRegression, d.Signals.WindowSize))
		}
		if d.Signals.MeasuredInWindow > 0 && d.Signals.CumulativeDelta <= th.CumulativeLoss {
			fire(ReasonCumulativeLoss, fmt.Sprintf("cumulative delta %.4f <= %.4f over last %d entries",
				d.Signals.CumulativeDelta, th.CumulativeLoss, d.Signals.WindowSize))
		}
	}

	if currentEdge < baselineEdge {
		fire(ReasonChampionDestroyed, fmt.Sprintf("champion edge %.4f below baseline %.4f",
			currentEdge, baselineEdge))
	}
	return d
}
