package worker

import (
	"time"

	"github.com/nerrad567/graytap-core/internal/infrastructure/config"
	"github.com/nerrad567/graytap-core/internal/policy"
)

// Timings holds every delay the worker loop sleeps for.
type Timings struct {
	ClickCooldown   time.Duration
	PauseTick       time.Duration
	CaptureBackoff  time.Duration
	IdleSleep       time.Duration
	ErrorBackoff    time.Duration
	VerboseInterval time.Duration
	RecheckSettle   time.Duration
	PostClick       policy.Range
	TapJitter       policy.Jitter
	StopTimeout     time.Duration
}

// DefaultTimings returns the production delays.
func DefaultTimings() Timings {
	return Timings{
		ClickCooldown:   time.Second,
		PauseTick:       time.Second,
		CaptureBackoff:  time.Second,
		IdleSleep:       500 * time.Millisecond,
		ErrorBackoff:    2 * time.Second,
		VerboseInterval: 10 * time.Second,
		RecheckSettle:   500 * time.Millisecond,
		PostClick:       policy.Range{Min: time.Second, Max: 3 * time.Second},
		TapJitter:       policy.Jitter{Min: 5, Max: 30},
		StopTimeout:     2 * time.Second,
	}
}

// TimingsFromConfig converts engine settings to Timings.
func TimingsFromConfig(cfg config.EngineConfig) Timings {
	return Timings{
		ClickCooldown:   config.Millis(cfg.ClickCooldownMS),
		PauseTick:       config.Millis(cfg.PauseTickMS),
		CaptureBackoff:  config.Millis(cfg.CaptureBackoffMS),
		IdleSleep:       config.Millis(cfg.IdleSleepMS),
		ErrorBackoff:    config.Millis(cfg.ErrorBackoffMS),
		VerboseInterval: time.Duration(cfg.VerboseIntervalSeconds) * time.Second,
		RecheckSettle:   config.Millis(cfg.RecheckSettleMS),
		PostClick: policy.Range{
			Min: config.Millis(cfg.PostClickDelayMS.Min),
			Max: config.Millis(cfg.PostClickDelayMS.Max),
		},
		TapJitter:   policy.Jitter{Min: cfg.TapOffset.Min, Max: cfg.TapOffset.Max},
		StopTimeout: config.Millis(cfg.StopTimeoutMS),
	}
}
