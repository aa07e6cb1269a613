// Package telemetry samples accelerator memory and derives how much of it
// the dictation engine uses.
package telemetry

import (
	"context"
	"errors"
	"math"
	"time"
)

// Sample is one reading from a Provider.
type Sample struct {
	Name  string
	Free  uint64 // bytes
	Total uint64 // bytes
}

// Provider reads memory usage of the accelerator at index.
type Provider interface {
	Name() string
	Sample(ctx context.Context, index int) (Sample, error)
}

var ErrNoDevice = errors.New("no accelerator")

// Stats is the display form of a sample. Sizes are GiB rounded to two
// decimals.
type Stats struct {
	Available bool
	Device    string
	AppGB     float64
	SystemGB  float64
	FreeGB    float64
	TotalGB   float64
	Level     Level
}

type Level string

const (
	LevelNormal   Level = "normal"
	LevelWarning  Level = "warning"
	LevelDanger   Level = "danger"
	LevelCritical Level = "critical"
)

// PressureLevel grades the share of free memory. Strict mode uses the
// tighter thresholds shown in debug builds.
func PressureLevel(freeGB, totalGB float64, strict bool) Level {
	pct := 100.0
	if totalGB > 0 {
		pct = freeGB / totalGB * 100
	}
	limits := [3]float64{50, 30, 15}
	if strict {
		limits = [3]float64{80, 70, 60}
	}
	switch {
	case pct > limits[0]:
		return LevelNormal
	case pct > limits[1]:
		return LevelWarning
	case pct > limits[2]:
		return LevelDanger
	default:
		return LevelCritical
	}
}

const gib = 1 << 30

func toGB(b uint64) float64 {
	return math.Round(float64(b)/gib*100) / 100
}

func subFloor(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

// Usage derives app and system usage from a sample and the free memory
// observed before the engine loaded anything.
func Usage(s Sample, baselineFree uint64) (app, system uint64) {
	return subFloor(baselineFree, s.Free), subFloor(s.Total, baselineFree)
}

type Config struct {
	Interval time.Duration
	Index    int
	Strict   bool
	// BaselineGate delays baseline capture until it is closed. Nil means
	// the first successful sample becomes the baseline.
	BaselineGate <-chan struct{}
}

// Poller samples Primary, falling back to Fallback, on a fixed interval.
type Poller struct {
	cfg      Config
	primary  Provider
	fallback Provider

	baseline    uint64
	hasBaseline bool
}

func NewPoller(cfg Config, primary, fallback Provider) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	return &Poller{cfg: cfg, primary: primary, fallback: fallback}
}

func (p *Poller) sample(ctx context.Context) (Sample, error) {
	var errs []error
	for _, prov := range []Provider{p.primary, p.fallback} {
		if prov == nil {
			continue
		}
		s, err := prov.Sample(ctx, p.cfg.Index)
		if err == nil {
			return s, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return Sample{}, ErrNoDevice
	}
	return Sample{}, errors.Join(append([]error{ErrNoDevice}, errs...)...)
}

func (p *Poller) gateOpen() bool {
	if p.cfg.BaselineGate == nil {
		return true
	}
	select {
	case <-p.cfg.BaselineGate:
		return true
	default:
		return false
	}
}

// Poll takes one reading. The error is informational: the returned Stats
// are always valid for display.
func (p *Poller) Poll(ctx context.Context) (Stats, error) {
	s, err := p.sample(ctx)
	if err != nil {
		return Stats{}, err
	}
	if !p.hasBaseline && p.gateOpen() {
		p.baseline = s.Free
		p.hasBaseline = true
	}
	base := s.Free
	if p.hasBaseline {
		base = p.baseline
	}
	app, system := Usage(s, base)
	st := Stats{
		Available: true,
		Device:    s.Name,
		AppGB:     toGB(app),
		SystemGB:  toGB(system),
		FreeGB:    toGB(s.Free),
		TotalGB:   toGB(s.Total),
	}
	st.Level = PressureLevel(st.FreeGB, st.TotalGB, p.cfg.Strict)
	return st, nil
}

// Run polls until ctx is done, handing every reading to emit. The first
// reading is taken immediately.
func (p *Poller) Run(ctx context.Context, emit func(Stats)) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		st, _ := p.Poll(ctx)
		if ctx.Err() != nil {
			return
		}
		emit(st)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
