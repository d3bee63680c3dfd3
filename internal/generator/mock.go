package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"maps"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/ahrav/codereport/internal/domain/report"
)

// ErrSimulatedFailure is returned by generators whose catalog entry sets fail.
var ErrSimulatedFailure = errors.New("simulated generator failure")

var _ report.Generator = (*Mock)(nil)

// Mock is a catalog driven report.Generator.
type Mock struct {
	spec       Spec
	delayScale float64
}

// Option configures the generators built by New.
type Option func(*Mock)

// WithDelayScale multiplies every simulated delay. Zero disables delays.
func WithDelayScale(scale float64) Option {
	return func(m *Mock) {
		if scale >= 0 {
			m.delayScale = scale
		}
	}
}

// New builds one generator per catalog entry, in catalog order.
func New(c *Catalog, opts ...Option) []report.Generator {
	gens := make([]report.Generator, 0, len(c.Generators))
	for _, s := range c.Generators {
		gens = append(gens, NewMock(s, opts...))
	}
	return gens
}

// NewMock builds a single generator from spec.
func NewMock(spec Spec, opts ...Option) *Mock {
	m := &Mock{spec: spec, delayScale: 1}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Mock) Name() string { return m.spec.Name }

// Generate waits for the simulated delay, then returns a report seeded by
// taskID. The same task id always yields the same report.
func (m *Mock) Generate(ctx context.Context, taskID string) (report.StructuredReport, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if m.spec.Fail {
		return nil, fmt.Errorf("%s: %w", m.spec.Name, ErrSimulatedFailure)
	}

	rng := rand.New(rand.NewPCG(seed(taskID), m.spec.SeedOffset))

	out := make(map[string]any, len(m.spec.Sections)+1)
	cov := m.spec.Coverage
	out["overall_coverage"] = math.Round((cov.Min+rng.Float64()*(cov.Max-cov.Min))*10) / 10

	for _, sec := range m.spec.Sections {
		counts := make(map[string]int, len(sec.Max))
		// Draw in key order so the sequence does not depend on map iteration.
		for _, k := range slices.Sorted(maps.Keys(sec.Max)) {
			counts[k] = rng.IntN(sec.Max[k] + 1)
		}
		out[sec.Name] = counts
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("%s: encoding report: %w", m.spec.Name, err)
	}
	return data, nil
}

func (m *Mock) wait(ctx context.Context) error {
	d := m.delay()
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (m *Mock) delay() time.Duration {
	r := m.spec.Delay
	if m.delayScale == 0 || r.Max == 0 {
		return 0
	}
	d := r.Min
	if span := int64(r.Max - r.Min); span > 0 {
		d += time.Duration(rand.Int64N(span + 1))
	}
	return time.Duration(float64(d) * m.delayScale)
}

func seed(taskID string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(taskID))
	return h.Sum64()
}
