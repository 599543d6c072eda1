// Package pipeline drives the two verification phases over a deduplicated
// candidate set: a wide pool of cheap reachability probes, then a narrow
// pool of engine-backed functional checks, ranked by latency.
package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"config-checker/internal/filter"
	"config-checker/internal/metrics"
	"config-checker/internal/model"
)

const (
	MaxProbeWorkers      = 100
	DefaultVerifyWorkers = 4
)

type Prober interface {
	Check(ctx context.Context, c model.Candidate) filter.Result
}

type Verifier interface {
	Verify(ctx context.Context, c model.Candidate) model.Outcome
}

type Phase string

const (
	PhaseProbe  Phase = "probe"
	PhaseVerify Phase = "verify"
)

// ProgressFunc is called from worker goroutines after each finished unit.
type ProgressFunc func(phase Phase, done, total int)

type Options struct {
	Prober   Prober
	Verifier Verifier

	// ProbeWorkers defaults to 3x NumCPU capped at MaxProbeWorkers.
	ProbeWorkers int
	// VerifyWorkers stays small: every unit spawns a process and binds a port.
	VerifyWorkers int

	Progress ProgressFunc
	Metrics  *metrics.Metrics
}

type Pipeline struct {
	opts Options
}

func New(opts Options) *Pipeline {
	if opts.ProbeWorkers <= 0 {
		opts.ProbeWorkers = DefaultProbeWorkers()
	}
	if opts.VerifyWorkers <= 0 {
		opts.VerifyWorkers = DefaultVerifyWorkers
	}
	return &Pipeline{opts: opts}
}

func DefaultProbeWorkers() int {
	n := runtime.NumCPU() * 3
	if n > MaxProbeWorkers {
		n = MaxProbeWorkers
	}
	return n
}

// Result summarizes one run.
type Result struct {
	Total          int
	Reachable      []model.Candidate
	Outcomes       []model.Outcome
	ProbeDuration  time.Duration
	VerifyDuration time.Duration
}

// Run executes phase 1 and, when anything survived it, phase 2. On
// cancellation the partial result is returned along with ctx.Err().
func (p *Pipeline) Run(ctx context.Context, candidates []model.Candidate) (*Result, error) {
	res := &Result{Total: len(candidates)}
	if len(candidates) == 0 {
		return res, nil
	}

	start := time.Now()
	reachable, err := p.Probe(ctx, candidates)
	res.Reachable = reachable
	res.ProbeDuration = time.Since(start)
	p.opts.Metrics.ObservePhase(string(PhaseProbe), res.ProbeDuration.Seconds())
	if err != nil {
		return res, err
	}

	if len(reachable) == 0 {
		return res, nil
	}

	start = time.Now()
	outcomes, err := p.Verify(ctx, reachable)
	res.Outcomes = outcomes
	res.VerifyDuration = time.Since(start)
	p.opts.Metrics.ObservePhase(string(PhaseVerify), res.VerifyDuration.Seconds())

	return res, err
}

// Probe returns the candidates that passed the reachability check, in
// completion order.
func (p *Pipeline) Probe(ctx context.Context, candidates []model.Candidate) ([]model.Candidate, error) {
	if p.opts.Prober == nil {
		return nil, fmt.Errorf("pipeline: no prober configured")
	}
	var passed collector[model.Candidate]

	err := p.fanOut(ctx, PhaseProbe, p.opts.ProbeWorkers, len(candidates), func(i int) {
		c := candidates[i]
		r := p.opts.Prober.Check(ctx, c)
		p.opts.Metrics.ObserveProbe(c.Type(), r.OK, r.Elapsed.Seconds())
		if r.OK {
			passed.add(c)
		}
	})
	return passed.items(), err
}

// Verify runs functional validation and returns only successful outcomes
// with a positive latency, sorted fastest first.
func (p *Pipeline) Verify(ctx context.Context, candidates []model.Candidate) ([]model.Outcome, error) {
	if p.opts.Verifier == nil {
		return nil, fmt.Errorf("pipeline: no verifier configured")
	}
	var working collector[model.Outcome]

	err := p.fanOut(ctx, PhaseVerify, p.opts.VerifyWorkers, len(candidates), func(i int) {
		o := p.opts.Verifier.Verify(ctx, candidates[i])
		p.opts.Metrics.ObserveVerify(o)
		if o.OK && o.Latency > 0 {
			working.add(o)
		}
	})

	outcomes := working.items()
	sort.SliceStable(outcomes, func(i, j int) bool {
		return outcomes[i].Latency < outcomes[j].Latency
	})
	return outcomes, err
}

// fanOut runs fn for every index on a bounded pool and blocks until all
// submitted units have finished. Cancellation stops new submissions only.
func (p *Pipeline) fanOut(ctx context.Context, phase Phase, workers, total int, fn func(i int)) error {
	if total == 0 {
		return nil
	}
	if workers > total {
		workers = total
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return fmt.Errorf("pipeline: %s pool: %w", phase, err)
	}
	defer pool.Release()

	var (
		wg   sync.WaitGroup
		done atomic.Int64
	)
	for i := 0; i < total; i++ {
		if ctx.Err() != nil {
			break
		}
		idx := i
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			fn(idx)
			n := done.Add(1)
			if p.opts.Progress != nil {
				p.opts.Progress(phase, int(n), total)
			}
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			return fmt.Errorf("pipeline: %s submit: %w", phase, err)
		}
	}
	wg.Wait()
	return ctx.Err()
}

// collector is the only state written by several workers.
type collector[T any] struct {
	mu   sync.Mutex
	list []T
}

func (c *collector[T]) add(v T) {
	c.mu.Lock()
	c.list = append(c.list, v)
	c.mu.Unlock()
}

func (c *collector[T]) items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]T, len(c.list))
	copy(out, c.list)
	return out
}
