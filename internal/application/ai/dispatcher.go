package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bryanwahyu/designlens/internal/application"
	"github.com/bryanwahyu/designlens/internal/domain/ai"
)

// DefaultTimeout bounds a single provider call when none is configured.
const DefaultTimeout = 90 * time.Second

// Result is the settled outcome of one provider call.
// Exactly one of Response or Err is set.
type Result struct {
	Provider ai.ProviderID
	Response ai.ProviderResponse
	Err      error
	Duration time.Duration

	priority int
	arrival  int
}

// TimedOut reports whether the call was cut off by the dispatch timeout.
func (r Result) TimedOut() bool {
	var pe *ai.ProviderError
	return errors.As(r.Err, &pe) && pe.Timeout
}

type registered struct {
	provider ai.Provider
	priority int
}

// Dispatcher fans one request out to several providers and waits for all of
// them to settle. A failing, panicking or hanging provider never affects the
// others and never makes Dispatch return an error.
type Dispatcher struct {
	Timeout time.Duration
	Clock   application.Clock
	Logger  *slog.Logger

	mu        sync.RWMutex
	providers map[ai.ProviderID]registered
}

// NewDispatcher registers providers in priority order (first = highest).
func NewDispatcher(timeout time.Duration, logger *slog.Logger, providers ...ai.Provider) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		Timeout:   timeout,
		Clock:     application.SystemClock{},
		Logger:    logger,
		providers: make(map[ai.ProviderID]registered),
	}
	for i, p := range providers {
		d.Register(p, i)
	}
	return d
}

// Register adds or replaces a provider. Lower priority values sort first.
func (d *Dispatcher) Register(p ai.Provider, priority int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.providers == nil {
		d.providers = make(map[ai.ProviderID]registered)
	}
	d.providers[p.ID()] = registered{provider: p, priority: priority}
}

// Providers lists registered provider ids in priority order.
func (d *Dispatcher) Providers() []ai.ProviderID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]ai.ProviderID, 0, len(d.providers))
	for id := range d.providers {
		out = append(out, id)
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := d.providers[out[i]].priority, d.providers[out[j]].priority
		if pi != pj {
			return pi < pj
		}
		return out[i] < out[j]
	})
	return out
}

// Dispatch calls every requested provider concurrently and returns one Result
// per distinct id, sorted by provider priority then arrival order.
func (d *Dispatcher) Dispatch(ctx context.Context, ids []ai.ProviderID, req ai.Request) []Result {
	ids = dedupe(ids)
	results := make([]Result, len(ids))

	var (
		seqMu sync.Mutex
		seq   int
	)
	arrived := func() int {
		seqMu.Lock()
		defer seqMu.Unlock()
		seq++
		return seq
	}

	var g errgroup.Group
	for i, id := range ids {
		d.mu.RLock()
		reg, ok := d.providers[id]
		d.mu.RUnlock()

		if !ok {
			results[i] = Result{
				Provider: id,
				Err:      &ai.ProviderError{Provider: id, Err: ai.ErrUnknownProvider},
				priority: math.MaxInt,
				arrival:  arrived(),
			}
			continue
		}

		g.Go(func() error {
			start := d.Clock.Now()
			resp, err := d.call(ctx, reg.provider, req)
			res := Result{
				Provider: id,
				Response: resp,
				Duration: d.Clock.Now().Sub(start),
				priority: reg.priority,
			}
			if err != nil {
				res.Response = nil
				res.Err = err
				d.Logger.Warn("provider call failed",
					"provider", id, "duration", res.Duration, "timeout", res.TimedOut(), "error", err)
			} else {
				d.Logger.Debug("provider call succeeded", "provider", id, "duration", res.Duration)
			}
			res.arrival = arrived()
			results[i] = res
			return nil
		})
	}
	_ = g.Wait() // goroutines never return errors; outcomes live in results

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].priority != results[j].priority {
			return results[i].priority < results[j].priority
		}
		return results[i].arrival < results[j].arrival
	})
	return results
}

type outcome struct {
	resp ai.ProviderResponse
	err  error
}

// call bounds one provider with the dispatch timeout. The select on the
// context makes the bound hold even for providers that ignore ctx.
func (d *Dispatcher) call(ctx context.Context, p ai.Provider, req ai.Request) (ai.ProviderResponse, error) {
	cctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("provider panic: %v", r)}
			}
		}()
		resp, err := p.Call(cctx, req)
		ch <- outcome{resp: resp, err: err}
	}()

	select {
	case o := <-ch:
		if o.err != nil {
			timedOut := errors.Is(o.err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded)
			return nil, &ai.ProviderError{Provider: p.ID(), Timeout: timedOut, Err: o.err}
		}
		if o.resp == nil {
			return nil, &ai.ProviderError{Provider: p.ID(), Err: ai.ErrEmptyResponse}
		}
		return o.resp, nil
	case <-cctx.Done():
		if errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &ai.ProviderError{
				Provider: p.ID(),
				Timeout:  true,
				Err:      fmt.Errorf("%w after %s", ai.ErrTimeout, d.Timeout),
			}
		}
		return nil, &ai.ProviderError{Provider: p.ID(), Err: cctx.Err()}
	}
}

func dedupe(ids []ai.ProviderID) []ai.ProviderID {
	seen := make(map[ai.ProviderID]bool, len(ids))
	out := make([]ai.ProviderID, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
