// Package stress drives contended counter increments through a lock protocol
// and reports whether any updates were lost. A lost update is the visible
// symptom of broken mutual exclusion, so the report doubles as a verdict on
// the protocol under test.
package stress

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/go-spin/spinlock"
	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"
)

// batch is how many sections a worker runs between cancellation checks and
// progress flushes. Acquisitions inside a batch are not interruptible.
const batch = 1024

var ErrUnknownProtocol = errors.New("stress: unknown protocol")

// Section runs one operation under a lock and hands back its result. The
// package-level entry points of the lock instantiated for the harness counter
// all fit.
type Section func(m *spinlock.Mutex[int64], f func(*int64) int64) int64

// Protocol is a named Section plus the verdict it is supposed to earn. Safe
// protocols must never lose an update; the naive one is shipped to show that
// it does.
type Protocol struct {
	Name    string
	Safe    bool
	Section Section
}

// Protocols lists the lock variants in the order they were corrected.
func Protocols() []Protocol {
	return []Protocol{
		{Name: "naive", Safe: false, Section: spinlock.WithLock[int64, int64]},
		{Name: "cas", Safe: true, Section: spinlock.WithLock2[int64, int64]},
		{Name: "spin", Safe: true, Section: spinlock.WithLock3[int64, int64]},
	}
}

func Lookup(name string) (Protocol, error) {
	for _, p := range Protocols() {
		if p.Name == name {
			return p, nil
		}
	}
	return Protocol{}, fmt.Errorf("%w: %q", ErrUnknownProtocol, name)
}

// Report is the outcome of one Run. Performed counts the sections actually
// entered, which is below Expected when the run was cancelled. Lost is
// Performed minus the counter's final value: zero for a safe protocol, and
// whatever contention cost for the naive one.
type Report struct {
	ID         string
	Protocol   string
	Workers    int
	Iterations int64
	Expected   int64
	Performed  int64
	Final      int64
	Lost       int64
	Elapsed    time.Duration
	Rate       float64
}

type Runner struct {
	protocol Protocol
	workers  int
	iters    int64
	interval time.Duration
	observer *Observer
}

type Option func(*Runner)

func Workers(n int) Option {
	return func(r *Runner) {
		r.workers = n
	}
}

// Iterations sets how many sections each worker runs.
func Iterations(n int64) Option {
	return func(r *Runner) {
		r.iters = n
	}
}

func WithProtocol(p Protocol) Option {
	return func(r *Runner) {
		r.protocol = p
	}
}

func WithObserver(o *Observer) Option {
	return func(r *Runner) {
		r.observer = o
	}
}

// StatInterval enables periodic progress logging. Zero disables it.
func StatInterval(d time.Duration) Option {
	return func(r *Runner) {
		r.interval = d
	}
}

func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		protocol: Protocols()[2], // spin, the protocol worth defaulting to
		workers:  runtime.GOMAXPROCS(0),
		iters:    100000,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.normalize()
	return r
}

func (r *Runner) normalize() {
	if r.protocol.Section == nil {
		r.protocol = Protocols()[2]
	}
	if r.workers < 1 {
		r.workers = 1
	}
	if r.iters < 1 {
		r.iters = 1
	}
	if r.interval < 0 {
		r.interval = 0
	}
}

// Run hammers a fresh counter cell with the configured workers and returns
// the tally. Cancellation is honored between batches; a started acquisition
// always completes, the lock has no cancellation surface of its own.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	m := spinlock.New[int64](0)
	st := newStat(r.protocol.Name, r.interval)
	defer st.stop()

	incr := func(v *int64) int64 { *v++; return 0 }
	start := time.Now()
	eg, ctx := errgroup.WithContext(ctx)
	for w := 0; w < r.workers; w++ {
		eg.Go(func() error {
			o := r.observer.bind(r.protocol.Name)
			o.up()
			defer o.down()
			for done := int64(0); done < r.iters; {
				n := int64(batch)
				if rem := r.iters - done; rem < n {
					n = rem
				}
				i := int64(0)
				if o != nil {
					// sample the first section of each batch
					t := time.Now()
					r.protocol.Section(m, incr)
					o.observe(time.Since(t))
					i = 1
				}
				for ; i < n; i++ {
					r.protocol.Section(m, incr)
				}
				done += n
				st.add(n)
				o.count(n)
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}
			return nil
		})
	}
	err := eg.Wait()
	elapsed := time.Since(start)

	// Workers are all gone, any section reads the final value uncontended.
	final := r.protocol.Section(m, func(v *int64) int64 { return *v })
	performed := st.total()
	rep := Report{
		ID:         xid.New().String(),
		Protocol:   r.protocol.Name,
		Workers:    r.workers,
		Iterations: r.iters,
		Expected:   int64(r.workers) * r.iters,
		Performed:  performed,
		Final:      final,
		Lost:       performed - final,
		Elapsed:    elapsed,
	}
	if elapsed > 0 {
		rep.Rate = float64(performed) / elapsed.Seconds()
	}
	return rep, err
}

// Fields flattens the report for structured logging.
func (r Report) Fields() map[string]interface{} {
	return map[string]interface{}{
		"run_id":     r.ID,
		"protocol":   r.Protocol,
		"workers":    r.Workers,
		"iterations": r.Iterations,
		"expected":   r.Expected,
		"performed":  r.Performed,
		"final":      r.Final,
		"lost":       r.Lost,
		"elapsed":    r.Elapsed.String(),
		"rate":       r.Rate,
	}
}
