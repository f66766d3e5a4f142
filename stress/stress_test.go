package stress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSafeProtocolsLoseNothing(t *testing.T) {
	for _, p := range Protocols() {
		if !p.Safe {
			continue // demonstrated in stress_race_test.go
		}
		p := p
		t.Run(p.Name, func(t *testing.T) {
			r := NewRunner(WithProtocol(p), Workers(8), Iterations(20000))
			rep, err := r.Run(context.Background())
			assert.Nil(t, err)
			assert.Equal(t, p.Name, rep.Protocol)
			assert.NotEmpty(t, rep.ID)
			assert.Equal(t, rep.Expected, rep.Performed)
			assert.Equal(t, rep.Expected, rep.Final)
			assert.Equal(t, int64(0), rep.Lost)
			assert.Greater(t, rep.Rate, 0.0)
		})
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Workers notice the cancelled context after their first batch.
	r := NewRunner(Workers(2), Iterations(1<<20))
	rep, err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, rep.Performed, rep.Expected)
	assert.Equal(t, int64(0), rep.Lost)
}

func TestStatProgress(t *testing.T) {
	r := NewRunner(Workers(2), Iterations(300000), StatInterval(time.Millisecond))
	rep, err := r.Run(context.Background())
	assert.Nil(t, err)
	assert.Equal(t, rep.Expected, rep.Final)
}

func TestObserverWired(t *testing.T) {
	o := NewObserver() // registers the vecs, so construct only once per binary
	r := NewRunner(Workers(2), Iterations(4096), WithObserver(o))
	rep, err := r.Run(context.Background())
	assert.Nil(t, err)
	assert.Equal(t, rep.Expected, rep.Final)
}

func TestLookup(t *testing.T) {
	p, err := Lookup("cas")
	assert.Nil(t, err)
	assert.True(t, p.Safe)

	p, err = Lookup("naive")
	assert.Nil(t, err)
	assert.False(t, p.Safe)

	_, err = Lookup("bogus")
	assert.ErrorIs(t, err, ErrUnknownProtocol)
}

func TestRunnerNormalize(t *testing.T) {
	r := NewRunner(Workers(-1), Iterations(0), StatInterval(-time.Second))
	assert.Equal(t, 1, r.workers)
	assert.Equal(t, int64(1), r.iters)
	assert.Equal(t, time.Duration(0), r.interval)
	assert.Equal(t, "spin", r.protocol.Name)
}

func TestReportFields(t *testing.T) {
	r := NewRunner(Workers(1), Iterations(10))
	rep, err := r.Run(context.Background())
	assert.Nil(t, err)
	fields := rep.Fields()
	assert.Equal(t, rep.ID, fields["run_id"])
	assert.Equal(t, "spin", fields["protocol"])
	assert.Equal(t, int64(10), fields["final"])
}
