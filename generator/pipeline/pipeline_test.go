package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/maps4go/maps4go/generator/pipeline"
)

// recorder appends finished job names under a lock.
type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) job(name string, after ...string) pipeline.Job {
	return pipeline.Job{
		Name:  name,
		After: after,
		Run: func(context.Context) error {
			r.mu.Lock()
			r.order = append(r.order, name)
			r.mu.Unlock()
			return nil
		},
	}
}

func (r *recorder) index(name string) int {
	for i, n := range r.order {
		if n == name {
			return i
		}
	}
	return -1
}

func TestRunRespectsDependencies(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	s := pipeline.NewScheduler(pipeline.Config{Workers: 4})
	for _, j := range []pipeline.Job{
		rec.job("dem"),
		rec.job("osm"),
		rec.job("texture", "osm"),
		rec.job("roads", "osm", "texture"),
		rec.job("mesh", "dem", "roads"),
	} {
		if err := s.Add(j); err != nil {
			t.Fatalf("add %s: %v", j.Name, err)
		}
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(rec.order) != 5 {
		t.Fatalf("ran %d jobs, want 5", len(rec.order))
	}
	for _, c := range [][2]string{
		{"osm", "texture"}, {"osm", "roads"}, {"texture", "roads"},
		{"dem", "mesh"}, {"roads", "mesh"},
	} {
		if rec.index(c[0]) > rec.index(c[1]) {
			t.Errorf("%s finished after %s", c[0], c[1])
		}
	}
}

func TestRunDeterministicReadyOrder(t *testing.T) {
	t.Parallel()

	// With one worker, independent jobs must run in name order regardless
	// of registration order.
	rec := &recorder{}
	s := pipeline.NewScheduler(pipeline.Config{Workers: 1})
	for _, name := range []string{"zulu", "alpha", "mike"} {
		if err := s.Add(rec.job(name)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"alpha", "mike", "zulu"}
	for i, name := range want {
		if rec.order[i] != name {
			t.Fatalf("order = %v, want %v", rec.order, want)
		}
	}
}

func TestRunFailureCancelsAndSkips(t *testing.T) {
	t.Parallel()

	failure := errors.New("no tiles")
	cancelled := make(chan struct{})
	var skipped bool

	s := pipeline.NewScheduler(pipeline.Config{Workers: 2})
	s.Add(pipeline.Job{Name: "dtm", Run: func(context.Context) error {
		return failure
	}})
	s.Add(pipeline.Job{Name: "slow", Run: func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			close(cancelled)
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return errors.New("never cancelled")
		}
	}})
	s.Add(pipeline.Job{Name: "dem", After: []string{"dtm"}, Run: func(context.Context) error {
		skipped = false
		return nil
	}})
	skipped = true

	err := s.Run(context.Background())
	if !errors.Is(err, failure) {
		t.Fatalf("run error = %v, want wrapped %v", err, failure)
	}
	select {
	case <-cancelled:
	default:
		t.Error("running job was not cancelled")
	}
	if !skipped {
		t.Error("dependent of the failed job still ran")
	}
}

func TestRunRejectsBadGraphs(t *testing.T) {
	t.Parallel()

	s := pipeline.NewScheduler(pipeline.Config{})
	if err := s.Add(pipeline.Job{Name: "a", Run: noop}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Add(pipeline.Job{Name: "a", Run: noop}); err == nil {
		t.Error("duplicate name accepted")
	}
	if err := s.Add(pipeline.Job{Name: "b"}); err == nil {
		t.Error("job without run function accepted")
	}

	s = pipeline.NewScheduler(pipeline.Config{})
	s.Add(pipeline.Job{Name: "a", After: []string{"ghost"}, Run: noop})
	if err := s.Run(context.Background()); err == nil {
		t.Error("unknown dependency accepted")
	}

	s = pipeline.NewScheduler(pipeline.Config{})
	s.Add(pipeline.Job{Name: "a", After: []string{"b"}, Run: noop})
	s.Add(pipeline.Job{Name: "b", After: []string{"a"}, Run: noop})
	if err := s.Run(context.Background()); err == nil {
		t.Error("dependency cycle accepted")
	}
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	m := pipeline.NewMetrics()
	s := pipeline.NewScheduler(pipeline.Config{Workers: 2, Metrics: m})
	s.Add(pipeline.Job{Name: "texture", Run: func(context.Context) error {
		m.AddOps("texture", 42)
		return nil
	}})
	s.Add(pipeline.Job{Name: "dem", Run: func(context.Context) error {
		return fmt.Errorf("short read")
	}})
	s.Run(context.Background())

	stats := m.Snapshot()
	if len(stats) != 2 {
		t.Fatalf("snapshot has %d rows, want 2", len(stats))
	}
	if stats[0].Name != "dem" || stats[1].Name != "texture" {
		t.Fatalf("snapshot not sorted: %v", stats)
	}
	if stats[0].Errors != 1 {
		t.Errorf("dem errors = %d, want 1", stats[0].Errors)
	}
	if stats[1].Ops != 42 {
		t.Errorf("texture ops = %d, want 42", stats[1].Ops)
	}

	var nilMetrics *pipeline.Metrics
	nilMetrics.AddOps("x", 1)
	nilMetrics.IncErrors("x")
	if nilMetrics.Snapshot() != nil {
		t.Error("nil metrics snapshot not nil")
	}
}

func noop(context.Context) error { return nil }
