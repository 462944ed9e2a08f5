// Package pipeline runs the generation components as a dependency-ordered
// job graph on a bounded worker pool. Jobs that are ready at the same time
// start in name order, so runs are reproducible.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Job is one unit of pipeline work.
type Job struct {
	// Name identifies the job in logs, metrics and After lists.
	Name string
	// After names the jobs that must finish before this one starts.
	After []string
	// Run does the work. The context is cancelled when another job fails.
	Run func(ctx context.Context) error
}

// Config holds the tunable parameters for the pipeline scheduler. The zero
// value is usable.
type Config struct {
	Logger *slog.Logger
	// Workers bounds how many jobs run at once. Zero selects GOMAXPROCS.
	Workers int
	Metrics *Metrics
	// Tracer, when set, wraps every job run in a span.
	Tracer trace.Tracer
}

// Scheduler executes registered jobs respecting their dependencies.
type Scheduler struct {
	log     *slog.Logger
	workers int
	metrics *Metrics
	tracer  trace.Tracer

	jobs map[string]Job
}

// NewScheduler creates a scheduler from the configuration.
func NewScheduler(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	return &Scheduler{
		log:     cfg.Logger,
		workers: cfg.Workers,
		metrics: cfg.Metrics,
		tracer:  cfg.Tracer,
		jobs:    make(map[string]Job),
	}
}

// Add registers a job. Names must be unique.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("pipeline: job without a name")
	}
	if job.Run == nil {
		return fmt.Errorf("pipeline: job %s has no run function", job.Name)
	}
	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("pipeline: duplicate job %s", job.Name)
	}
	s.jobs[job.Name] = job
	return nil
}

type jobResult struct {
	name string
	err  error
	took time.Duration
}

// Run executes all registered jobs and returns the first failure. A failing
// job cancels the context passed to the jobs still running; jobs not yet
// started are skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	dependents, pending, err := s.graph()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ready []string
	for name, n := range pending {
		if n == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	results := make(chan jobResult)
	var (
		running  int
		launched int
		firstErr error
	)
	for {
		for firstErr == nil && running < s.workers && len(ready) > 0 {
			name := ready[0]
			ready = ready[1:]
			running++
			launched++
			go s.run(ctx, s.jobs[name], results)
		}
		if running == 0 {
			break
		}
		res := <-results
		running--
		s.metrics.SetDuration(res.name, res.took)
		if res.err != nil {
			s.metrics.IncErrors(res.name)
			s.log.Error("Pipeline job failed.", "job", res.name, "took", res.took, "err", res.err)
			if firstErr == nil {
				firstErr = fmt.Errorf("pipeline: %s: %w", res.name, res.err)
				cancel()
			}
			continue
		}
		s.log.Debug("Pipeline job finished.", "job", res.name, "took", res.took)
		for _, dep := range dependents[res.name] {
			pending[dep]--
			if pending[dep] == 0 {
				ready = insertSorted(ready, dep)
			}
		}
	}
	if firstErr != nil {
		return firstErr
	}
	if launched != len(s.jobs) {
		return fmt.Errorf("pipeline: %d of %d jobs unreachable, dependency cycle", len(s.jobs)-launched, len(s.jobs))
	}
	return nil
}

func (s *Scheduler) run(ctx context.Context, job Job, results chan<- jobResult) {
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, job.Name)
		defer span.End()
	}
	start := time.Now()
	err := job.Run(ctx)
	results <- jobResult{name: job.Name, err: err, took: time.Since(start)}
}

// graph validates the dependency references and returns the forward edges
// plus the unmet-dependency count per job.
func (s *Scheduler) graph() (map[string][]string, map[string]int, error) {
	dependents := make(map[string][]string, len(s.jobs))
	pending := make(map[string]int, len(s.jobs))
	for name, job := range s.jobs {
		pending[name] = len(job.After)
		for _, dep := range job.After {
			if _, ok := s.jobs[dep]; !ok {
				return nil, nil, fmt.Errorf("pipeline: job %s depends on unknown job %s", name, dep)
			}
			dependents[dep] = append(dependents[dep], name)
		}
	}
	for dep := range dependents {
		sort.Strings(dependents[dep])
	}
	return dependents, pending, nil
}

func insertSorted(names []string, name string) []string {
	i := sort.SearchStrings(names, name)
	names = append(names, "")
	copy(names[i+1:], names[i:])
	names[i] = name
	return names
}
