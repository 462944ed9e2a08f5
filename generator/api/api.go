// Package api exposes map generation over a small JSON HTTP API, used by
// serve mode. Generations run one at a time; requests accepted while one is
// running queue behind it.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/maps4go/maps4go/generator"
	"github.com/maps4go/maps4go/generator/dtm"
	"github.com/maps4go/maps4go/generator/history"
	"github.com/maps4go/maps4go/generator/pipeline"
	"github.com/maps4go/maps4go/generator/schema"
)

// Config holds the options for creating a Server.
type Config struct {
	Log *slog.Logger
	// Defaults is the base configuration tasks are layered on top of. Its
	// map output directory becomes the parent of per-task output dirs.
	Defaults generator.UserConfig
	// History, if set, records every run.
	History *history.Store
	// Schemas, if set, is shared by all runs instead of loading the schema
	// files per task. Serve mode passes a hot-reloading set.
	Schemas *schema.Set
	// Tracer, if set, is passed through to the generator.
	Tracer trace.Tracer
}

// Server handles the JSON API. Create one with Config.New.
type Server struct {
	log      *slog.Logger
	defaults generator.UserConfig
	history  *history.Store
	schemas  *schema.Set
	tracer   trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc

	// genMu serialises generations; tasksMu guards the status map.
	genMu   sync.Mutex
	tasksMu sync.RWMutex
	tasks   map[string]*Task
}

// New creates a Server using fields of conf.
func (conf Config) New() *Server {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		log:      conf.Log,
		defaults: conf.Defaults,
		history:  conf.History,
		schemas:  conf.Schemas,
		tracer:   conf.Tracer,
		ctx:      ctx,
		cancel:   cancel,
		tasks:    make(map[string]*Task),
	}
}

// Close cancels any queued or running generations.
func (s *Server) Close() error {
	s.cancel()
	return nil
}

// Handler returns the http.Handler serving the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tasks", s.handleCreateTask)
	mux.HandleFunc("GET /tasks/{id}", s.handleGetTask)
	mux.HandleFunc("GET /tasks", s.handleListTasks)
	mux.HandleFunc("GET /providers", s.handleProviders)
	return mux
}

// TaskRequest is the body of POST /tasks.
type TaskRequest struct {
	Coordinates struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"coordinates"`
	// Size and Rotation default to the server configuration when zero.
	Size     int     `json:"size"`
	Rotation float64 `json:"rotation"`
	// Provider defaults to the configured DTM provider when empty.
	Provider string `json:"provider"`
	Name     string `json:"name"`
}

// Task is the status of one generation as reported by the API.
type Task struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	Started  time.Time       `json:"started"`
	Finished *time.Time      `json:"finished,omitempty"`
	Output   string          `json:"output,omitempty"`
	Error    string          `json:"error,omitempty"`
	Info     *generator.Info `json:"info,omitempty"`
}

// Task statuses.
const (
	StatusQueued  = "queued"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	uc := s.defaults
	uc.Map.Lat = req.Coordinates.Lat
	uc.Map.Lon = req.Coordinates.Lon
	if req.Size != 0 {
		uc.Map.Size = req.Size
	}
	if req.Rotation != 0 {
		uc.Map.Rotation = req.Rotation
	}
	if req.Provider != "" {
		uc.DEM.Provider = req.Provider
	}
	if req.Name != "" {
		uc.Map.Name = req.Name
	}
	if err := uc.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !slices.Contains(dtm.Providers(), uc.DEM.Provider) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown DTM provider %q", uc.DEM.Provider))
		return
	}

	id := uuid.New().String()
	task := &Task{ID: id, Status: StatusQueued, Started: time.Now()}
	s.tasksMu.Lock()
	s.tasks[id] = task
	s.tasksMu.Unlock()

	if s.history != nil {
		err := s.history.Begin(r.Context(), history.Run{
			ID:       id,
			Lat:      uc.Map.Lat,
			Lon:      uc.Map.Lon,
			Size:     uc.Map.Size,
			Rotation: uc.Map.Rotation,
			Provider: uc.DEM.Provider,
		})
		if err != nil {
			s.log.Error("Failed to record run start.", "task", id, "error", err)
		}
	}

	go s.run(uc, id)

	s.tasksMu.RLock()
	snapshot := *s.tasks[id]
	s.tasksMu.RUnlock()
	writeJSON(w, http.StatusAccepted, snapshot)
}

// run executes one generation, holding the generation mutex so only one map
// builds at a time. The cache and provider open inside the lock; a queued
// task must not grab resources the running one still holds.
func (s *Server) run(uc generator.UserConfig, id string) {
	s.genMu.Lock()
	defer s.genMu.Unlock()

	s.setStatus(id, func(t *Task) { t.Status = StatusRunning })
	info, out, err := s.generate(uc, id)

	now := time.Now()
	s.setStatus(id, func(t *Task) {
		t.Finished = &now
		if err != nil {
			t.Status = StatusFailed
			t.Error = err.Error()
			return
		}
		t.Status = StatusDone
		t.Info = info
		t.Output = out
	})
	if err != nil {
		s.log.Error("Generation failed.", "task", id, "error", err)
	}
	if s.history != nil {
		if herr := s.history.Finish(context.Background(), id, err); herr != nil {
			s.log.Error("Failed to record run outcome.", "task", id, "error", herr)
		}
	}
}

func (s *Server) generate(uc generator.UserConfig, id string) (*generator.Info, string, error) {
	conf, err := uc.Config(s.log)
	if err != nil {
		return nil, "", err
	}
	conf.ID = uuid.MustParse(id)
	conf.OutputDir = filepath.Join(s.defaults.Map.Output, id)
	conf.Tracer = s.tracer
	conf.Metrics = pipeline.NewMetrics()
	if s.schemas != nil {
		conf.Schemas = s.schemas
	}
	g, err := conf.New()
	if err != nil {
		_ = conf.Cache.Close()
		return nil, "", err
	}
	defer g.Close()
	info, err := g.Generate(s.ctx)
	return info, conf.OutputDir, err
}

func (s *Server) setStatus(id string, f func(*Task)) {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	if t, ok := s.tasks[id]; ok {
		f(t)
	}
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.tasksMu.RLock()
	_, ok := s.tasks[id]
	s.tasksMu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown task %q", id))
		return
	}
	s.writeTask(w, id)
}

func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	s.tasksMu.RLock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	s.tasksMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Started.After(out[j].Started) })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Providers []string `json:"providers"`
	}{Providers: dtm.Providers()})
}

// writeTask snapshots the task under the lock before encoding, so a running
// generation updating it does not race the response.
func (s *Server) writeTask(w http.ResponseWriter, id string) {
	s.tasksMu.RLock()
	snapshot := *s.tasks[id]
	s.tasksMu.RUnlock()
	writeJSON(w, 0, snapshot)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: err.Error()})
}
