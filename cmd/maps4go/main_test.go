package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/maps4go/maps4go/generator/history"
)

const extractXML = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6">
 <bounds minlat="45.270" minlon="20.215" maxlat="45.290" maxlon="20.245"/>
 <node id="1" lat="45.2770" lon="20.2260"/>
 <node id="2" lat="45.2770" lon="20.2340"/>
 <node id="3" lat="45.2830" lon="20.2340"/>
 <node id="4" lat="45.2830" lon="20.2260"/>
 <way id="100">
  <nd ref="1"/><nd ref="2"/><nd ref="3"/><nd ref="4"/><nd ref="1"/>
  <tag k="landuse" v="farmland"/>
 </way>
</osm>`

// TestRunGenerate runs the generate command twice against the same cache and
// history database. The second run only succeeds when the first released the
// cache lock, including on its way out.
func TestRunGenerate(t *testing.T) {
	overpass := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(extractXML))
	}))
	defer overpass.Close()

	dir := t.TempDir()
	t.Setenv("MAPS4GO_OVERPASS_ENDPOINT", overpass.URL)
	t.Setenv("MAPS4GO_CACHE_DIR", filepath.Join(dir, "cache"))
	t.Setenv("MAPS4GO_HISTORY_FILE", filepath.Join(dir, "history.db"))
	t.Setenv("MAPS4GO_BACKGROUND", "false")

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	args := []string{
		"-config", filepath.Join(dir, "map.toml"),
		"-lat", "45.28", "-lon", "20.23",
		"-size", "1024", "-provider", "flat",
		"-output", filepath.Join(dir, "out"),
	}
	for i := 1; i <= 2; i++ {
		if err := runGenerate(context.Background(), log, args); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	if _, err := os.Stat(filepath.Join(dir, "out", "generation_info.json")); err != nil {
		t.Errorf("missing report: %v", err)
	}

	store, err := history.Open(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer store.Close()
	runs, err := store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("history has %d runs, want 2", len(runs))
	}
	for _, run := range runs {
		if run.Status != history.StatusDone {
			t.Errorf("run %s status = %s: %s", run.ID, run.Status, run.Error)
		}
	}
}
