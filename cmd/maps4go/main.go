// Package main is the maps4go command, generating game-ready terrain
// packages from real-world geodata.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/maps4go/maps4go/generator"
	"github.com/maps4go/maps4go/generator/api"
	"github.com/maps4go/maps4go/generator/dtm"
	"github.com/maps4go/maps4go/generator/history"
	"github.com/maps4go/maps4go/generator/pipeline"
	"github.com/maps4go/maps4go/generator/schema"
	"github.com/maps4go/maps4go/generator/telemetry"
)

const usage = `usage: maps4go <command> [flags]

Commands:
  generate    generate a map package
  serve       run the HTTP API server
  history     list or prune past runs
  providers   list the available DTM providers

Run "maps4go <command> -h" for the flags of a command.`

func main() {
	_ = godotenv.Load()
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd := os.Args[1]; cmd {
	case "generate":
		err = runGenerate(ctx, log, os.Args[2:])
	case "serve":
		err = runServe(ctx, log, os.Args[2:])
	case "history":
		err = runHistory(ctx, os.Args[2:])
	case "providers":
		err = runProviders(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Println(usage)
	default:
		fmt.Fprintf(os.Stderr, "maps4go: unknown command %q\n%s\n", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Error("Command failed.", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the TOML configuration, creating it with defaults on the
// first run, and applies environment overrides.
func loadConfig(path string) (generator.UserConfig, error) {
	uc, err := generator.LoadUserConfig(path)
	if err != nil {
		return uc, fmt.Errorf("load config %s: %w", path, err)
	}
	return uc, nil
}

func runGenerate(ctx context.Context, log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	confPath := fs.String("config", "map.toml", "configuration file path")
	lat := fs.Float64("lat", 0, "map centre latitude, overrides the config")
	lon := fs.Float64("lon", 0, "map centre longitude, overrides the config")
	size := fs.Int("size", 0, "map size in metres, overrides the config")
	rotation := fs.Float64("rotation", 0, "map rotation in degrees, overrides the config")
	name := fs.String("name", "", "map name, overrides the config")
	output := fs.String("output", "", "output directory, overrides the config")
	provider := fs.String("provider", "", "DTM provider, overrides the config")
	if err := fs.Parse(args); err != nil {
		return err
	}

	uc, err := loadConfig(*confPath)
	if err != nil {
		return err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "lat":
			uc.Map.Lat = *lat
		case "lon":
			uc.Map.Lon = *lon
		case "size":
			uc.Map.Size = *size
		case "rotation":
			uc.Map.Rotation = *rotation
		case "name":
			uc.Map.Name = *name
		case "output":
			uc.Map.Output = *output
		case "provider":
			uc.DEM.Provider = *provider
		}
	})
	if err := uc.Validate(); err != nil {
		return err
	}

	tracer := telemetry.NoopTracer()
	if telemetry.Enabled() {
		shutdown, err := telemetry.Setup(ctx)
		if err != nil {
			return fmt.Errorf("set up telemetry: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
		tracer = telemetry.Tracer("generator")
	}

	conf, err := uc.Config(log)
	if err != nil {
		return err
	}
	conf.Tracer = tracer
	conf.Metrics = pipeline.NewMetrics()
	g, err := conf.New()
	if err != nil {
		_ = conf.Cache.Close()
		return err
	}
	defer g.Close()

	store, err := history.Open(uc.History.File)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Begin(ctx, history.Run{
		ID:       g.ID().String(),
		Lat:      uc.Map.Lat,
		Lon:      uc.Map.Lon,
		Size:     uc.Map.Size,
		Rotation: uc.Map.Rotation,
		Provider: uc.DEM.Provider,
	}); err != nil {
		return err
	}

	info, genErr := g.Generate(ctx)
	if err := store.Finish(context.Background(), g.ID().String(), genErr); err != nil {
		log.Error("Failed to record run outcome.", "error", err)
	}
	for _, stats := range conf.Metrics.Snapshot() {
		log.Info("Component finished.",
			"component", stats.Name, "duration", stats.Duration.Round(time.Millisecond),
			"ops", stats.Ops, "errors", stats.Errors)
	}
	if genErr != nil {
		return genErr
	}
	log.Info("Map package written.", "task", info.TaskID, "output", uc.Map.Output)
	return nil
}

func runServe(ctx context.Context, log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	confPath := fs.String("config", "map.toml", "configuration file path")
	addr := fs.String("addr", "", "listen address, overrides the config")
	if err := fs.Parse(args); err != nil {
		return err
	}

	uc, err := loadConfig(*confPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		uc.Serve.Address = *addr
	}

	tracer := telemetry.NoopTracer()
	if telemetry.Enabled() {
		shutdown, err := telemetry.Setup(ctx)
		if err != nil {
			return fmt.Errorf("set up telemetry: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
		tracer = telemetry.Tracer("generator")
	}

	store, err := history.Open(uc.History.File)
	if err != nil {
		return err
	}
	defer store.Close()

	// Serve mode keeps one schema set and hot-reloads it when the files
	// change, so schema edits apply to the next task without a restart.
	schemas, err := schema.Load(log, schema.Paths{
		Texture:   uc.Texture.SchemaFile,
		Trees:     uc.Texture.TreeSchemaFile,
		Buildings: uc.Texture.BuildingSchemaFile,
	})
	if err != nil {
		return err
	}
	go func() {
		if err := schemas.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Schema watcher stopped.", "error", err)
		}
	}()

	server := api.Config{
		Log:      log,
		Defaults: uc,
		History:  store,
		Schemas:  schemas,
		Tracer:   tracer,
	}.New()
	defer server.Close()

	httpServer := &http.Server{Addr: uc.Serve.Address, Handler: server.Handler()}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(sctx)
	}()

	log.Info("Serving the generation API.", "addr", uc.Serve.Address)
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func runHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	confPath := fs.String("config", "map.toml", "configuration file path")
	limit := fs.Int("limit", 20, "how many runs to list")
	prune := fs.Bool("prune", false, "delete all but the newest runs")
	keep := fs.Int("keep", 0, "runs to keep with -prune, defaults to the config value")
	if err := fs.Parse(args); err != nil {
		return err
	}

	uc, err := loadConfig(*confPath)
	if err != nil {
		return err
	}
	store, err := history.Open(uc.History.File)
	if err != nil {
		return err
	}
	defer store.Close()

	if *prune {
		n := *keep
		if n <= 0 {
			n = uc.History.Keep
		}
		deleted, err := store.Prune(ctx, n)
		if err != nil {
			return err
		}
		fmt.Printf("pruned %d runs, kept the newest %d\n", deleted, n)
		return nil
	}

	runs, err := store.Recent(ctx, *limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tSTATUS\tDURATION\tSIZE\tCENTRE\tPROVIDER")
	for _, run := range runs {
		dur := "-"
		if d := run.Duration(); d > 0 {
			dur = d.Round(time.Second).String()
		}
		status := run.Status
		if run.Error != "" {
			status += ": " + run.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.4f, %.4f\t%s\n",
			run.ID, run.Started.Format(time.DateTime), status, dur,
			run.Size, run.Lat, run.Lon, run.Provider)
	}
	return w.Flush()
}

func runProviders(args []string) error {
	fs := flag.NewFlagSet("providers", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	for _, name := range dtm.Providers() {
		fmt.Println(name)
	}
	return nil
}
