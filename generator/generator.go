// Package generator turns real-world geodata into a game-ready terrain
// package: a heightmap, texture weight maps, farmland info layers, road and
// background meshes, a scene file and optional satellite imagery, all
// derived from OpenStreetMap features and a digital terrain model.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/maps4go/maps4go/generator/cache"
	"github.com/maps4go/maps4go/generator/dem"
	"github.com/maps4go/maps4go/generator/dtm"
	"github.com/maps4go/maps4go/generator/geo"
	"github.com/maps4go/maps4go/generator/grle"
	"github.com/maps4go/maps4go/generator/i3d"
	"github.com/maps4go/maps4go/generator/mesh"
	"github.com/maps4go/maps4go/generator/osm"
	"github.com/maps4go/maps4go/generator/pipeline"
	"github.com/maps4go/maps4go/generator/roads"
	"github.com/maps4go/maps4go/generator/satellite"
	"github.com/maps4go/maps4go/generator/schema"
	"github.com/maps4go/maps4go/generator/texture"
)

// backgroundMargin is the width in metres of the background terrain ring on
// every side of the playable area.
const backgroundMargin = 2048

// Config contains options for a map generation.
type Config struct {
	// Log is the Logger to use for logging information. If nil, Log is set
	// to slog.Default().
	Log *slog.Logger
	// Name is the map name.
	Name string
	// Centre is the geographic centre of the map.
	Centre geo.Point
	// MapSize is the playable edge length in metres, a power of two
	// between 1024 and 16384. One output pixel covers one metre.
	MapSize int
	// Rotation turns the map clockwise by this many degrees.
	Rotation float64
	// OutputDir is where the generated files are written.
	OutputDir string
	// Provider supplies elevation data.
	Provider dtm.Provider
	// Cache, if set, is closed by Close and shared by the components that
	// download data.
	Cache *cache.Cache
	// Overpass fetches the OSM extract. If nil, a default client is
	// created.
	Overpass *osm.Client
	// Schemas supplies the texture, tree and building schemas. If nil, the
	// embedded defaults are used.
	Schemas *schema.Set

	// HeightScale, BlurRadius, Plateau and WaterDepth configure the
	// heightmap; see the dem package.
	HeightScale float64
	BlurRadius  int
	Plateau     float64
	WaterDepth  float64

	// Background adds the 2048 m terrain ring and its mesh.
	Background bool
	// Decimation is the background mesh decimation factor.
	Decimation int
	// TreeSpacing is the forest planting grid step in metres.
	TreeSpacing float64
	// Seed makes tree placement reproducible.
	Seed uint64

	// Satellite enables imagery download; SatelliteURL, SatelliteZoom and
	// TileWorkers configure it.
	Satellite     bool
	SatelliteURL  string
	SatelliteZoom int
	TileWorkers   int

	// ID overrides the generated task id, used by serve mode to hand out
	// the id before the run starts.
	ID uuid.UUID

	// Workers bounds how many components run at once. Zero selects
	// GOMAXPROCS.
	Workers int
	// Metrics, if set, receives per-component stats.
	Metrics *pipeline.Metrics
	// Tracer, if set, wraps every component run in a span.
	Tracer trace.Tracer
}

// New creates a Generator using fields of conf.
func (conf Config) New() (*Generator, error) {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Provider == nil {
		return nil, fmt.Errorf("generator: DTM provider is required")
	}
	if conf.MapSize <= 0 {
		return nil, fmt.Errorf("generator: map size is required")
	}
	if conf.Name == "" {
		conf.Name = "unnamed"
	}
	if conf.OutputDir == "" {
		conf.OutputDir = "output"
	}
	if conf.Overpass == nil {
		conf.Overpass = osm.ClientConfig{Log: conf.Log, Cache: conf.Cache}.New()
	}
	if conf.Schemas == nil {
		schemas, err := schema.Load(conf.Log, schema.Paths{})
		if err != nil {
			return nil, err
		}
		conf.Schemas = schemas
	}
	conf.Rotation = geo.NormalizeRotation(conf.Rotation)

	if conf.ID == (uuid.UUID{}) {
		conf.ID = uuid.New()
	}

	g := &Generator{
		conf: conf,
		id:   conf.ID,
		grid: geo.NewGrid(conf.Centre, float64(conf.MapSize), conf.MapSize, conf.Rotation),
	}
	g.demGrid = g.grid
	if conf.Background {
		full := conf.MapSize + 2*backgroundMargin
		g.demGrid = geo.NewGrid(conf.Centre, float64(full), full, conf.Rotation)
	}
	return g, nil
}

// Generator generates one map package. A Generator is good for a single
// Generate call; serve mode creates a fresh one per task.
type Generator struct {
	conf Config
	id   uuid.UUID

	// grid covers the playable area, demGrid additionally the background
	// margin when enabled.
	grid    geo.Grid
	demGrid geo.Grid

	// Component results, written by one pipeline job and read by its
	// dependents.
	data      *osm.Data
	dem       *dem.DEM
	tex       *texture.Result
	farmlands *grle.Farmlands
	network   *roads.Network
	scene     *i3d.Document
	planted   int
	meshes    int
	satFile   bool
}

// ID returns the task id of this generation.
func (g *Generator) ID() uuid.UUID { return g.id }

// Generate runs all components and writes the map package into the output
// directory, returning the generation report that is also written as
// generation_info.json.
func (g *Generator) Generate(ctx context.Context) (*Info, error) {
	conf := g.conf
	log := conf.Log.With("task", g.id.String())
	log.Info("Starting generation.",
		"lat", conf.Centre.Lat, "lon", conf.Centre.Lon,
		"size", conf.MapSize, "rotation", conf.Rotation,
		"provider", conf.Provider.Name())

	if err := os.MkdirAll(filepath.Join(conf.OutputDir, "meshes"), 0777); err != nil {
		return nil, fmt.Errorf("generator: create output dir: %w", err)
	}

	s := pipeline.NewScheduler(pipeline.Config{
		Logger:  log,
		Workers: conf.Workers,
		Metrics: conf.Metrics,
		Tracer:  conf.Tracer,
	})
	jobs := []pipeline.Job{
		{Name: "osm", Run: g.runOSM},
		// The dem job reads the extract for the water carve; the edge also
		// orders the write of g.data before every reader.
		{Name: "dem", After: []string{"osm"}, Run: g.runDEM},
		{Name: "texture", After: []string{"osm"}, Run: g.runTexture},
		{Name: "farmlands", After: []string{"osm"}, Run: g.runFarmlands},
		{Name: "roads", After: []string{"osm"}, Run: g.runRoads},
		{Name: "mesh", After: []string{"dem", "roads"}, Run: g.runMesh},
		{Name: "scene", After: []string{"dem", "roads"}, Run: g.runScene},
	}
	if conf.Satellite {
		jobs = append(jobs, pipeline.Job{Name: "satellite", Run: g.runSatellite})
	}
	for _, job := range jobs {
		if err := s.Add(job); err != nil {
			return nil, err
		}
	}
	if err := s.Run(ctx); err != nil {
		return nil, err
	}

	info := g.info()
	if err := info.Write(filepath.Join(conf.OutputDir, "generation_info.json")); err != nil {
		return nil, err
	}
	log.Info("Generation finished.", "output", conf.OutputDir)
	return info, nil
}

// Close releases the resources held by the configuration.
func (g *Generator) Close() error {
	if g.conf.Cache != nil {
		return g.conf.Cache.Close()
	}
	return nil
}

func (g *Generator) runOSM(ctx context.Context) error {
	bounds := geo.MapBounds(g.conf.Centre, float64(g.conf.MapSize)+2*backgroundMargin, g.conf.Rotation)
	data, err := g.conf.Overpass.Fetch(ctx, bounds)
	if err != nil {
		return err
	}
	g.data = data
	g.conf.Metrics.AddOps("osm", uint64(len(data.Features)))
	return nil
}

func (g *Generator) runDEM(ctx context.Context) error {
	water := g.waterFeatures()
	d, err := dem.Config{
		Log:         g.conf.Log,
		Provider:    g.conf.Provider,
		Grid:        g.demGrid,
		HeightScale: g.conf.HeightScale,
		BlurRadius:  g.conf.BlurRadius,
		Plateau:     g.conf.Plateau,
		WaterDepth:  g.conf.WaterDepth,
		Water:       water,
	}.Build(ctx)
	if err != nil {
		return err
	}
	g.dem = d
	f, err := os.Create(filepath.Join(g.conf.OutputDir, "dem.png"))
	if err != nil {
		return fmt.Errorf("create dem.png: %w", err)
	}
	defer f.Close()
	if err := d.Encode(f); err != nil {
		return err
	}
	return f.Close()
}

// waterFeatures returns the water features of the extract, selected by the
// texture schema's water layers. Callers run after the osm job.
func (g *Generator) waterFeatures() []osm.Feature {
	if g.data == nil {
		return nil
	}
	var out []osm.Feature
	for _, layer := range g.conf.Schemas.Texture().ByUsage("water") {
		out = append(out, g.data.Filter(layer.Tags)...)
	}
	return out
}

func (g *Generator) runTexture(ctx context.Context) error {
	res, err := texture.Config{
		Log:    g.conf.Log,
		Grid:   g.grid,
		Schema: g.conf.Schemas.Texture(),
		Data:   g.data,
	}.Rasterize(ctx)
	if err != nil {
		return err
	}
	g.tex = res
	return res.WriteFiles(g.conf.OutputDir)
}

func (g *Generator) runFarmlands(context.Context) error {
	var features []osm.Feature
	for _, layer := range g.conf.Schemas.Texture().ByUsage("field") {
		features = append(features, g.data.Filter(layer.Tags)...)
	}
	fl, err := grle.FarmlandsConfig{
		Log:      g.conf.Log,
		Grid:     g.grid,
		Features: features,
		Margin:   2,
	}.Build()
	if err != nil {
		return err
	}
	g.farmlands = fl
	if err := fl.WriteGRLE(filepath.Join(g.conf.OutputDir, "infoLayer_farmlands.grle")); err != nil {
		return err
	}
	return fl.WriteXML(filepath.Join(g.conf.OutputDir, "farmlands.xml"))
}

func (g *Generator) runRoads(context.Context) error {
	n, err := roads.Config{
		Log:    g.conf.Log,
		Grid:   g.grid,
		Data:   g.data,
		Layers: g.conf.Schemas.Texture().ByUsage("road"),
	}.Build()
	if err != nil {
		return err
	}
	g.network = n
	g.conf.Metrics.AddOps("roads", uint64(len(n.Segments)))
	return nil
}

func (g *Generator) runMesh(context.Context) error {
	meshDir := filepath.Join(g.conf.OutputDir, "meshes")
	written := 0
	write := func(name string, m *mesh.Mesh) error {
		if m.TriangleCount() == 0 {
			return nil
		}
		f, err := os.Create(filepath.Join(meshDir, name))
		if err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
		defer f.Close()
		if err := m.WriteOBJ(f); err != nil {
			return err
		}
		written++
		return f.Close()
	}

	if g.conf.Background {
		terrain, err := mesh.TerrainConfig{
			DEM:        g.dem,
			PixelSize:  g.demGrid.PixelSize(),
			Decimation: g.conf.Decimation,
		}.Terrain()
		if err != nil {
			return err
		}
		if err := write("background.obj", terrain); err != nil {
			return err
		}
	}

	height := g.heightAt
	for i, seg := range g.network.Segments {
		if err := write(fmt.Sprintf("road_%03d.obj", i+1), mesh.Road(seg, height)); err != nil {
			return err
		}
	}
	for i, j := range g.network.Junctions {
		if err := write(fmt.Sprintf("junction_%03d.obj", i+1), mesh.Junction(j, height)); err != nil {
			return err
		}
	}

	waterSurface := g.dem.BaseElevation + g.conf.Plateau - g.conf.WaterDepth/2
	for i, f := range g.waterFeatures() {
		if f.Kind != osm.KindPolygon {
			continue
		}
		if err := write(fmt.Sprintf("water_%03d.obj", i+1), mesh.WaterPlane(g.grid, f, waterSurface)); err != nil {
			return err
		}
	}
	g.meshes = written
	g.conf.Metrics.AddOps("mesh", uint64(written))
	return nil
}

func (g *Generator) runScene(context.Context) error {
	doc, err := i3d.Config{
		Log:         g.conf.Log,
		Grid:        g.grid,
		Name:        g.conf.Name,
		Trees:       g.conf.Schemas.Trees(),
		Buildings:   g.conf.Schemas.Buildings(),
		TreeSpacing: g.conf.TreeSpacing,
		Seed:        g.conf.Seed,
		Height:      g.heightAt,
	}.Build(g.data, g.network.Segments)
	if err != nil {
		return err
	}
	g.scene = doc
	g.planted = countTrees(doc)

	f, err := os.Create(filepath.Join(g.conf.OutputDir, g.conf.Name+".i3d"))
	if err != nil {
		return fmt.Errorf("create scene file: %w", err)
	}
	defer f.Close()
	if _, err := doc.WriteTo(f); err != nil {
		return err
	}
	return f.Close()
}

func (g *Generator) runSatellite(ctx context.Context) error {
	img, err := satellite.Config{
		Log:     g.conf.Log,
		Cache:   g.conf.Cache,
		Grid:    g.demGrid,
		URL:     g.conf.SatelliteURL,
		Zoom:    g.conf.SatelliteZoom,
		Workers: g.conf.TileWorkers,
	}.Build(ctx)
	if err != nil {
		return err
	}
	if err := satellite.WriteFiles(g.conf.OutputDir, img); err != nil {
		return err
	}
	g.satFile = true
	return nil
}

// heightAt resolves the terrain height in metres at a map-local position,
// sampling the DEM with the nearest pixel.
func (g *Generator) heightAt(pos mgl64.Vec2) float64 {
	if g.dem == nil {
		return 0
	}
	size := g.dem.Size
	ps := g.demGrid.PixelSize()
	x := int(math.Round(pos.X()/ps + float64(size)/2))
	y := int(math.Round(float64(size)/2 - pos.Y()/ps))
	x = min(max(x, 0), size-1)
	y = min(max(y, 0), size-1)
	return g.dem.Height(x, y)
}

func countTrees(doc *i3d.Document) int {
	for _, group := range doc.Scene.Groups {
		if group.Name != "forests" {
			continue
		}
		n := 0
		for _, forest := range group.Groups {
			n += len(forest.Groups)
		}
		return n
	}
	return 0
}
