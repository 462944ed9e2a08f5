package generator

import (
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml"

	"github.com/maps4go/maps4go/generator/cache"
	"github.com/maps4go/maps4go/generator/dtm"
	"github.com/maps4go/maps4go/generator/geo"
	"github.com/maps4go/maps4go/generator/osm"
	"github.com/maps4go/maps4go/generator/schema"
)

// UserConfig is the user configuration of a map generation. It is stored as
// TOML and may be converted to a Config by calling UserConfig.Config().
// Every field can be overridden through the environment for container
// deployments; the variable names are given in the env tags.
type UserConfig struct {
	Map struct {
		// Name is the map name used for the scene and output naming.
		Name string `env:"MAPS4GO_MAP_NAME"`
		// Lat and Lon are the geographic centre of the map.
		Lat float64 `env:"MAPS4GO_LAT"`
		Lon float64 `env:"MAPS4GO_LON"`
		// Size is the playable edge length in metres. Must be a power of
		// two between 1024 and 16384.
		Size int `env:"MAPS4GO_SIZE"`
		// Rotation turns the map clockwise by this many degrees, so roads
		// or coastlines can run parallel to the map edges.
		Rotation float64 `env:"MAPS4GO_ROTATION"`
		// Output is the directory the generated map is written to.
		Output string `env:"MAPS4GO_OUTPUT"`
	}
	DEM struct {
		// Provider selects the elevation source by name, e.g. "srtm30",
		// "flat" or "file".
		Provider string `env:"MAPS4GO_DTM_PROVIDER"`
		// ProviderOptions holds provider-specific settings, e.g. the
		// mirror url of srtm30 or the path of the file provider.
		ProviderOptions map[string]string
		// HeightScale is the elevation range in metres mapped onto the
		// full 16-bit range of the heightmap.
		HeightScale float64 `env:"MAPS4GO_HEIGHT_SCALE"`
		// BlurRadius smooths the heightmap with a box blur of this pixel
		// radius. 0 keeps the raw samples.
		BlurRadius int `env:"MAPS4GO_BLUR_RADIUS"`
		// Plateau raises the whole terrain by this many metres above the
		// heightmap floor, leaving room to carve below the lowest point.
		Plateau float64 `env:"MAPS4GO_PLATEAU"`
		// WaterDepth lowers terrain under water polygons by this many
		// metres.
		WaterDepth float64 `env:"MAPS4GO_WATER_DEPTH"`
	}
	Texture struct {
		// SchemaFile, TreeSchemaFile and BuildingSchemaFile override the
		// built-in schemas. Empty values select the embedded defaults.
		SchemaFile         string `env:"MAPS4GO_TEXTURE_SCHEMA"`
		TreeSchemaFile     string `env:"MAPS4GO_TREE_SCHEMA"`
		BuildingSchemaFile string `env:"MAPS4GO_BUILDING_SCHEMA"`
	}
	Background struct {
		// Enabled adds the 2048 m background terrain ring around the
		// playable area: the DEM margin and the background mesh.
		Enabled bool `env:"MAPS4GO_BACKGROUND"`
		// Decimation merges this many DEM pixels into one background mesh
		// quad.
		Decimation int `env:"MAPS4GO_DECIMATION"`
		// TreeSpacing is the forest planting grid step in metres.
		TreeSpacing float64 `env:"MAPS4GO_TREE_SPACING"`
		// Seed makes tree placement reproducible.
		Seed uint64 `env:"MAPS4GO_SEED"`
	}
	Satellite struct {
		// Enabled downloads and stitches satellite imagery for the map.
		Enabled bool `env:"MAPS4GO_SATELLITE"`
		// URL is the XYZ tile template with {z}, {x} and {y} tokens.
		URL string `env:"MAPS4GO_SATELLITE_URL"`
		// Zoom fixes the tile zoom level; 0 picks one matching the map
		// resolution.
		Zoom int `env:"MAPS4GO_SATELLITE_ZOOM"`
		// Workers bounds concurrent tile downloads.
		Workers int `env:"MAPS4GO_SATELLITE_WORKERS"`
	}
	Overpass struct {
		// Endpoint is the Overpass API interpreter URL.
		Endpoint string `env:"MAPS4GO_OVERPASS_ENDPOINT"`
		// TimeoutSeconds bounds a single Overpass request.
		TimeoutSeconds int `env:"MAPS4GO_OVERPASS_TIMEOUT"`
	}
	Cache struct {
		// Dir is the tile cache directory.
		Dir string `env:"MAPS4GO_CACHE_DIR"`
		// MemoryEntries is the in-memory tile LRU capacity.
		MemoryEntries int `env:"MAPS4GO_CACHE_MEMORY"`
	}
	History struct {
		// File is the run history SQLite database path.
		File string `env:"MAPS4GO_HISTORY_FILE"`
		// Keep is how many runs the prune command retains.
		Keep int `env:"MAPS4GO_HISTORY_KEEP"`
	}
	Serve struct {
		// Address is the HTTP listen address of serve mode.
		Address string `env:"MAPS4GO_SERVE_ADDRESS"`
	}
}

// DefaultConfig returns a configuration with the default values filled out.
func DefaultConfig() UserConfig {
	c := UserConfig{}
	c.Map.Name = "unnamed"
	c.Map.Size = 2048
	c.Map.Output = "output"
	c.DEM.Provider = "srtm30"
	c.DEM.HeightScale = 255
	c.DEM.BlurRadius = 3
	c.DEM.Plateau = 10
	c.DEM.WaterDepth = 3
	c.Background.Enabled = true
	c.Background.Decimation = 4
	c.Background.TreeSpacing = 12
	c.Overpass.TimeoutSeconds = 180
	c.Cache.Dir = "cache"
	c.Cache.MemoryEntries = 64
	c.History.File = "history.db"
	c.History.Keep = 50
	c.Serve.Address = ":8080"
	return c
}

// LoadUserConfig reads the TOML file at path, creating it with the defaults
// if it does not exist, and applies environment overrides on top.
func LoadUserConfig(path string) (UserConfig, error) {
	uc := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		out, err := toml.Marshal(uc)
		if err != nil {
			return uc, fmt.Errorf("encode default config: %w", err)
		}
		if err := os.WriteFile(path, out, 0644); err != nil {
			return uc, fmt.Errorf("write default config: %w", err)
		}
	case err != nil:
		return uc, fmt.Errorf("read config: %w", err)
	default:
		if err := toml.Unmarshal(data, &uc); err != nil {
			return uc, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := env.Parse(&uc); err != nil {
		return uc, fmt.Errorf("apply env overrides: %w", err)
	}
	return uc, nil
}

// Validate checks the map parameters against the supported ranges.
func (uc UserConfig) Validate() error {
	s := uc.Map.Size
	if s < 1024 || s > 16384 || bits.OnesCount(uint(s)) != 1 {
		return fmt.Errorf("config: map size %d must be a power of two between 1024 and 16384", s)
	}
	if uc.Map.Lat < -85 || uc.Map.Lat > 85 {
		return fmt.Errorf("config: latitude %v out of range [-85, 85]", uc.Map.Lat)
	}
	if uc.Map.Lon < -180 || uc.Map.Lon > 180 {
		return fmt.Errorf("config: longitude %v out of range [-180, 180]", uc.Map.Lon)
	}
	if uc.DEM.Provider == "" {
		return fmt.Errorf("config: DTM provider is required")
	}
	return nil
}

// Config converts a UserConfig to a Config, opening the cache and creating
// the DTM provider, Overpass client and schema set.
func (uc UserConfig) Config(log *slog.Logger) (Config, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := uc.Validate(); err != nil {
		return Config{}, err
	}

	c, err := cache.Config{Dir: uc.Cache.Dir, MemoryEntries: uc.Cache.MemoryEntries}.Open()
	if err != nil {
		return Config{}, fmt.Errorf("open cache: %w", err)
	}
	provider, err := dtm.New(uc.DEM.Provider, dtm.Env{
		Log:     log,
		Cache:   c,
		Options: uc.DEM.ProviderOptions,
	})
	if err != nil {
		_ = c.Close()
		return Config{}, fmt.Errorf("create DTM provider: %w", err)
	}
	schemas, err := schema.Load(log, schema.Paths{
		Texture:   uc.Texture.SchemaFile,
		Trees:     uc.Texture.TreeSchemaFile,
		Buildings: uc.Texture.BuildingSchemaFile,
	})
	if err != nil {
		_ = c.Close()
		return Config{}, err
	}

	conf := Config{
		Log:           log,
		Name:          uc.Map.Name,
		Centre:        geo.Point{Lat: uc.Map.Lat, Lon: uc.Map.Lon},
		MapSize:       uc.Map.Size,
		Rotation:      geo.NormalizeRotation(uc.Map.Rotation),
		OutputDir:     uc.Map.Output,
		Provider:      provider,
		Cache:         c,
		Schemas:       schemas,
		HeightScale:   uc.DEM.HeightScale,
		BlurRadius:    uc.DEM.BlurRadius,
		Plateau:       uc.DEM.Plateau,
		WaterDepth:    uc.DEM.WaterDepth,
		Background:    uc.Background.Enabled,
		Decimation:    uc.Background.Decimation,
		TreeSpacing:   uc.Background.TreeSpacing,
		Seed:          uc.Background.Seed,
		Satellite:     uc.Satellite.Enabled,
		SatelliteURL:  uc.Satellite.URL,
		SatelliteZoom: uc.Satellite.Zoom,
		TileWorkers:   uc.Satellite.Workers,
	}
	conf.Overpass = osm.ClientConfig{
		Log:      log,
		Endpoint: uc.Overpass.Endpoint,
		Cache:    c,
		Timeout:  time.Duration(uc.Overpass.TimeoutSeconds) * time.Second,
	}.New()
	return conf, nil
}
