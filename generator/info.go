package generator

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/maps4go/maps4go/generator/geo"
	"github.com/maps4go/maps4go/generator/i3d"
)

// Info is the generation report written as generation_info.json next to the
// generated files. Consumers use it to locate the map on the globe and to
// see what each component produced.
type Info struct {
	TaskID      string      `json:"task_id"`
	Name        string      `json:"name"`
	Coordinates Coordinates `json:"coordinates"`
	BBox        BBoxInfo    `json:"bbox"`
	MapSize     int         `json:"map_size"`
	Rotation    float64     `json:"rotation"`
	DTMProvider string      `json:"dtm_provider"`
	GeneratedAt time.Time   `json:"generated_at"`

	DEM       *DEMInfo       `json:"dem,omitempty"`
	Textures  *TexturesInfo  `json:"textures,omitempty"`
	Farmlands *FarmlandsInfo `json:"farmlands,omitempty"`
	Roads     *RoadsInfo     `json:"roads,omitempty"`
	Scene     *SceneInfo     `json:"scene,omitempty"`
	Satellite *SatelliteInfo `json:"satellite,omitempty"`
}

// Coordinates is the map centre.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BBoxInfo is the geographic extent of the playable area.
type BBoxInfo struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// DEMInfo reports the generated heightmap.
type DEMInfo struct {
	File          string  `json:"file"`
	Size          int     `json:"size"`
	BaseElevation float64 `json:"base_elevation"`
	HeightScale   float64 `json:"height_scale"`
}

// TexturesInfo reports the weight maps.
type TexturesInfo struct {
	Layers int `json:"layers"`
	Files  int `json:"files"`
}

// FarmlandsInfo reports the farmland info layer.
type FarmlandsInfo struct {
	Count int `json:"count"`
}

// RoadsInfo reports the road network.
type RoadsInfo struct {
	Roads     int `json:"roads"`
	Segments  int `json:"segments"`
	Junctions int `json:"junctions"`
	Meshes    int `json:"meshes"`
}

// SceneInfo reports the scene file contents.
type SceneInfo struct {
	File      string `json:"file"`
	Trees     int    `json:"trees"`
	Buildings int    `json:"buildings"`
	Fields    int    `json:"fields"`
}

// SatelliteInfo reports the imagery files.
type SatelliteInfo struct {
	File     string `json:"file"`
	Overview string `json:"overview"`
}

// Write writes the report as indented JSON.
func (i *Info) Write(path string) error {
	data, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return fmt.Errorf("generator: encode info: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("generator: write info: %w", err)
	}
	return nil
}

// info assembles the report from the component results.
func (g *Generator) info() *Info {
	conf := g.conf
	bounds := geo.MapBounds(conf.Centre, float64(conf.MapSize), conf.Rotation)
	info := &Info{
		TaskID:      g.id.String(),
		Name:        conf.Name,
		Coordinates: Coordinates{Lat: conf.Centre.Lat, Lon: conf.Centre.Lon},
		BBox: BBoxInfo{
			South: bounds.South, West: bounds.West,
			North: bounds.North, East: bounds.East,
		},
		MapSize:     conf.MapSize,
		Rotation:    conf.Rotation,
		DTMProvider: conf.Provider.Name(),
		GeneratedAt: time.Now().UTC(),
	}
	if g.dem != nil {
		info.DEM = &DEMInfo{
			File:          "dem.png",
			Size:          g.dem.Size,
			BaseElevation: g.dem.BaseElevation,
			HeightScale:   g.dem.HeightScale,
		}
	}
	if g.tex != nil {
		files := 0
		for _, l := range g.tex.Schema.Layers {
			if !l.ExcludeWeight {
				files += l.Count
			}
		}
		info.Textures = &TexturesInfo{Layers: len(g.tex.Schema.Layers), Files: files}
	}
	if g.farmlands != nil {
		info.Farmlands = &FarmlandsInfo{Count: len(g.farmlands.Entries)}
	}
	if g.network != nil {
		info.Roads = &RoadsInfo{
			Roads:     len(g.network.Roads),
			Segments:  len(g.network.Segments),
			Junctions: len(g.network.Junctions),
			Meshes:    g.meshes,
		}
	}
	if g.scene != nil {
		info.Scene = &SceneInfo{
			File:      conf.Name + ".i3d",
			Trees:     g.planted,
			Buildings: countGroup(g.scene, "buildings"),
			Fields:    countGroup(g.scene, "fields"),
		}
	}
	if g.satFile {
		info.Satellite = &SatelliteInfo{File: "satellite.png", Overview: "overview.jpg"}
	}
	return info
}

func countGroup(doc *i3d.Document, name string) int {
	for _, group := range doc.Scene.Groups {
		if group.Name == name {
			return len(group.Groups)
		}
	}
	return 0
}
