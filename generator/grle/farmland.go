package grle

import (
	"encoding/xml"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"

	"github.com/maps4go/maps4go/generator/geo"
	"github.com/maps4go/maps4go/generator/internal/raster"
	"github.com/maps4go/maps4go/generator/osm"
)

// FarmlandsConfig holds the inputs of the farmland info layer.
type FarmlandsConfig struct {
	Log  *slog.Logger
	Grid geo.Grid
	// Features are the farmland candidate polygons, typically OSM
	// landuse=farmland and landuse=meadow.
	Features []osm.Feature
	// PricePerHa is the in-game base price per hectare written to
	// farmlands.xml. Defaults to 60000.
	PricePerHa float64
	// Margin grows each farmland by this many pixels so bought land covers
	// the field edges.
	Margin int
}

// Farmland is one numbered purchasable land area.
type Farmland struct {
	ID int `xml:"id,attr"`
	// PriceScale scales the per-hectare base price.
	PriceScale float64 `xml:"priceScale,attr"`
	// AreaHa is the polygon area in hectares.
	AreaHa float64 `xml:"areaHa,attr"`
	// NPCFarm owns the land until the player buys it.
	NPCFarm bool `xml:"npcFarm,attr"`
}

// Farmlands is a built farmland info layer.
type Farmlands struct {
	Size       int
	IDs        []uint16
	Entries    []Farmland
	pricePerHa float64
}

// Build numbers the farmland polygons and rasterizes their ids. Ids are
// assigned in ascending OSM id order so regenerating the same area keeps
// farmland numbers stable.
func (conf FarmlandsConfig) Build() (*Farmlands, error) {
	if conf.PricePerHa <= 0 {
		conf.PricePerHa = 60000
	}
	log := conf.Log
	if log == nil {
		log = slog.Default()
	}

	polys := make([]osm.Feature, 0, len(conf.Features))
	for _, f := range conf.Features {
		if f.Kind == osm.KindPolygon {
			polys = append(polys, f)
		}
	}
	sort.Slice(polys, func(i, j int) bool { return polys[i].ID < polys[j].ID })

	size := conf.Grid.Size()
	fl := &Farmlands{
		Size:       size,
		IDs:        make([]uint16, size*size),
		pricePerHa: conf.PricePerHa,
	}
	for i, f := range polys {
		id := i + 1
		if id > 0xffff {
			return nil, fmt.Errorf("grle: more than %d farmlands", 0xffff)
		}
		rings := make([][][2]float64, 0, 1+len(f.Inner))
		rings = append(rings, conf.Grid.Project(f.Points))
		for _, inner := range f.Inner {
			rings = append(rings, conf.Grid.Project(inner))
		}
		painted := 0
		raster.FillPolygon(size, size, rings, func(x, y int) {
			fl.IDs[y*size+x] = uint16(id)
			painted++
		})
		if painted == 0 {
			log.Debug("Farmland polygon rasterized to nothing.", "osm_id", f.ID)
		}
		fl.Entries = append(fl.Entries, Farmland{
			ID:         id,
			PriceScale: 1,
			AreaHa:     ringAreaHa(conf.Grid, f.Points),
			NPCFarm:    true,
		})
	}
	if conf.Margin > 0 {
		fl.grow(conf.Margin)
	}
	log.Info("Built farmland info layer.", "farmlands", len(fl.Entries))
	return fl, nil
}

// grow dilates every farmland by the given number of pixels, without
// letting farmlands eat into each other.
func (fl *Farmlands) grow(pixels int) {
	for n := 0; n < pixels; n++ {
		src := append([]uint16(nil), fl.IDs...)
		for y := 0; y < fl.Size; y++ {
			for x := 0; x < fl.Size; x++ {
				if src[y*fl.Size+x] != 0 {
					continue
				}
				fl.IDs[y*fl.Size+x] = neighbourID(src, fl.Size, x, y)
			}
		}
	}
}

func neighbourID(src []uint16, size, x, y int) uint16 {
	for _, d := range [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
		nx, ny := x+d[0], y+d[1]
		if nx < 0 || ny < 0 || nx >= size || ny >= size {
			continue
		}
		if v := src[ny*size+nx]; v != 0 {
			return v
		}
	}
	return 0
}

// ringAreaHa computes the polygon area in hectares via the shoelace formula
// over projected map metres.
func ringAreaHa(grid geo.Grid, ring []geo.Point) float64 {
	if len(ring) < 3 {
		return 0
	}
	area := 0.0
	for i := 0; i < len(ring)-1; i++ {
		a := grid.MetresAt(ring[i])
		b := grid.MetresAt(ring[i+1])
		area += a.X()*b.Y() - b.X()*a.Y()
	}
	return math.Abs(area) / 2 / 10000
}

// WriteGRLE writes the id raster as infoLayer_farmlands.grle at path.
func (fl *Farmlands) WriteGRLE(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("grle: create %s: %w", path, err)
	}
	if err := Encode(f, fl.Size, fl.Size, fl.IDs); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// farmlandsXML is the document shape of farmlands.xml.
type farmlandsXML struct {
	XMLName    xml.Name   `xml:"farmlands"`
	InfoLayer  string     `xml:"infoLayer,attr"`
	PricePerHa float64    `xml:"pricePerHa,attr"`
	Farmlands  []Farmland `xml:"farmland"`
}

// WriteXML writes farmlands.xml at path.
func (fl *Farmlands) WriteXML(path string) error {
	doc := farmlandsXML{
		InfoLayer:  "farmlands",
		PricePerHa: fl.pricePerHa,
		Farmlands:  fl.Entries,
	}
	out, err := xml.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("grle: marshal farmlands.xml: %w", err)
	}
	out = append([]byte(xml.Header), out...)
	out = append(out, '\n')
	if err := os.WriteFile(path, out, 0666); err != nil {
		return fmt.Errorf("grle: write %s: %w", path, err)
	}
	return nil
}
