// Package i3d writes the Giants-style I3D scene that ties the generated
// map together: the terrain transform group, field definitions from
// farmland polygons, forests, road splines and placeholder buildings.
package i3d

import (
	"encoding/xml"
	"fmt"
	"io"

	"github.com/go-gl/mathgl/mgl64"
)

// Document is a complete I3D scene file.
type Document struct {
	XMLName xml.Name `xml:"i3D"`
	Name    string   `xml:"name,attr"`
	Version string   `xml:"version,attr"`
	Shapes  *Shapes  `xml:"Shapes,omitempty"`
	Scene   Scene    `xml:"Scene"`
}

// Shapes holds the shared geometry referenced from the scene.
type Shapes struct {
	Curves []*NurbsCurve `xml:"NurbsCurve"`
}

// NurbsCurve is a spline shape, used for road centrelines.
type NurbsCurve struct {
	Name    string `xml:"name,attr"`
	ShapeID int    `xml:"shapeId,attr"`
	Degree  int    `xml:"degree,attr"`
	Form    string `xml:"form,attr"`
	Points  []CV   `xml:"cv"`
}

// CV is one control vertex of a curve.
type CV struct {
	C string `xml:"c,attr"`
}

// Scene is the node tree of the document.
type Scene struct {
	Groups []*TransformGroup `xml:"TransformGroup"`
}

// TransformGroup is a scene node. ReferenceID, when set, points at a
// placeholder asset resolved by the game.
type TransformGroup struct {
	Name        string            `xml:"name,attr"`
	NodeID      int               `xml:"nodeId,attr"`
	Translation string            `xml:"translation,attr,omitempty"`
	Rotation    string            `xml:"rotation,attr,omitempty"`
	Scale       string            `xml:"scale,attr,omitempty"`
	ReferenceID int               `xml:"referenceId,attr,omitempty"`
	Groups      []*TransformGroup `xml:"TransformGroup"`
	Shapes      []*ShapeRef       `xml:"Shape"`
}

// ShapeRef places a shared shape in the scene.
type ShapeRef struct {
	Name    string `xml:"name,attr"`
	NodeID  int    `xml:"nodeId,attr"`
	ShapeID int    `xml:"shapeId,attr"`
}

// WriteTo writes the document as indented XML.
func (d *Document) WriteTo(w io.Writer) (int64, error) {
	var written int64
	n, err := io.WriteString(w, xml.Header)
	written += int64(n)
	if err != nil {
		return written, fmt.Errorf("i3d: write header: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(d); err != nil {
		return written, fmt.Errorf("i3d: encode scene: %w", err)
	}
	return written, nil
}

// vec3 formats a world position as an I3D attribute value.
func vec3(v mgl64.Vec3) string {
	return fmt.Sprintf("%.3f %.3f %.3f", v.X(), v.Y(), v.Z())
}
