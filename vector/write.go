/*
Copyright © 2024 the InMAP authors.
This file is part of InMAP.

InMAP is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

InMAP is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with InMAP.  If not, see <http://www.gnu.org/licenses/>.
*/

package vector

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/geojson"
	"github.com/ctessum/geom/encoding/shp"
	goshp "github.com/jonas-p/go-shp"
	"github.com/spf13/cast"
)

// Write stores c in the file at path, choosing the format from the file
// extension as Read does.
func Write(path string, c *Collection) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return WriteShapefile(path, c)
	case ".geojson", ".json":
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("vector: %v", err)
		}
		if err := WriteGeoJSON(f, c); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	default:
		return fmt.Errorf("vector: %s: %w", path, ErrUnsupportedFormat)
	}
}

// WriteShapefile writes the polygonal features of c to a polygon
// shapefile. Multi-polygons are stored as single multi-ring shapes.
// Other geometry types cause an error wrapping ErrUnsupportedGeometry.
// The spatial reference of c, if any, is written to the ".prj" file; it
// must have been created by ParseCRS. Column names are cut to the 10
// characters dBase allows, and names that would clash are numbered.
func WriteShapefile(path string, c *Collection) (err error) {
	if c.SR != nil {
		def, ok := CRSDefinition(c.SR)
		if !ok {
			return fmt.Errorf("vector: writing shapefile %s: %w", path, ErrUnknownCRS)
		}
		prj := strings.TrimSuffix(path, filepath.Ext(path)) + ".prj"
		if err := os.WriteFile(prj, []byte(def), 0644); err != nil {
			return fmt.Errorf("vector: writing projection of %s: %v", path, err)
		}
	}
	names := shpFieldNames(c.Columns)
	fields := make([]goshp.Field, len(c.Columns))
	for i, col := range c.Columns {
		fields[i] = shpField(names[i], columnValue(c, col))
	}
	e, err := shp.NewEncoderFromFields(path, goshp.POLYGON, fields...)
	if err != nil {
		return fmt.Errorf("vector: creating shapefile %s: %v", path, err)
	}
	defer e.Close()
	defer catch("write "+path, &err)

	for i, f := range c.Features {
		g, err := fromGEOS(f.Geom)
		if err != nil {
			return err
		}
		var p geom.Polygon
		switch t := g.(type) {
		case geom.Polygon:
			p = t
		case geom.MultiPolygon:
			for _, pp := range t {
				p = append(p, pp...)
			}
		default:
			return fmt.Errorf("vector: shapefile feature %d is a %s: %w", i, f.Type(), ErrUnsupportedGeometry)
		}
		vals := make([]interface{}, len(c.Columns))
		for j, col := range c.Columns {
			vals[j] = shpAttribute(f.Properties[col])
		}
		if err := e.EncodeFields(p, vals...); err != nil {
			return fmt.Errorf("vector: writing shapefile feature %d: %v", i, err)
		}
	}
	return nil
}

// columnValue returns the first non-nil value of col in c.
func columnValue(c *Collection, col string) interface{} {
	for _, f := range c.Features {
		if v := f.Properties[col]; v != nil {
			return v
		}
	}
	return nil
}

// shpFieldNames returns dBase field names for columns: at most 10
// characters long and unique regardless of case.
func shpFieldNames(columns []string) []string {
	cut := func(s string, n int) string {
		if len(s) > n {
			return s[:n]
		}
		return s
	}
	out := make([]string, len(columns))
	used := make(map[string]bool, len(columns))
	for i, col := range columns {
		name := cut(col, 10)
		for n := 1; used[strings.ToLower(name)]; n++ {
			suffix := "_" + strconv.Itoa(n)
			name = cut(col, 10-len(suffix)) + suffix
		}
		used[strings.ToLower(name)] = true
		out[i] = name
	}
	return out
}

// shpField returns a dBase field definition able to hold values like v.
func shpField(name string, v interface{}) goshp.Field {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return goshp.NumberField(name, 18)
	case float32, float64:
		return goshp.FloatField(name, 24, 10)
	default:
		return goshp.StringField(name, 254)
	}
}

func shpAttribute(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return ""
	case bool:
		if t {
			return "T"
		}
		return "F"
	case string, int, float64:
		return t
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return cast.ToInt(t)
	case float32:
		return cast.ToFloat64(t)
	default:
		return cast.ToString(v)
	}
}

type geoJSONOutGeometry struct {
	Type        string                `json:"type"`
	Coordinates interface{}           `json:"coordinates,omitempty"`
	Geometries  []*geoJSONOutGeometry `json:"geometries,omitempty"`
}

type geoJSONOutFeature struct {
	Type       string                 `json:"type"`
	Geometry   *geoJSONOutGeometry    `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

type geoJSONOutCollection struct {
	Type     string               `json:"type"`
	Features []*geoJSONOutFeature `json:"features"`
}

// MarshalGeoJSON encodes c as a GeoJSON FeatureCollection.
func MarshalGeoJSON(c *Collection) (b []byte, err error) {
	defer catch("encode GeoJSON", &err)
	fc := geoJSONOutCollection{Type: "FeatureCollection", Features: []*geoJSONOutFeature{}}
	for i, f := range c.Features {
		g, err := fromGEOS(f.Geom)
		if err != nil {
			return nil, err
		}
		gj, err := toGeoJSON(g)
		if err != nil {
			return nil, fmt.Errorf("vector: GeoJSON feature %d: %w", i, err)
		}
		props := make(map[string]interface{}, len(c.Columns))
		for _, col := range c.Columns {
			props[col] = f.Properties[col]
		}
		fc.Features = append(fc.Features, &geoJSONOutFeature{Type: "Feature", Geometry: gj, Properties: props})
	}
	return json.Marshal(fc)
}

// WriteGeoJSON writes c to w as a GeoJSON FeatureCollection.
func WriteGeoJSON(w io.Writer, c *Collection) error {
	b, err := MarshalGeoJSON(c)
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("vector: writing GeoJSON: %v", err)
	}
	return nil
}

func toGeoJSON(g geom.Geom) (*geoJSONOutGeometry, error) {
	single := func(g geom.Geom) (interface{}, error) {
		gj, err := geojson.ToGeoJSON(g)
		if err != nil {
			return nil, err
		}
		return gj.Coordinates, nil
	}
	multi := func(typ string, n int, part func(i int) geom.Geom) (*geoJSONOutGeometry, error) {
		coords := make([]interface{}, n)
		for i := range coords {
			c, err := single(part(i))
			if err != nil {
				return nil, err
			}
			coords[i] = c
		}
		return &geoJSONOutGeometry{Type: typ, Coordinates: coords}, nil
	}
	switch t := g.(type) {
	case geom.Point, geom.LineString, geom.Polygon:
		gj, err := geojson.ToGeoJSON(t)
		if err != nil {
			return nil, err
		}
		return &geoJSONOutGeometry{Type: gj.Type, Coordinates: gj.Coordinates}, nil
	case geom.MultiPoint:
		return multi("MultiPoint", len(t), func(i int) geom.Geom { return t[i] })
	case geom.MultiLineString:
		return multi("MultiLineString", len(t), func(i int) geom.Geom { return t[i] })
	case geom.MultiPolygon:
		return multi("MultiPolygon", len(t), func(i int) geom.Geom { return t[i] })
	case geom.GeometryCollection:
		o := &geoJSONOutGeometry{Type: "GeometryCollection", Geometries: []*geoJSONOutGeometry{}}
		for _, gg := range t {
			p, err := toGeoJSON(gg)
			if err != nil {
				return nil, err
			}
			o.Geometries = append(o.Geometries, p)
		}
		return o, nil
	default:
		return nil, fmt.Errorf("%T: %w", g, ErrUnsupportedGeometry)
	}
}
