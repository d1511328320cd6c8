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
	"sort"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/geojson"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/proj"
	goshp "github.com/jonas-p/go-shp"
	"github.com/spf13/cast"
)

// Read loads the features stored in the file at path that satisfy filter,
// which may be nil. Shapefiles (".shp") and GeoJSON files (".geojson",
// ".json") are supported. The filter is evaluated on the raw attribute
// values of each row before its geometry is decoded.
func Read(path string, filter *Filter) (*Collection, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return readShapefile(path, filter)
	case ".geojson", ".json":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("vector: %v", err)
		}
		defer f.Close()
		c, err := ReadGeoJSON(f, filter)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("vector: %s: %w", path, ErrUnsupportedFormat)
	}
}

func readShapefile(path string, filter *Filter) (c *Collection, err error) {
	d, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("vector: opening shapefile %s: %v", path, err)
	}
	defer d.Close()

	c = new(Collection)
	prj, err := os.ReadFile(strings.TrimSuffix(path, filepath.Ext(path)) + ".prj")
	switch {
	case err == nil:
		if c.SR, err = ParseCRS(string(prj)); err != nil {
			return nil, fmt.Errorf("vector: reading projection of %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("vector: reading projection of %s: %v", path, err)
	}

	fields := d.Fields()
	for _, f := range fields {
		c.Columns = append(c.Columns, f.String())
	}
	if err := filter.Check(c.Columns); err != nil {
		return nil, err
	}

	defer catch("read "+path, &err)
	for {
		g, attrs, more := d.DecodeRowFields(c.Columns...)
		if !more {
			break
		}
		props := make(map[string]interface{}, len(fields))
		for i, f := range fields {
			props[c.Columns[i]] = shpValue(f, attrs[c.Columns[i]])
		}
		ok, err := filter.Match(props)
		if err != nil {
			return nil, err
		}
		if !ok || g == nil {
			continue
		}
		gg, err := toGEOS(g)
		if err != nil {
			return nil, fmt.Errorf("vector: %s: %w", path, err)
		}
		c.Features = append(c.Features, &Feature{Geom: gg, Properties: props})
	}
	if err := d.Error(); err != nil {
		return nil, fmt.Errorf("vector: reading %s: %v", path, err)
	}
	return c, nil
}

// shpValue converts a raw dBase attribute to a typed value.
func shpValue(f goshp.Field, raw string) interface{} {
	raw = strings.TrimSpace(raw)
	switch f.Fieldtype {
	case 'N':
		if f.Precision == 0 {
			if v, err := cast.ToInt64E(raw); err == nil {
				return v
			}
		}
		fallthrough
	case 'F':
		if v, err := cast.ToFloat64E(raw); err == nil {
			return v
		}
		return nil
	case 'L':
		switch strings.ToUpper(raw) {
		case "T", "Y":
			return true
		case "F", "N":
			return false
		}
		return nil
	default:
		return raw
	}
}

type geoJSONCRS struct {
	Type       string `json:"type"`
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

type geoJSONGeometry struct {
	Type        string             `json:"type"`
	Coordinates json.RawMessage    `json:"coordinates,omitempty"`
	Geometries  []*geoJSONGeometry `json:"geometries,omitempty"`
}

type geoJSONFeature struct {
	Type       string                 `json:"type"`
	Geometry   *geoJSONGeometry       `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

type geoJSONDocument struct {
	geoJSONGeometry
	CRS      *geoJSONCRS       `json:"crs,omitempty"`
	Features []*geoJSONFeature `json:"features,omitempty"`

	// Geometry and Properties are set for a single Feature document.
	Geometry   *geoJSONGeometry       `json:"geometry,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// ReadGeoJSON decodes a GeoJSON FeatureCollection, Feature or bare
// geometry from r. A legacy "crs" member naming an EPSG code is honored;
// otherwise coordinates are taken to be WGS84 longitude and latitude.
func ReadGeoJSON(r io.Reader, filter *Filter) (c *Collection, err error) {
	var doc geoJSONDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("vector: decoding GeoJSON: %v", err)
	}
	c = new(Collection)
	if c.SR, err = geoJSONSR(doc.CRS); err != nil {
		return nil, err
	}

	var feats []*geoJSONFeature
	switch doc.Type {
	case "FeatureCollection":
		feats = doc.Features
	case "Feature":
		feats = []*geoJSONFeature{{Type: "Feature", Geometry: doc.Geometry, Properties: doc.Properties}}
	case "":
		return nil, fmt.Errorf("vector: GeoJSON object has no type")
	default:
		g := doc.geoJSONGeometry
		feats = []*geoJSONFeature{{Type: "Feature", Geometry: &g}}
	}

	seen := make(map[string]bool)
	for _, f := range feats {
		for k := range f.Properties {
			if !seen[k] {
				seen[k] = true
				c.Columns = append(c.Columns, k)
			}
		}
	}
	// JSON objects are unordered; sort the schema for stable output.
	sort.Strings(c.Columns)
	if len(feats) > 0 {
		if err := filter.Check(c.Columns); err != nil {
			return nil, err
		}
	}

	defer catch("read GeoJSON", &err)
	for i, f := range feats {
		props := make(map[string]interface{}, len(c.Columns))
		for _, col := range c.Columns {
			props[col] = f.Properties[col]
		}
		ok, err := filter.Match(props)
		if err != nil {
			return nil, err
		}
		if !ok || f.Geometry == nil {
			continue
		}
		g, err := fromGeoJSON(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("vector: GeoJSON feature %d: %w", i, err)
		}
		gg, err := toGEOS(g)
		if err != nil {
			return nil, err
		}
		c.Features = append(c.Features, &Feature{Geom: gg, Properties: props})
	}
	return c, nil
}

func geoJSONSR(crs *geoJSONCRS) (*proj.SR, error) {
	if crs == nil || crs.Properties.Name == "" {
		return ParseCRS("EPSG:4326")
	}
	name := crs.Properties.Name
	// urn:ogc:def:crs:EPSG::3857 and urn:ogc:def:crs:OGC:1.3:CRS84
	if strings.HasPrefix(strings.ToLower(name), "urn:ogc:def:crs:") {
		parts := strings.Split(name, ":")
		code := parts[len(parts)-1]
		if strings.EqualFold(code, "CRS84") {
			return ParseCRS("EPSG:4326")
		}
		name = "EPSG:" + code
	}
	return ParseCRS(name)
}

// fromGeoJSON decodes g into a github.com/ctessum/geom geometry. Single
// geometries are handled by the geojson package; multi-part geometries and
// collections are split into parts first.
func fromGeoJSON(g *geoJSONGeometry) (geom.Geom, error) {
	decode := func(typ string, coords interface{}) (geom.Geom, error) {
		return geojson.FromGeoJSON(&geojson.Geometry{Type: typ, Coordinates: coords})
	}
	var coords interface{}
	if len(g.Coordinates) > 0 {
		if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
			return nil, err
		}
	}
	switch g.Type {
	case "Point", "LineString", "Polygon":
		return decode(g.Type, coords)
	case "MultiPoint", "MultiLineString", "MultiPolygon":
		parts, _ := coords.([]interface{})
		single := strings.TrimPrefix(g.Type, "Multi")
		var mp geom.MultiPoint
		var ml geom.MultiLineString
		var mpoly geom.MultiPolygon
		for _, p := range parts {
			gg, err := decode(single, p)
			if err != nil {
				return nil, err
			}
			switch t := gg.(type) {
			case geom.Point:
				mp = append(mp, t)
			case geom.LineString:
				ml = append(ml, t)
			case geom.Polygon:
				mpoly = append(mpoly, t)
			}
		}
		switch single {
		case "Point":
			return mp, nil
		case "LineString":
			return ml, nil
		default:
			return mpoly, nil
		}
	case "GeometryCollection":
		var gc geom.GeometryCollection
		for _, p := range g.Geometries {
			gg, err := fromGeoJSON(p)
			if err != nil {
				return nil, err
			}
			gc = append(gc, gg)
		}
		return gc, nil
	default:
		return nil, fmt.Errorf("GeoJSON type %q: %w", g.Type, ErrUnsupportedGeometry)
	}
}
