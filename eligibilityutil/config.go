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

package eligibilityutil

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spatialmodel/eligibility"
	"github.com/spatialmodel/eligibility/vector"
	"github.com/spf13/cast"
)

// AnalysisFile is the file form of an eligibility analysis, as read from
// the TOML configuration file or a JSON request body.
//
//	SliverThreshold = 100.0
//	CRS = "EPSG:25832"
//
//	[BaseArea]
//	Source = "${DATA}/region.shp"
//
//	[[Included]]
//	Name = "farmland"
//	Source = "gs://bucket/landuse.geojson"
//	Filter = "landuse == 'farmland'"
//
//	[[Excluded]]
//	Source = "${DATA}/settlements.shp"
//	[Excluded.BufferArgs]
//	distance = 500
//	cap_style = "square"
//	join_style = "mitre"
type AnalysisFile struct {
	BaseArea                       AreaFile
	Included, Excluded, Restricted []AreaFile

	// The scalar options are optional; unset values keep the defaults
	// of the command line options.
	SliverThreshold interface{}
	CRS             *string
	MakeValid       *bool
	Concurrent      *bool
}

// AreaFile is the file form of eligibility.AreaSpec. Source is a locator;
// environment variables in it are expanded.
type AreaFile struct {
	Name          string
	Source        string
	Filter        string
	Buffer        interface{}
	BufferArgs    map[string]interface{}
	ColumnsToKeep []string
}

// DecodeTOML reads an analysis file in TOML format.
func DecodeTOML(r io.Reader) (*AnalysisFile, error) {
	f := new(AnalysisFile)
	if _, err := toml.DecodeReader(r, f); err != nil {
		return nil, fmt.Errorf("eligibilityutil: decoding TOML analysis: %v", err)
	}
	return f, nil
}

// DecodeJSON reads an analysis file in JSON format.
func DecodeJSON(r io.Reader) (*AnalysisFile, error) {
	f := new(AnalysisFile)
	if err := json.NewDecoder(r).Decode(f); err != nil {
		return nil, fmt.Errorf("eligibilityutil: decoding JSON analysis: %v", err)
	}
	return f, nil
}

// ReadAnalysisFile reads the analysis file at path. Files ending in
// ".json" are read as JSON, all others as TOML.
func ReadAnalysisFile(path string) (*AnalysisFile, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("eligibilityutil: %v", err)
	}
	defer r.Close()
	if strings.HasSuffix(strings.ToLower(path), ".json") {
		return DecodeJSON(r)
	}
	return DecodeTOML(r)
}

// Options holds the scalar pipeline options that do not describe areas.
type Options struct {
	SliverThreshold float64
	CRS             string
	MakeValid       bool
	Concurrent      bool
}

// Config converts f into a pipeline configuration. Scalar options that f
// sets override those in defaults.
func (f *AnalysisFile) Config(defaults Options) (eligibility.Config, error) {
	cfg := eligibility.Config{
		SliverThreshold: defaults.SliverThreshold,
		CRS:             defaults.CRS,
		Concurrent:      defaults.Concurrent,
	}
	makeValid := defaults.MakeValid
	if f.SliverThreshold != nil {
		v, err := cast.ToFloat64E(f.SliverThreshold)
		if err != nil {
			return cfg, fmt.Errorf("eligibilityutil: SliverThreshold: %v", err)
		}
		cfg.SliverThreshold = v
	}
	if f.CRS != nil {
		cfg.CRS = os.ExpandEnv(*f.CRS)
	}
	if f.MakeValid != nil {
		makeValid = *f.MakeValid
	}
	if f.Concurrent != nil {
		cfg.Concurrent = *f.Concurrent
	}
	cfg.MakeValid = &makeValid

	var err error
	if cfg.BaseArea, err = f.BaseArea.spec("BaseArea"); err != nil {
		return cfg, err
	}
	lists := []struct {
		name string
		in   []AreaFile
		out  *[]eligibility.AreaSpec
	}{
		{"Included", f.Included, &cfg.Included},
		{"Excluded", f.Excluded, &cfg.Excluded},
		{"Restricted", f.Restricted, &cfg.Restricted},
	}
	for _, l := range lists {
		for i, a := range l.in {
			s, err := a.spec(fmt.Sprintf("%s[%d]", l.name, i))
			if err != nil {
				return cfg, err
			}
			*l.out = append(*l.out, s)
		}
	}
	return cfg, nil
}

func (a AreaFile) spec(where string) (eligibility.AreaSpec, error) {
	s := eligibility.AreaSpec{
		Name:          a.Name,
		Source:        eligibility.Locator(os.ExpandEnv(a.Source)),
		Filter:        a.Filter,
		ColumnsToKeep: a.ColumnsToKeep,
	}
	if a.Buffer != nil {
		d, err := cast.ToFloat64E(a.Buffer)
		if err != nil {
			return s, fmt.Errorf("eligibilityutil: %s.Buffer: %v", where, err)
		}
		s.Buffer = &d
	}
	if a.BufferArgs != nil {
		p, err := vector.ParseBufferParams(a.BufferArgs)
		if err != nil {
			return s, fmt.Errorf("eligibilityutil: %s.BufferArgs: %v", where, err)
		}
		s.BufferArgs = &p
	}
	return s, nil
}
