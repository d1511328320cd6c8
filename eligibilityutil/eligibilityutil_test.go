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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kr/pretty"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/eligibility"
	"github.com/spatialmodel/eligibility/internal/metrics"
	"github.com/spatialmodel/eligibility/vector"
	"github.com/twpayne/go-geos"
	"gonum.org/v1/gonum/floats"
)

func quietLog() logrus.FieldLogger {
	log := logrus.New()
	log.Out = io.Discard
	return log
}

// writeAreas writes the test areas to GeoJSON files in dir: a 4x4 base
// area, two 2x2 suitable squares and a 2x2 unsuitable square overlapping
// both of them.
func writeAreas(t *testing.T, dir string) {
	t.Helper()
	suitable := vector.NewCollection(nil,
		geos.NewGeomFromBounds(0, 0, 2, 2), geos.NewGeomFromBounds(2, 2, 4, 4))
	suitable.Columns = []string{"col1"}
	suitable.Features[0].Properties = map[string]interface{}{"col1": 1.0}
	suitable.Features[1].Properties = map[string]interface{}{"col1": 2.0}
	for name, c := range map[string]*vector.Collection{
		"base.geojson":       vector.NewCollection(nil, geos.NewGeomFromBounds(0, 0, 4, 4)),
		"suitable.geojson":   suitable,
		"unsuitable.geojson": vector.NewCollection(nil, geos.NewGeomFromBounds(1, 1, 3, 3)),
	} {
		if err := vector.Write(filepath.Join(dir, name), c); err != nil {
			t.Fatal(err)
		}
	}
}

func analysisTOML(dir string) string {
	return fmt.Sprintf(`
SliverThreshold = 0

[BaseArea]
Source = "%[1]s/base.geojson"

[[Included]]
Name = "suitable"
Source = "%[1]s/suitable.geojson"

[[Excluded]]
Source = "%[1]s/unsuitable.geojson"
Filter = ""

[[Restricted]]
Name = "restricted"
Source = "${ELIGIBILITY_TEST_DIR}/unsuitable.geojson"
Buffer = 2
[Restricted.BufferArgs]
distance = 0.5
cap_style = "square"
join_style = "mitre"
`, filepath.ToSlash(dir))
}

func TestAnalysisFile_Config(t *testing.T) {
	dir := t.TempDir()
	os.Setenv("ELIGIBILITY_TEST_DIR", dir)
	defer os.Unsetenv("ELIGIBILITY_TEST_DIR")
	f, err := DecodeTOML(strings.NewReader(analysisTOML(dir)))
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := f.Config(Options{SliverThreshold: 100, CRS: "EPSG:3857", MakeValid: true})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SliverThreshold != 0 {
		t.Errorf("SliverThreshold: %g != 0", cfg.SliverThreshold)
	}
	if cfg.CRS != "EPSG:3857" {
		t.Errorf("CRS: %s", cfg.CRS)
	}
	if cfg.MakeValid == nil || !*cfg.MakeValid {
		t.Error("MakeValid should default to true")
	}
	if len(cfg.Included) != 1 || len(cfg.Excluded) != 1 || len(cfg.Restricted) != 1 {
		t.Fatalf("areas: %d, %d, %d", len(cfg.Included), len(cfg.Excluded), len(cfg.Restricted))
	}
	r := cfg.Restricted[0]
	if want := eligibility.Locator(dir + "/unsuitable.geojson"); r.Source != want {
		t.Errorf("source: %v != %v", r.Source, want)
	}
	if r.Buffer == nil || *r.Buffer != 2 {
		t.Errorf("buffer: %v", r.Buffer)
	}
	want := vector.BufferParams{Distance: 0.5, CapStyle: "square", JoinStyle: "mitre"}
	if r.BufferArgs == nil {
		t.Fatal("no buffer args")
	}
	if diff := pretty.Diff(*r.BufferArgs, want); len(diff) > 0 {
		t.Errorf("buffer args: %v", diff)
	}
}

func TestAnalysisFile_errors(t *testing.T) {
	for _, doc := range []string{
		`SliverThreshold = "many"`,
		"[[Included]]\nBuffer = \"wide\"",
		"[[Included]]\n[Included.BufferArgs]\ncap_style = \"pointy\"",
	} {
		f, err := DecodeTOML(strings.NewReader(doc))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.Config(Options{}); err == nil {
			t.Errorf("%s: expected an error", doc)
		}
	}
	if _, err := DecodeTOML(strings.NewReader("[[Included")); err == nil {
		t.Error("expected a syntax error")
	}
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	writeAreas(t, dir)
	os.Setenv("ELIGIBILITY_TEST_DIR", dir)
	defer os.Unsetenv("ELIGIBILITY_TEST_DIR")
	f, err := DecodeTOML(strings.NewReader(analysisTOML(dir)))
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := f.Config(Options{MakeValid: true})
	if err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "out")
	if err := os.Mkdir(out, 0755); err != nil {
		t.Fatal(err)
	}
	eligibleOut := filepath.Join(out, "eligible.shp")
	restrictedOut := "file://" + filepath.ToSlash(out) + "/restricted.geojson"
	var summary bytes.Buffer
	res, err := Run(context.Background(), cfg, quietLog(), metrics.New("test"), eligibleOut, restrictedOut, &summary)
	if err != nil {
		t.Fatal(err)
	}
	// Buffer wins over BufferArgs: the restricted area grows by a round
	// buffer of 2 and covers everything that is left after the exclusion.
	if a := res.Eligible.Area(); !floats.EqualWithinAbs(a, 0, 1e-9) {
		t.Errorf("eligible area: %g != 0", a)
	}
	if a := res.EligibleWithRestriction.Area(); !floats.EqualWithinAbs(a, 6, 1e-9) {
		t.Errorf("restricted area: %g != 6", a)
	}
	if len(res.Diagnostics) != 1 || res.Diagnostics[0].Area != "restricted" {
		t.Errorf("diagnostics: %v", res.Diagnostics)
	}
	for _, name := range []string{"eligible.shp", "eligible.dbf", "eligible.shx", "restricted.geojson"} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Error(err)
		}
	}
	back, err := vector.Read(filepath.Join(out, "restricted.geojson"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if a := back.Area(); !floats.EqualWithinAbs(a, 6, 1e-9) {
		t.Errorf("written restricted area: %g != 6", a)
	}
	for _, want := range []string{res.RunID, "eligible with restriction", "ConfigurationConflict"} {
		if !strings.Contains(summary.String(), want) {
			t.Errorf("summary lacks %q:\n%s", want, summary.String())
		}
	}
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	writeAreas(t, dir)
	os.Setenv("ELIGIBILITY_TEST_DIR", dir)
	defer os.Unsetenv("ELIGIBILITY_TEST_DIR")
	cfgPath := filepath.Join(dir, "analysis.toml")
	if err := os.WriteFile(cfgPath, []byte(analysisTOML(dir)), 0644); err != nil {
		t.Fatal(err)
	}
	eligibleOut := filepath.Join(dir, "eligible.geojson")
	Cfg.Set("config", cfgPath)
	Cfg.Set("EligibleOutput", eligibleOut)
	Cfg.Set("RestrictedOutput", "")
	Cfg.Set("LogLevel", "error")
	defer func() {
		Cfg.Set("config", "")
		Cfg.Set("EligibleOutput", "eligible.geojson")
		Cfg.Set("RestrictedOutput", "eligible_with_restriction.geojson")
		Cfg.Set("LogLevel", "info")
	}()
	var out bytes.Buffer
	Root.SetOutput(&out)
	Root.SetArgs([]string{"run"})
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}
	c, err := vector.Read(eligibleOut, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !c.IsEmpty() {
		t.Errorf("eligible features: %d != 0", c.Len())
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	Root.SetOutput(&out)
	Root.SetArgs([]string{"version"})
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}
	if want := "eligibility v" + eligibility.Version; !strings.Contains(out.String(), want) {
		t.Errorf("%q does not contain %q", out.String(), want)
	}
}

func TestServer(t *testing.T) {
	dir := t.TempDir()
	writeAreas(t, dir)
	s := &Server{
		Log:      quietLog(),
		Metrics:  metrics.New("test"),
		Defaults: Options{MakeValid: true},
	}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	t.Run("healthz", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/healthz")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status: %d", resp.StatusCode)
		}
	})

	t.Run("json", func(t *testing.T) {
		body := fmt.Sprintf(`{
			"BaseArea": {"Source": "%[1]s/base.geojson"},
			"Included": [{"Source": "%[1]s/suitable.geojson", "Filter": "col1 == 2"}],
			"Excluded": [{"Source": "%[1]s/unsuitable.geojson"}]
		}`, filepath.ToSlash(dir))
		resp, err := http.Post(srv.URL+"/v1/eligibility", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			t.Fatalf("status: %d: %s", resp.StatusCode, b)
		}
		var r Response
		if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
			t.Fatal(err)
		}
		if r.RunID == "" {
			t.Error("missing run ID")
		}
		eligible, err := vector.ReadGeoJSON(bytes.NewReader(r.Eligible), nil)
		if err != nil {
			t.Fatal(err)
		}
		if a := eligible.Area(); !floats.EqualWithinAbs(a, 3, 1e-9) {
			t.Errorf("eligible area: %g != 3", a)
		}
		restricted, err := vector.ReadGeoJSON(bytes.NewReader(r.EligibleWithRestriction), nil)
		if err != nil {
			t.Fatal(err)
		}
		if !restricted.IsEmpty() {
			t.Errorf("restricted features: %d", restricted.Len())
		}
	})

	t.Run("toml", func(t *testing.T) {
		os.Setenv("ELIGIBILITY_TEST_DIR", dir)
		defer os.Unsetenv("ELIGIBILITY_TEST_DIR")
		resp, err := http.Post(srv.URL+"/v1/eligibility", "application/toml", strings.NewReader(analysisTOML(dir)))
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var r Response
		if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
			t.Fatal(err)
		}
		if len(r.Diagnostics) != 1 || r.Diagnostics[0].Kind != eligibility.ConfigurationConflict {
			t.Errorf("diagnostics: %v", r.Diagnostics)
		}
	})

	for _, test := range []struct {
		name, contentType, body string
		status                  int
	}{
		{name: "bad json", contentType: "application/json", body: "{", status: http.StatusBadRequest},
		{name: "bad crs", contentType: "application/json", body: `{"CRS": "EPSG:999999"}`, status: http.StatusBadRequest},
		{name: "empty locator", contentType: "application/json", body: `{"BaseArea": {}}`, status: http.StatusUnprocessableEntity},
		{
			name:        "unknown attribute",
			contentType: "application/toml",
			body:        fmt.Sprintf("[BaseArea]\nSource = \"%s/base.geojson\"\nFilter = \"height > 2\"", filepath.ToSlash(dir)),
			status:      http.StatusUnprocessableEntity,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/v1/eligibility", test.contentType, strings.NewReader(test.body))
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != test.status {
				t.Errorf("status: %d != %d", resp.StatusCode, test.status)
			}
			var e map[string]string
			if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e["error"] == "" {
				t.Errorf("error body: %v, %v", e, err)
			}
		})
	}

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/metrics")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatal(err)
		}
		for _, want := range []string{`eligibility_runs_total{status="ok"} 2`, `eligibility_runs_total{status="error"} 2`} {
			if !strings.Contains(string(b), want) {
				t.Errorf("metrics lack %q", want)
			}
		}
	})
}

func TestServer_allowedLocators(t *testing.T) {
	dir := t.TempDir()
	writeAreas(t, dir)
	s := &Server{
		Log:             quietLog(),
		Metrics:         metrics.New("test"),
		Defaults:        Options{MakeValid: true},
		AllowedLocators: []string{filepath.ToSlash(dir) + "/"},
	}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	for _, test := range []struct {
		name, base string
		status     int
	}{
		{name: "allowed", base: filepath.ToSlash(dir) + "/base.geojson", status: http.StatusOK},
		{name: "outside", base: "/etc/base.geojson", status: http.StatusForbidden},
		{name: "parent", base: filepath.ToSlash(dir) + "/../base.geojson", status: http.StatusForbidden},
		{name: "url", base: "https://example.com/base.geojson", status: http.StatusForbidden},
		{name: "file url parent", base: "file://" + filepath.ToSlash(dir) + "/../base.geojson", status: http.StatusForbidden},
	} {
		t.Run(test.name, func(t *testing.T) {
			body := fmt.Sprintf(`{
				"BaseArea": {"Source": %q},
				"Included": [{"Source": "%s/suitable.geojson"}]
			}`, test.base, filepath.ToSlash(dir))
			resp, err := http.Post(srv.URL+"/v1/eligibility", "application/json", strings.NewReader(body))
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != test.status {
				b, _ := io.ReadAll(resp.Body)
				t.Errorf("status: %d != %d: %s", resp.StatusCode, test.status, b)
			}
		})
	}
}
