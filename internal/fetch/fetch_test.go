/*
Copyright © 2018 the InMAP authors.
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

package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte(n), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func checkFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		b, err := os.ReadFile(filepath.Join(dir, n))
		if err != nil {
			t.Error(err)
			continue
		}
		if string(b) != n {
			t.Errorf("%s: contents %q", n, b)
		}
	}
}

func TestFetch_local(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.geojson")
	p := filepath.Join(dir, "a.geojson")
	got, err := new(Fetcher).Fetch(context.Background(), p, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if got != p {
		t.Errorf("%s != %s", got, p)
	}
	if _, err := new(Fetcher).Fetch(context.Background(), filepath.Join(dir, "b.geojson"), t.TempDir()); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestFetch_http(t *testing.T) {
	src := t.TempDir()
	writeFiles(t, src, "areas.shp", "areas.dbf", "areas.shx", "areas.prj", "a.geojson")
	var (
		mu      sync.Mutex
		queries []string
	)
	files := http.FileServer(http.Dir(src))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queries = append(queries, r.URL.RawQuery)
		mu.Unlock()
		files.ServeHTTP(w, r)
	}))
	defer srv.Close()

	dst := t.TempDir()
	f := &Fetcher{Client: srv.Client()}
	got, err := f.Fetch(context.Background(), srv.URL+"/areas.shp", dst)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(got) != "areas.shp" || filepath.Dir(filepath.Dir(got)) != dst {
		t.Errorf("path: %s", got)
	}
	// There is no .cpg file; it is optional.
	checkFiles(t, filepath.Dir(got), "areas.shp", "areas.dbf", "areas.shx", "areas.prj")

	if _, err := f.Fetch(context.Background(), srv.URL+"/missing.geojson", dst); err == nil {
		t.Error("expected an error for a missing remote file")
	}

	t.Run("signed", func(t *testing.T) {
		mu.Lock()
		queries = nil
		mu.Unlock()
		got, err := f.Fetch(context.Background(), srv.URL+"/areas.shp?sig=abc", dst)
		if err != nil {
			t.Fatal(err)
		}
		if filepath.Base(got) != "areas.shp" {
			t.Errorf("path: %s", got)
		}
		checkFiles(t, filepath.Dir(got), "areas.shp", "areas.dbf", "areas.shx", "areas.prj")
		mu.Lock()
		seen := append([]string(nil), queries...)
		mu.Unlock()
		if len(seen) != 5 {
			t.Errorf("requests: %d != 5", len(seen))
		}
		for _, q := range seen {
			if q != "sig=abc" {
				t.Errorf("query: %q", q)
			}
		}

		got, err = f.Fetch(context.Background(), srv.URL+"/a.geojson?sig=abc&exp=1", dst)
		if err != nil {
			t.Fatal(err)
		}
		if filepath.Base(got) != "a.geojson" {
			t.Errorf("path: %s", got)
		}
	})
}

func TestFetch_blob(t *testing.T) {
	src := t.TempDir()
	writeFiles(t, src, "areas.shp", "areas.dbf", "areas.shx")
	dst := t.TempDir()
	f := new(Fetcher)
	got, err := f.Fetch(context.Background(), "file://"+filepath.ToSlash(filepath.Join(src, "areas.shp")), dst)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got, dst) {
		t.Errorf("path: %s", got)
	}
	checkFiles(t, filepath.Dir(got), "areas.shp", "areas.dbf", "areas.shx")

	if _, err := f.Fetch(context.Background(), "file://"+filepath.ToSlash(filepath.Join(src, "none.shp")), dst); err == nil {
		t.Error("expected an error for a missing blob")
	}
}

func TestFetch_sameName(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeFiles(t, a, "x.geojson")
	if err := os.WriteFile(filepath.Join(b, "x.geojson"), []byte("other"), 0644); err != nil {
		t.Fatal(err)
	}
	dst := t.TempDir()
	f := new(Fetcher)
	pa, err := f.Fetch(context.Background(), "file://"+filepath.ToSlash(filepath.Join(a, "x.geojson")), dst)
	if err != nil {
		t.Fatal(err)
	}
	pb, err := f.Fetch(context.Background(), "file://"+filepath.ToSlash(filepath.Join(b, "x.geojson")), dst)
	if err != nil {
		t.Fatal(err)
	}
	if pa == pb {
		t.Fatalf("both downloads stored at %s", pa)
	}
	checkFiles(t, filepath.Dir(pa), "x.geojson")
}

func TestOpenBucket_invalid(t *testing.T) {
	if _, err := OpenBucket(context.Background(), "ftp://bucket"); err == nil {
		t.Error("expected an error for an unknown provider")
	}
}

func TestExpandShp(t *testing.T) {
	got := expandShp("dir/x.shp")
	if len(got) != 5 || got[1].name != "dir/x.dbf" || !got[3].optional {
		t.Errorf("%+v", got)
	}
	if len(expandShp("x.geojson")) != 1 {
		t.Error("non-shapefiles have no sidecars")
	}
}

func TestUploader(t *testing.T) {
	dst := t.TempDir()
	u := new(Uploader)
	local := filepath.Join(dst, "local.geojson")
	if got, err := u.Stage(local); err != nil || got != local {
		t.Fatalf("local path: %s, %v", got, err)
	}
	p, err := u.Stage("file://" + filepath.ToSlash(dst) + "/eligible.shp")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(p) != "eligible.shp" || filepath.Dir(p) == dst {
		t.Fatalf("staged path: %s", p)
	}
	writeFiles(t, filepath.Dir(p), "eligible.shp", "eligible.dbf", "eligible.shx")
	if err := u.Upload(context.Background()); err != nil {
		t.Fatal(err)
	}
	checkFiles(t, dst, "eligible.shp", "eligible.dbf", "eligible.shx")
	if _, err := os.Stat(filepath.Dir(p)); !os.IsNotExist(err) {
		t.Errorf("staging directory should be removed: %v", err)
	}
}
