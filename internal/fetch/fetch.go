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

// Package fetch makes area sources given as local paths, http(s) URLs or
// blob storage URLs available as local files.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// errNotFound is returned by getters for files that do not exist.
var errNotFound = errors.New("not found")

// Fetcher downloads remote sources. The zero value is ready to use.
type Fetcher struct {
	// Client is used for http(s) downloads. If nil, http.DefaultClient
	// is used.
	Client *http.Client

	// Log, if not nil, receives download messages.
	Log logrus.FieldLogger

	// OpenBucket opens blob buckets. If nil, OpenBucket is used.
	OpenBucket func(ctx context.Context, bucketURL string) (*blob.Bucket, error)
}

// Fetch returns the local path of the file at locator. Existing local
// files are returned as they are. http(s) URLs and gs://, s3:// and
// file:// blob URLs are downloaded into a new directory inside dir, or
// inside the default temporary directory if dir is empty; the caller
// removes it. For shapefiles, the ".dbf", ".shx" and, if present, ".prj"
// and ".cpg" files are downloaded too, and the path of the ".shp" file is
// returned. The query of http(s) URLs is sent with every file but is not
// part of the local name.
func (f *Fetcher) Fetch(ctx context.Context, locator, dir string) (string, error) {
	if _, err := os.Stat(locator); err == nil {
		return locator, nil
	}
	switch {
	case strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://"):
		u, err := url.Parse(locator)
		if err != nil {
			return "", fmt.Errorf("fetch: %v", err)
		}
		remote := func(name string) string {
			v := *u
			v.Path, v.RawPath = name, ""
			return v.String()
		}
		return f.download(ctx, dir, u.Path, remote, f.httpGetter())
	case IsBlob(locator):
		u, err := url.Parse(locator)
		if err != nil {
			return "", fmt.Errorf("fetch: %v", err)
		}
		bucketURL, key := splitBlob(u)
		open := f.OpenBucket
		if open == nil {
			open = OpenBucket
		}
		bucket, err := open(ctx, bucketURL)
		if err != nil {
			return "", fmt.Errorf("fetch: opening bucket %s: %v", bucketURL, err)
		}
		defer bucket.Close()
		return f.download(ctx, dir, key, func(name string) string { return name }, blobGetter(bucket))
	default:
		return "", fmt.Errorf("fetch: %s: no such file", locator)
	}
}

// IsBlob returns whether the given locator represents a blob.
// (i.e., if it starts with `gs://`, 's3://', or 'file://').
func IsBlob(locator string) bool {
	return strings.HasPrefix(locator, "gs://") || strings.HasPrefix(locator, "s3://") ||
		strings.HasPrefix(locator, "file://")
}

// splitBlob splits a blob URL into the URL of its bucket and the key of
// the blob in it. For file:// URLs the bucket is the directory holding
// the file.
func splitBlob(u *url.URL) (bucketURL, key string) {
	if u.Scheme == "file" {
		p := filepath.FromSlash(u.Host + u.Path)
		return "file://" + filepath.Dir(p), filepath.Base(p)
	}
	return u.Scheme + "://" + u.Host, strings.TrimPrefix(u.Path, "/")
}

// getter opens the file with the given name for reading.
type getter func(ctx context.Context, name string) (io.ReadCloser, error)

func (f *Fetcher) httpGetter() getter {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, name string) (io.ReadCloser, error) {
		req, err := http.NewRequest(http.MethodGet, name, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		switch {
		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return nil, errNotFound
		case resp.StatusCode != http.StatusOK:
			resp.Body.Close()
			return nil, fmt.Errorf("%s: %s", name, resp.Status)
		}
		return resp.Body, nil
	}
}

func blobGetter(b *blob.Bucket) getter {
	return func(ctx context.Context, name string) (io.ReadCloser, error) {
		r, err := b.NewReader(ctx, name, nil)
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, errNotFound
		}
		return r, err
	}
}

// download copies name and its sidecar files into a new directory inside
// dir. remote maps the name of each file to what get is called with.
func (f *Fetcher) download(ctx context.Context, dir, name string, remote func(string) string, get getter) (string, error) {
	dst, err := os.MkdirTemp(dir, "fetch")
	if err != nil {
		return "", fmt.Errorf("fetch: failed creating download directory: %v", err)
	}
	files := expandShp(name)
	for _, file := range files {
		local := filepath.Join(dst, path.Base(file.name))
		err := copyTo(ctx, local, remote(file.name), get)
		if err == errNotFound && file.optional {
			continue
		}
		if err != nil {
			os.RemoveAll(dst)
			return "", fmt.Errorf("fetch: %s: %v", remote(file.name), err)
		}
		if f.Log != nil {
			f.Log.WithFields(logrus.Fields{
				"source":      remote(file.name),
				"destination": local,
			}).Debug("fetch downloaded file")
		}
	}
	return filepath.Join(dst, path.Base(files[0].name)), nil
}

func copyTo(ctx context.Context, dst, name string, get getter) error {
	r, err := get(ctx, name)
	if err != nil {
		return err
	}
	defer r.Close()
	w, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

type sidecar struct {
	name     string
	optional bool
}

// expandShp returns the files that make up the shapefile filename, or
// filename alone if it is not a shapefile.
func expandShp(filename string) []sidecar {
	o := []sidecar{{name: filename}}
	ext := path.Ext(filename)
	if strings.ToLower(ext) != ".shp" {
		return o
	}
	stem := strings.TrimSuffix(filename, ext)
	for _, newExt := range []string{".dbf", ".shx"} {
		o = append(o, sidecar{name: stem + newExt})
	}
	for _, newExt := range []string{".prj", ".cpg"} {
		o = append(o, sidecar{name: stem + newExt, optional: true})
	}
	return o
}
