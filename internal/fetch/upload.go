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
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"gocloud.dev/blob"
)

// Uploader writes output files to blob storage. Outputs are first written
// to a local staging directory and copied to their destinations by
// Upload. The zero value is ready to use.
type Uploader struct {
	// OpenBucket opens blob buckets. If nil, OpenBucket is used.
	OpenBucket func(ctx context.Context, bucketURL string) (*blob.Bucket, error)

	// files holds pairs of local paths and the blob URLs they are
	// uploaded to.
	files []staged
	dir   string
}

type staged struct {
	local, remote string
	optional      bool
}

// Stage returns the local path that an output destined for path should be
// written to. Paths that are not blob URLs are returned unchanged.
func (u *Uploader) Stage(path string) (string, error) {
	if !IsBlob(path) {
		return path, nil
	}
	if u.dir == "" {
		dir, err := os.MkdirTemp("", "eligibility")
		if err != nil {
			return "", fmt.Errorf("fetch: creating upload directory: %v", err)
		}
		u.dir = dir
	}
	files := expandShp(path)
	for _, f := range files {
		u.files = append(u.files, staged{
			local:    filepath.Join(u.dir, filepath.Base(f.name)),
			remote:   f.name,
			optional: f.optional,
		})
	}
	return filepath.Join(u.dir, filepath.Base(files[0].name)), nil
}

// Upload copies all staged files to blob storage and removes the staging
// directory.
func (u *Uploader) Upload(ctx context.Context) error {
	open := u.OpenBucket
	if open == nil {
		open = OpenBucket
	}
	for _, f := range u.files {
		if err := upload(ctx, open, f); err != nil {
			return err
		}
	}
	if u.dir != "" {
		return os.RemoveAll(u.dir)
	}
	return nil
}

func upload(ctx context.Context, open func(context.Context, string) (*blob.Bucket, error), f staged) error {
	r, err := os.Open(f.local)
	if os.IsNotExist(err) && f.optional {
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetch: opening file '%s' for upload: %v", f.local, err)
	}
	defer r.Close()
	u, err := url.Parse(f.remote)
	if err != nil {
		return fmt.Errorf("fetch: parsing url '%s' for upload: %v", f.remote, err)
	}
	bucketURL, key := splitBlob(u)
	bucket, err := open(ctx, bucketURL)
	if err != nil {
		return fmt.Errorf("fetch: opening bucket to upload file '%s': %v", f.remote, err)
	}
	defer bucket.Close()
	w, err := bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("fetch: opening writer to upload file '%s': %v", f.remote, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("fetch: uploading file '%s' to '%s': %v", f.local, f.remote, err)
	}
	return w.Close()
}
