/*
Copyright © 2024 the AMRKit authors.
This file is part of AMRKit.

AMRKit is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

AMRKit is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with AMRKit.  If not, see <http://www.gnu.org/licenses/>.*/

// Package cloud opens plotfiles stored in blob storage buckets.
package cloud

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spatialmodel/amrkit"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"

	// Register the gs:// and s3:// URL schemes.
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
)

// OpenBucket returns the blob storage bucket specified by bucketName,
// where bucketName must be in the format 'provider://name' where provider
// is the name of the storage provider and name is the name of the bucket.
// Any path after the bucket name is ignored.
// The currently accepted storage providers are "file" for the local filesystem
// (e.g., for testing), "gs" for Google Cloud Storage, and "s3" for AWS S3.
// Credentials are taken from the environment in the way the providers'
// SDKs do, e.g. GOOGLE_APPLICATION_CREDENTIALS or AWS_ACCESS_KEY_ID.
func OpenBucket(ctx context.Context, bucketName string) (*blob.Bucket, error) {
	u, err := url.Parse(bucketName)
	if err != nil {
		return nil, fmt.Errorf("cloud.OpenBucket: %v", err)
	}
	switch u.Scheme {
	case "file":
		return fileblob.OpenBucket(filepath.FromSlash(u.Host+u.Path), nil)
	case "gs", "s3":
		return blob.OpenBucket(ctx, u.Scheme+"://"+u.Host)
	default:
		return nil, fmt.Errorf("cloud.OpenBucket: invalid provider %s", u.Scheme)
	}
}

// Open returns the storage of the plotfile at location, which is either
// a local directory or a URL such as "gs://bucket/runs/plt00100". For
// bucket URLs the path is the prefix of the plotfile files within the
// bucket. The returned function releases the storage.
func Open(ctx context.Context, location string, maxRetry time.Duration) (amrkit.Storage, func() error, error) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || u.Scheme == "file" || len(u.Scheme) == 1 {
		// Local paths, including Windows drive letters.
		dir := location
		if err == nil && u.Scheme == "file" {
			dir = filepath.FromSlash(u.Host + u.Path)
		}
		return amrkit.DirStorage(dir), func() error { return nil }, nil
	}
	bucket, err := OpenBucket(ctx, location)
	if err != nil {
		return nil, nil, err
	}
	s := &amrkit.BucketStorage{
		Bucket:         bucket,
		Prefix:         strings.Trim(u.Path, "/"),
		MaxElapsedTime: maxRetry,
	}
	return s, bucket.Close, nil
}
