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

package amrkit

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// File is a random-access handle on one file of a plotfile.
type File interface {
	io.ReaderAt
	io.Closer
}

// Storage gives access to the files of one plotfile directory. Names are
// slash-separated paths relative to the plotfile root, e.g.
// "Level_0/Cell_H".
type Storage interface {
	// Open opens the named file for random-access reading.
	Open(ctx context.Context, name string) (File, error)

	// Size returns the length of the named file in bytes.
	Size(ctx context.Context, name string) (int64, error)

	// Create creates or truncates the named file, creating any parent
	// directories as needed.
	Create(ctx context.Context, name string) (io.WriteCloser, error)
}

// DirStorage is a Storage backed by a directory on the local file system.
type DirStorage string

// Open implements Storage.
func (d DirStorage) Open(ctx context.Context, name string) (File, error) {
	f, err := os.Open(d.path(name))
	if err != nil {
		return nil, &IOError{Op: "open", Path: name, Level: -1, Box: -1, Err: err}
	}
	return f, nil
}

// Size implements Storage.
func (d DirStorage) Size(ctx context.Context, name string) (int64, error) {
	fi, err := os.Stat(d.path(name))
	if err != nil {
		return 0, &IOError{Op: "stat", Path: name, Level: -1, Box: -1, Err: err}
	}
	return fi.Size(), nil
}

// Create implements Storage.
func (d DirStorage) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	p := d.path(name)
	if err := os.MkdirAll(filepath.Dir(p), os.ModePerm); err != nil {
		return nil, &IOError{Op: "create", Path: name, Level: -1, Box: -1, Err: err}
	}
	f, err := os.Create(p)
	if err != nil {
		return nil, &IOError{Op: "create", Path: name, Level: -1, Box: -1, Err: err}
	}
	return f, nil
}

func (d DirStorage) path(name string) string {
	return filepath.Join(string(d), filepath.FromSlash(name))
}

// BucketStorage is a Storage backed by a blob storage bucket. Reads are
// served with ranged requests so that only the bytes of the requested
// blocks are transferred.
type BucketStorage struct {
	Bucket *blob.Bucket

	// Prefix is prepended to every file name, e.g. "runs/plt00100".
	Prefix string

	// MaxElapsedTime bounds the time spent retrying failed reads.
	// Zero means one minute.
	MaxElapsedTime time.Duration
}

func (s *BucketStorage) key(name string) string {
	if s.Prefix == "" {
		return name
	}
	return path.Join(s.Prefix, name)
}

// retry runs f with exponential backoff until it succeeds, returns an
// error wrapped with backoff.Permanent, or the context is done.
func (s *BucketStorage) retry(ctx context.Context, f func() error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = s.MaxElapsedTime
	if b.MaxElapsedTime == 0 {
		b.MaxElapsedTime = time.Minute
	}
	return backoff.Retry(func() error {
		err := f()
		if err != nil && (gcerrors.Code(err) == gcerrors.NotFound || ctx.Err() != nil) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx))
}

// Open implements Storage.
func (s *BucketStorage) Open(ctx context.Context, name string) (File, error) {
	var ok bool
	err := s.retry(ctx, func() error {
		var err error
		ok, err = s.Bucket.Exists(ctx, s.key(name))
		return err
	})
	if err == nil && !ok {
		err = os.ErrNotExist
	}
	if err != nil {
		return nil, &IOError{Op: "open", Path: name, Level: -1, Box: -1, Err: err}
	}
	return &bucketFile{ctx: ctx, s: s, key: s.key(name)}, nil
}

// Size implements Storage.
func (s *BucketStorage) Size(ctx context.Context, name string) (int64, error) {
	var size int64
	err := s.retry(ctx, func() error {
		a, err := s.Bucket.Attributes(ctx, s.key(name))
		if err != nil {
			return err
		}
		size = a.Size
		return nil
	})
	if err != nil {
		return 0, &IOError{Op: "stat", Path: name, Level: -1, Box: -1, Err: err}
	}
	return size, nil
}

// Create implements Storage. The object is committed when the returned
// writer is closed.
func (s *BucketStorage) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	w, err := s.Bucket.NewWriter(ctx, s.key(name), nil)
	if err != nil {
		return nil, &IOError{Op: "create", Path: name, Level: -1, Box: -1, Err: err}
	}
	return w, nil
}

// bucketFile reads byte ranges of one blob.
type bucketFile struct {
	ctx context.Context
	s   *BucketStorage
	key string
}

func (f *bucketFile) ReadAt(p []byte, off int64) (int, error) {
	var n int
	err := f.s.retry(f.ctx, func() error {
		r, err := f.s.Bucket.NewRangeReader(f.ctx, f.key, off, int64(len(p)), nil)
		if err != nil {
			return err
		}
		defer r.Close()
		n, err = io.ReadFull(r, p)
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil
		}
		return err
	})
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *bucketFile) Close() error { return nil }
