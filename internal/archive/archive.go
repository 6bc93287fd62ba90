// Package archive keeps a copy of every uploaded source file.
package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
)

// Archiver stores raw files. The returned writer must be closed for the copy
// to be complete; uri identifies the copy afterwards.
type Archiver interface {
	Create(ctx context.Context, name string) (w io.WriteCloser, uri string, err error)
}

// Local writes into a directory on disk.
type Local struct {
	Dir string
}

// NewLocal returns an archiver rooted at dir.
func NewLocal(dir string) *Local {
	return &Local{Dir: dir}
}

func (l *Local) Create(_ context.Context, name string) (io.WriteCloser, string, error) {
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("creating archive dir: %w", err)
	}
	path := filepath.Join(l.Dir, safeName(name))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, "", fmt.Errorf("creating archive file: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return f, "file://" + filepath.ToSlash(abs), nil
}

// GCS writes objects into a Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCS archives into bucket under prefix.
func NewGCS(client *storage.Client, bucket, prefix string) *GCS {
	return &GCS{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (g *GCS) Create(ctx context.Context, name string) (io.WriteCloser, string, error) {
	object := safeName(name)
	if g.prefix != "" {
		object = g.prefix + "/" + object
	}
	w := g.client.Bucket(g.bucket).Object(object).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "text/csv"
	return w, fmt.Sprintf("gs://%s/%s", g.bucket, object), nil
}

// safeName keeps only the base name and replaces characters that are awkward
// in paths and object names.
func safeName(name string) string {
	name = filepath.Base(filepath.Clean("/" + name))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

// Copy tees r into a new archive entry. Close the returned Tee after
// reading to finish the copy.
func Copy(ctx context.Context, a Archiver, name string, r io.Reader) (*Tee, error) {
	w, uri, err := a.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	return &Tee{Reader: io.TeeReader(r, w), w: w, URI: uri}, nil
}

// Tee is a reader that copies everything read into the archive.
type Tee struct {
	io.Reader
	w   io.WriteCloser
	URI string
}

// Close finishes the archive copy.
func (t *Tee) Close() error {
	if err := t.w.Close(); err != nil {
		return fmt.Errorf("closing archive copy: %w", err)
	}
	return nil
}
