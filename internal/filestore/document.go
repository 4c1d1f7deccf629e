// internal/filestore/document.go
//
// JSON document persistence.
//
// Context
// -------
// Each store (user events, cards, admin roles) is one JSON file.  A
// Document loads the whole file, lets the caller mutate the decoded value,
// and writes it back with an atomic replace: encode to a temp file in the
// same directory, fsync, rename over the original.  Readers therefore see
// either the old or the new content, never a torn write.
//
// Mutations from all documents run under one shared Lock, so the
// load-modify-save sequence of one mutation never interleaves with another
// in this process.  Reads do not take the lock; concurrent reads of the same
// file are coalesced with singleflight.
//
// Notes
// -----
// • A missing file decodes as the empty document.
// • A file that exists but does not decode is an error (ErrCorrupt).  The
//   document is never silently reset, because the next write would erase it.
// • Multiple processes writing the same files are not supported.
package filestore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/yanizio/loungebot/internal/metrics"
)

var (
	// ErrCorrupt wraps JSON decode failures of an existing file.
	ErrCorrupt = errors.New("document is not valid JSON")

	// ErrSkipWrite may be returned by an Update callback to end the
	// mutation without rewriting the file.  Update then returns nil.
	ErrSkipWrite = errors.New("skip write")

	// ErrMalformedRecord is returned by mutations that would have to replace
	// an entry which failed to decode.
	ErrMalformedRecord = errors.New("stored record is malformed")
)

// Lock serializes mutations across every Document that shares it.
type Lock struct{ mu sync.Mutex }

// NewLock returns a lock to hand to each Document of one process.
func NewLock() *Lock { return &Lock{} }

// Options configure a Document.
type Options[T any] struct {
	// Name labels metrics and logs, e.g. "level_cards".
	Name string
	// Lock is shared between documents.  A private lock is used when nil.
	Lock *Lock
	// Empty builds the value used when the file does not exist yet.
	Empty func() *T
	// Normalize runs after every decode and upgrades legacy shapes.
	Normalize func(*T)
}

// Document is one JSON file holding a value of type T.
type Document[T any] struct {
	path string
	opts Options[T]
	sfg  singleflight.Group
}

// Open binds a Document to path.  The file is not touched until first use.
func Open[T any](path string, opts Options[T]) *Document[T] {
	if opts.Lock == nil {
		opts.Lock = NewLock()
	}
	if opts.Name == "" {
		opts.Name = filepath.Base(path)
	}
	if opts.Empty == nil {
		opts.Empty = func() *T { return new(T) }
	}
	return &Document[T]{path: path, opts: opts}
}

// Path returns the backing file path.
func (d *Document[T]) Path() string { return d.path }

// Load returns a freshly decoded snapshot.  Callers that arrive while a read
// is in flight share its result, so the value must be treated as read-only.
func (d *Document[T]) Load() (*T, error) {
	v, err, _ := d.sfg.Do("load", func() (any, error) {
		return d.read()
	})
	if err != nil {
		return nil, err
	}
	return v.(*T), nil
}

// Update loads the current content, applies fn, and saves the result.  The
// whole sequence holds the shared lock.  If fn returns an error nothing is
// written; ErrSkipWrite is swallowed.
func (d *Document[T]) Update(fn func(*T) error) error {
	d.opts.Lock.mu.Lock()
	defer d.opts.Lock.mu.Unlock()

	cur, err := d.read()
	if err != nil {
		return err
	}
	if err := fn(cur); err != nil {
		if errors.Is(err, ErrSkipWrite) {
			return nil
		}
		return err
	}
	return d.write(cur)
}

/*──────────────────────────── internals ───────────────────────────────────*/

func (d *Document[T]) read() (*T, error) {
	raw, err := os.ReadFile(d.path)
	if errors.Is(err, os.ErrNotExist) {
		v := d.opts.Empty()
		if d.opts.Normalize != nil {
			d.opts.Normalize(v)
		}
		return v, nil
	}
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues(d.opts.Name).Inc()
		return nil, fmt.Errorf("read %s: %w", d.opts.Name, err)
	}

	v := d.opts.Empty()
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, v); err != nil {
			metrics.StoreErrorsTotal.WithLabelValues(d.opts.Name).Inc()
			zap.L().Error("document decode failed",
				zap.String("document", d.opts.Name),
				zap.String("path", d.path),
				zap.Error(err))
			return nil, fmt.Errorf("%s: %w: %v", d.opts.Name, ErrCorrupt, err)
		}
	}
	if d.opts.Normalize != nil {
		d.opts.Normalize(v)
	}
	return v, nil
}

func (d *Document[T]) write(v *T) (err error) {
	defer func() {
		if err != nil {
			metrics.StoreErrorsTotal.WithLabelValues(d.opts.Name).Inc()
			zap.L().Error("document write failed",
				zap.String("document", d.opts.Name),
				zap.Error(err))
		}
	}()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", d.opts.Name, err)
	}

	dir := filepath.Dir(d.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(d.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", d.opts.Name, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", d.opts.Name, err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", d.opts.Name, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", d.opts.Name, err)
	}
	if err = os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", d.opts.Name, err)
	}
	if err = os.Rename(tmpName, d.path); err != nil {
		return fmt.Errorf("replace %s: %w", d.opts.Name, err)
	}

	metrics.StoreWritesTotal.WithLabelValues(d.opts.Name).Inc()
	return nil
}
