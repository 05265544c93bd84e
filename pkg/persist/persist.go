// Package persist stores saved model records. The storage backend is an
// external collaborator behind Inserter; FileStore is the local
// implementation used by the CLI and tests.
package persist

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/chazu/partsmith/pkg/caderr"
	"github.com/chazu/partsmith/pkg/ctxlog"
	"github.com/chazu/partsmith/pkg/params"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Dimensions are the approximate printed size in millimetres.
type Dimensions struct {
	Width  float64 `msgpack:"width" json:"width"`
	Depth  float64 `msgpack:"depth" json:"depth"`
	Height float64 `msgpack:"height" json:"height"`
}

// ModelRecord is one saved model.
type ModelRecord struct {
	ID          string            `msgpack:"id"`
	Name        string            `msgpack:"name"`
	Description string            `msgpack:"description,omitempty"`
	SourceCode  string            `msgpack:"sourceCode"`
	Parameters  params.Schema     `msgpack:"parameters,omitempty"`
	Values      map[string]any    `msgpack:"values,omitempty"`
	Category    string            `msgpack:"category,omitempty"`
	Difficulty  string            `msgpack:"difficulty,omitempty"`
	Dimensions  *Dimensions       `msgpack:"dimensions,omitempty"`
	Thumbnail   string            `msgpack:"thumbnail,omitempty"`
	Tags        []string          `msgpack:"tags,omitempty"`
	CreatedAt   time.Time         `msgpack:"createdAt"`
	Extra       map[string]string `msgpack:"extra,omitempty"`
}

// Validate checks the fields every backend requires.
func (r ModelRecord) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("record has no name")
	}
	if strings.TrimSpace(r.SourceCode) == "" {
		return errors.New("record has no source code")
	}
	return nil
}

// Inserter persists model records.
type Inserter interface {
	Insert(ctx context.Context, rec ModelRecord) (string, error)
}

// FileStore keeps one msgpack file per record in a directory.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the store directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".msgpack")
}

// Insert writes rec and returns its id, assigning one when rec.ID is empty.
// Every failure is a SaveError.
func (s *FileStore) Insert(ctx context.Context, rec ModelRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", caderr.Wrap(caderr.SaveError, err, "save cancelled")
	}
	if err := rec.Validate(); err != nil {
		return "", caderr.Wrap(caderr.SaveError, err, "invalid record")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return "", caderr.Wrap(caderr.SaveError, err, "encode record %s", rec.ID)
	}

	tmp, err := os.CreateTemp(s.dir, ".record-*")
	if err != nil {
		return "", caderr.Wrap(caderr.SaveError, err, "save record %s", rec.ID)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", caderr.Wrap(caderr.SaveError, err, "save record %s", rec.ID)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", caderr.Wrap(caderr.SaveError, err, "save record %s", rec.ID)
	}
	if err := os.Rename(tmp.Name(), s.path(rec.ID)); err != nil {
		os.Remove(tmp.Name())
		return "", caderr.Wrap(caderr.SaveError, err, "save record %s", rec.ID)
	}

	ctxlog.FromContext(ctx).Debug("model saved", "id", rec.ID, "name", rec.Name, "bytes", len(data))
	return rec.ID, nil
}

// Load reads the record with id. A missing record is NotFound.
func (s *FileStore) Load(id string) (ModelRecord, error) {
	var rec ModelRecord
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return rec, caderr.New(caderr.NotFound, "record %s not found", id)
	}
	if err != nil {
		return rec, fmt.Errorf("read record %s: %w", id, err)
	}
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("decode record %s: %w", id, err)
	}
	return rec, nil
}

// List returns the ids of all stored records, sorted.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".msgpack" {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".msgpack"))
	}
	sort.Strings(ids)
	return ids, nil
}
