package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"git.home.luguber.info/inful/sitebuilder/internal/logfields"
)

// FSStore is a filesystem-based ArtifactStore with a content-addressed
// layout:
//
//	artifacts/
//	  objects/
//	    ab/
//	      cd1234...            (first 2 chars = subdir, rest = filename)
//	      cd1234....meta.json
//	  tmp/                     (in-flight uploads)
type FSStore struct {
	basePath string
	mu       sync.RWMutex
	now      func() time.Time
}

var _ ArtifactStore = (*FSStore)(nil)

// NewFSStore creates a new filesystem-based artifact store.
func NewFSStore(basePath string) (*FSStore, error) {
	for _, dir := range []string{
		filepath.Join(basePath, "objects"),
		filepath.Join(basePath, "tmp"),
	} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return &FSStore{basePath: basePath, now: time.Now}, nil
}

type metaFile struct {
	Kind      Kind              `json:"kind"`
	Size      int64             `json:"size"`
	RefCount  int               `json:"refCount"`
	CreatedAt time.Time         `json:"createdAt"`
	Custom    map[string]string `json:"custom,omitempty"`
}

// Put streams r into a temp file while hashing, then moves it into place.
func (fs *FSStore) Put(ctx context.Context, kind Kind, r io.Reader, meta map[string]string) (Artifact, error) {
	tmp, err := os.CreateTemp(filepath.Join(fs.basePath, "tmp"), "upload-*")
	if err != nil {
		return Artifact{}, fmt.Errorf("create temp object: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), &ctxReader{ctx: ctx, r: r})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("write object: %w", err)
	}
	ref := hex.EncodeToString(h.Sum(nil))

	fs.mu.Lock()
	defer fs.mu.Unlock()

	objectPath := fs.objectPath(ref)
	if _, err := os.Stat(objectPath); err == nil {
		m, err := fs.readMetadata(ref)
		if err != nil {
			m = metaFile{Kind: kind, Size: size, CreatedAt: fs.now()}
		}
		m.RefCount++
		if err := fs.writeMetadata(ref, m); err != nil {
			return Artifact{}, fmt.Errorf("update metadata: %w", err)
		}
		return m.artifact(ref), nil
	}

	if err := os.MkdirAll(filepath.Dir(objectPath), 0o750); err != nil {
		return Artifact{}, fmt.Errorf("create object directory: %w", err)
	}
	if err := os.Rename(tmpPath, objectPath); err != nil {
		return Artifact{}, fmt.Errorf("commit object: %w", err)
	}

	m := metaFile{Kind: kind, Size: size, RefCount: 1, CreatedAt: fs.now(), Custom: make(map[string]string, len(meta))}
	for k, v := range meta {
		m.Custom[k] = v
	}
	if err := fs.writeMetadata(ref, m); err != nil {
		return Artifact{}, fmt.Errorf("write metadata: %w", err)
	}
	return m.artifact(ref), nil
}

// PutFile stores the file at path.
func (fs *FSStore) PutFile(ctx context.Context, kind Kind, path string, meta map[string]string) (Artifact, error) {
	// #nosec G304 - path is produced by the packager inside the workspace
	f, err := os.Open(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return fs.Put(ctx, kind, f, meta)
}

// Open returns a reader for ref.
func (fs *FSStore) Open(_ context.Context, ref string) (io.ReadCloser, Artifact, error) {
	if !validRef(ref) {
		return nil, Artifact{}, ErrNotFound{Ref: ref}
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	// #nosec G304 - objectPath is internal, constructed from a validated hash
	f, err := os.Open(fs.objectPath(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Artifact{}, ErrNotFound{Ref: ref}
		}
		return nil, Artifact{}, fmt.Errorf("open object: %w", err)
	}
	a, err := fs.statUnlocked(ref)
	if err != nil {
		_ = f.Close()
		return nil, Artifact{}, err
	}
	return f, a, nil
}

// Stat returns metadata for ref.
func (fs *FSStore) Stat(_ context.Context, ref string) (Artifact, error) {
	if !validRef(ref) {
		return Artifact{}, ErrNotFound{Ref: ref}
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.statUnlocked(ref)
}

func (fs *FSStore) statUnlocked(ref string) (Artifact, error) {
	info, err := os.Stat(fs.objectPath(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return Artifact{}, ErrNotFound{Ref: ref}
		}
		return Artifact{}, fmt.Errorf("stat object: %w", err)
	}
	m, err := fs.readMetadata(ref)
	if err != nil {
		// Missing metadata is tolerated; size comes from the object itself.
		m = metaFile{RefCount: 1, CreatedAt: info.ModTime()}
	}
	m.Size = info.Size()
	return m.artifact(ref), nil
}

// Release drops one reference to ref.
func (fs *FSStore) Release(_ context.Context, ref string) error {
	if !validRef(ref) {
		return ErrNotFound{Ref: ref}
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, err := os.Stat(fs.objectPath(ref)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound{Ref: ref}
		}
		return fmt.Errorf("stat object: %w", err)
	}
	m, err := fs.readMetadata(ref)
	if err == nil && m.RefCount > 1 {
		m.RefCount--
		return fs.writeMetadata(ref, m)
	}
	return fs.deleteUnlocked(ref)
}

// List returns artifacts matching kind, ordered by creation time.
func (fs *FSStore) List(_ context.Context, kind Kind) ([]Artifact, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var out []Artifact
	objectsDir := filepath.Join(fs.basePath, "objects")
	err := filepath.WalkDir(objectsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".meta.json") {
			return nil
		}
		rel, err := filepath.Rel(objectsDir, path)
		if err != nil {
			return nil
		}
		ref := strings.ReplaceAll(rel, string(filepath.Separator), "")
		if !validRef(ref) {
			return nil
		}
		a, err := fs.statUnlocked(ref)
		if err != nil {
			return err
		}
		if kind == "" || a.Kind == kind {
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk objects: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Close releases resources.
func (fs *FSStore) Close() error { return nil }

func (fs *FSStore) deleteUnlocked(ref string) error {
	objectPath := fs.objectPath(ref)
	if err := os.Remove(objectPath); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound{Ref: ref}
		}
		return fmt.Errorf("delete object: %w", err)
	}
	_ = os.Remove(fs.metadataPath(ref))
	// Only succeeds when the shard directory is empty.
	_ = os.Remove(filepath.Dir(objectPath))
	slog.Debug("Artifact removed", "ref", ref, logfields.Path(objectPath))
	return nil
}

func (fs *FSStore) objectPath(ref string) string {
	return filepath.Join(fs.basePath, "objects", ref[:2], ref[2:])
}

func (fs *FSStore) metadataPath(ref string) string {
	return fs.objectPath(ref) + ".meta.json"
}

func (fs *FSStore) readMetadata(ref string) (metaFile, error) {
	var m metaFile
	// #nosec G304 - metadataPath is internal
	data, err := os.ReadFile(fs.metadataPath(ref))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}

func (fs *FSStore) writeMetadata(ref string, m metaFile) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(fs.metadataPath(ref), data, 0o600)
}

func (m metaFile) artifact(ref string) Artifact {
	return Artifact{Ref: ref, Kind: m.Kind, Size: m.Size, RefCount: m.RefCount, CreatedAt: m.CreatedAt, Custom: m.Custom}
}

// ctxReader stops a long copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
