package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory ArtifactStore for tests and one-shot CLI runs.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string]*memObject
	calls   MemCalls
}

// MemCalls tracks method invocations for test verification.
type MemCalls struct {
	Put     int
	Open    int
	Release int
}

type memObject struct {
	Artifact
	data []byte
}

var _ ArtifactStore = (*MemStore)(nil)

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string]*memObject)}
}

// Put reads r fully and stores it.
func (m *MemStore) Put(ctx context.Context, kind Kind, r io.Reader, meta map[string]string) (Artifact, error) {
	data, err := io.ReadAll(&ctxReader{ctx: ctx, r: r})
	if err != nil {
		return Artifact{}, fmt.Errorf("read object: %w", err)
	}
	sum := sha256.Sum256(data)
	ref := hex.EncodeToString(sum[:])

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Put++

	if existing, ok := m.objects[ref]; ok {
		existing.RefCount++
		return existing.Artifact, nil
	}
	custom := make(map[string]string, len(meta))
	for k, v := range meta {
		custom[k] = v
	}
	obj := &memObject{
		Artifact: Artifact{Ref: ref, Kind: kind, Size: int64(len(data)), RefCount: 1, CreatedAt: time.Now(), Custom: custom},
		data:     data,
	}
	m.objects[ref] = obj
	return obj.Artifact, nil
}

// PutFile stores the file at path.
func (m *MemStore) PutFile(ctx context.Context, kind Kind, path string, meta map[string]string) (Artifact, error) {
	// #nosec G304 - test and CLI helper
	f, err := os.Open(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return m.Put(ctx, kind, f, meta)
}

// Open returns a reader over a copy of the stored bytes.
func (m *MemStore) Open(_ context.Context, ref string) (io.ReadCloser, Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Open++
	obj, ok := m.objects[ref]
	if !ok {
		return nil, Artifact{}, ErrNotFound{Ref: ref}
	}
	return io.NopCloser(bytes.NewReader(obj.data)), obj.Artifact, nil
}

// Stat returns metadata for ref.
func (m *MemStore) Stat(_ context.Context, ref string) (Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[ref]
	if !ok {
		return Artifact{}, ErrNotFound{Ref: ref}
	}
	return obj.Artifact, nil
}

// Release drops one reference.
func (m *MemStore) Release(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Release++
	obj, ok := m.objects[ref]
	if !ok {
		return ErrNotFound{Ref: ref}
	}
	obj.RefCount--
	if obj.RefCount <= 0 {
		delete(m.objects, ref)
	}
	return nil
}

// List returns artifacts matching kind, ordered by creation time.
func (m *MemStore) List(_ context.Context, kind Kind) ([]Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Artifact
	for _, obj := range m.objects {
		if kind == "" || obj.Kind == kind {
			out = append(out, obj.Artifact)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Close is a no-op.
func (m *MemStore) Close() error { return nil }

// Calls returns a snapshot of invocation counts.
func (m *MemStore) Calls() MemCalls {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

// Len returns the number of distinct objects held.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
