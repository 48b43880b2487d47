// Package storage provides content-addressed storage for packaged site
// archives.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ArtifactStore holds build archives by the SHA-256 of their bytes. Identical
// archives share one object; every Put takes a reference and Release drops
// one, removing the object when none remain.
type ArtifactStore interface {
	// Put streams r into the store.
	Put(ctx context.Context, kind Kind, r io.Reader, meta map[string]string) (Artifact, error)

	// PutFile stores the file at path.
	PutFile(ctx context.Context, kind Kind, path string, meta map[string]string) (Artifact, error)

	// Open returns a reader for ref. The caller closes it.
	Open(ctx context.Context, ref string) (io.ReadCloser, Artifact, error)

	// Stat returns metadata without opening the object.
	Stat(ctx context.Context, ref string) (Artifact, error)

	// Release drops one reference. The object is deleted at zero.
	Release(ctx context.Context, ref string) error

	// List returns artifacts of the given kind, or all when kind is empty.
	List(ctx context.Context, kind Kind) ([]Artifact, error)

	Close() error
}

// Kind identifies which archive an artifact is.
type Kind string

const (
	KindSite   Kind = "site"
	KindSource Kind = "source"
)

// Artifact describes a stored archive.
type Artifact struct {
	Ref       string            `json:"ref"`
	Kind      Kind              `json:"kind"`
	Size      int64             `json:"size"`
	RefCount  int               `json:"refCount"`
	CreatedAt time.Time         `json:"createdAt"`
	Custom    map[string]string `json:"custom,omitempty"`
}

// ErrNotFound is returned when an object doesn't exist.
type ErrNotFound struct {
	Ref string
}

func (e ErrNotFound) Error() string {
	return "artifact not found: " + e.Ref
}

// IsNotFound returns true if the error is ErrNotFound.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}

func validRef(ref string) bool {
	if len(ref) != 64 {
		return false
	}
	for _, c := range ref {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
