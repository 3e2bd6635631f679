package h5trim

import (
	"errors"
	"fmt"

	"github.com/scigolib/h5trim/internal/core"
)

// Sentinel errors. Callers test for them with errors.Is.
var (
	// ErrNotFound reports a path with a missing segment.
	ErrNotFound = errors.New("not found")

	// ErrExists reports a name that is already taken, or a path occupied
	// by an object of the wrong kind.
	ErrExists = errors.New("already exists")

	// ErrUnsupported reports an HDF5 feature this package does not handle.
	ErrUnsupported = core.ErrUnsupported

	// ErrClosed reports use of a file or writer after Close.
	ErrClosed = errors.New("file already closed")
)

// AttrCollisionWarning is reported when a copied attribute replaces one
// of the same name on the destination.
type AttrCollisionWarning struct {
	Path string
	Name string
}

func (w *AttrCollisionWarning) Error() string {
	return fmt.Sprintf("attribute %q on %s replaced by copy", w.Name, w.Path)
}

// ExternalLinkWarning is reported when a copy skips an external link.
type ExternalLinkWarning struct {
	Path   string
	File   string
	Target string
}

func (w *ExternalLinkWarning) Error() string {
	return fmt.Sprintf("external link %s -> %s:%s not copied", w.Path, w.File, w.Target)
}

func notFound(path string) error {
	return fmt.Errorf("%s: %w", path, ErrNotFound)
}

func exists(path string) error {
	return fmt.Errorf("%s: %w", path, ErrExists)
}
