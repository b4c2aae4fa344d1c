package assets

import (
	"context"
	"fmt"
)

// Handle identifies one loaded asset. Handles compare by identity: loading the
// same path twice yields equal handles, distinct paths never do. The zero Handle
// refers to nothing.
type Handle struct {
	id uint64
}

// NewHandle returns the handle for id. Stores allocate handles themselves; this
// exists for content sources defined outside this package.
func NewHandle(id uint64) Handle {
	return Handle{id: id}
}

// ID returns the numeric asset id.
func (h Handle) ID() uint64 {
	return h.id
}

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool {
	return h.id == 0
}

// String implements fmt.Stringer.
func (h Handle) String() string {
	return fmt.Sprintf("asset#%d", h.id)
}

// ChangeKind classifies a content change notification.
type ChangeKind int

const (
	// ChangeAdded is reported when an asset's content becomes available for the first time.
	ChangeAdded ChangeKind = iota + 1

	// ChangeModified is reported when available content is replaced.
	ChangeModified

	// ChangeRemoved is reported when the backing file disappears or the asset is unloaded.
	ChangeRemoved
)

// String implements fmt.Stringer.
func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is a content change notification.
type Change struct {
	Kind   ChangeKind
	Handle Handle
}

// Compiler converts raw file bytes into story text before it becomes available.
type Compiler interface {
	// Handles reports whether the compiler applies to the given path.
	Handles(path string) bool

	// Compile returns the text to publish for path.
	Compile(ctx context.Context, path string, src []byte) ([]byte, error)
}
