// internal/databridge/bridge.go
package databridge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xkilldash9x/scraperflow/api/schemas"
)

var (
	// ErrUnknownSource is returned for a source name that was never declared.
	ErrUnknownSource = errors.New("unknown data source")
	// ErrInvalidKey is returned for a key that is not of the form "source.column".
	ErrInvalidKey = errors.New("invalid data key")
)

// Column is one resolved column assignment of a SetMany call.
type Column struct {
	Name  string
	Value schemas.Scalar
}

// Schema maps "source.column" keys to the store's type name of the column.
type Schema map[string]string

// Bridge binds instructions to rows of an external store through
// "source.column" keys. Reads and writes target the row under the cursor of
// the addressed source: the iterator's current offset when the iterator is
// bound to that source, the first row otherwise.
type Bridge interface {
	Get(ctx context.Context, key string) (schemas.Scalar, error)
	// Set updates the row under the cursor, inserting one if none exists.
	Set(ctx context.Context, key string, value schemas.Scalar) error
	// SetMany is Set for several columns of the same row in one operation.
	SetMany(ctx context.Context, source string, items []Column) error
	// Delete removes the row under the cursor. It logs an error and does
	// nothing unless the active iterator is bound to source.
	Delete(ctx context.Context, source string) error
	GetSchema(ctx context.Context) (Schema, error)
	// NextIteration advances the active iterator. It is a no-op at the end.
	NextIteration()
	IsLastIteration() bool
	// ResolveSpecialString substitutes every {{source.column}} token. It never fails.
	ResolveSpecialString(ctx context.Context, s string) string
}

// ParseKey splits a "source.column" key.
func ParseKey(key string) (source, column string, err error) {
	source, column, ok := strings.Cut(key, ".")
	if !ok || source == "" || column == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return source, column, nil
}
