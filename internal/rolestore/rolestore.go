package rolestore

import (
	"context"
	"errors"
)

var ErrDocumentNotFound = errors.New("document not found")

// FieldUpdater actualiza un campo puntual de un documento existente.
type FieldUpdater interface {
	UpdateField(ctx context.Context, collection, id, field string, value any) error
}
