package contract

import (
	"context"

	"notefiber-collab/internal/entity"
	"notefiber-collab/internal/repository/specification"
)

type DocumentUpdateRepository interface {
	// Append stores the update with the next sequence number of its document.
	Append(ctx context.Context, update *entity.DocumentUpdate) error
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.DocumentUpdate, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
	LastSeq(ctx context.Context, documentID string) (int64, error)
	DeleteThrough(ctx context.Context, documentID string, seq int64) error
}
