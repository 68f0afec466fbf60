package unitofwork

import (
	"context"

	"notefiber-collab/internal/repository/contract"
)

type UnitOfWork interface {
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error

	DocumentUpdateRepository() contract.DocumentUpdateRepository
}
