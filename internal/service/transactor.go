package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bigkaa/smartact/internal/repository"
)

// Transactor — запуск операций с репозиториями в одной транзакции.
// Реализуется *repository.Store.
type Transactor interface {
	InTx(ctx context.Context, fn func(r repository.Repositories) error) error
}

// mapRepoError переводит ошибки репозитория в ошибки сервисного слоя.
func mapRepoError(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	case errors.Is(err, repository.ErrPrecondition):
		return fmt.Errorf("%w: %s", ErrConflict, what)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %s", ErrConflict, what)
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}
