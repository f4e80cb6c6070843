package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repositories — набор репозиториев поверх одного DBTX (пул или транзакция).
type Repositories struct {
	Recordings    RecordingRepository
	Meetings      MeetingRepository
	Actions       ActionRepository
	Confirmations ConfirmationRepository
}

// NewRepositories создаёт репозитории поверх db.
func NewRepositories(db DBTX) Repositories {
	return Repositories{
		Recordings:    NewRecordingRepository(db),
		Meetings:      NewMeetingRepository(db),
		Actions:       NewActionRepository(db),
		Confirmations: NewConfirmationRepository(db),
	}
}

// Store — репозитории пула и запуск операций в транзакции.
type Store struct {
	Repositories
	tx *TxRunner
}

// NewStore создаёт Store поверх пула.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		Repositories: NewRepositories(pool),
		tx:           NewTxRunner(pool),
	}
}

// InTx выполняет fn с репозиториями, привязанными к одной транзакции.
func (s *Store) InTx(ctx context.Context, fn func(r Repositories) error) error {
	return s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		return fn(NewRepositories(tx))
	})
}
