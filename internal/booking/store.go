package booking

import (
	"context"

	"github.com/eventhub/booking/internal/adapters/crdb"
)

// crdbStore bridges the repository's concrete transaction type to the
// service's Store contract. Everything except WithTx is promoted from the
// embedded repository.
type crdbStore struct {
	*crdb.Repository
}

func NewCRDBStore(repo *crdb.Repository) Store {
	return crdbStore{Repository: repo}
}

func (s crdbStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.Repository.WithTx(ctx, func(tx *crdb.Tx) error {
		return fn(tx)
	})
}
