package pgx

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tesselab/ariadne/pkg/common"
	"github.com/tesselab/ariadne/pkg/store"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// GraphDBStorage implements store.GraphStorage on PostgreSQL with pgvector
// for similarity search. All SQL is parameterized by tenant id; requireTenant
// is the single point where missing tenant context is rejected.
type GraphDBStorage struct {
	conn pgxIConn
}

var _ store.GraphStorage = (*GraphDBStorage)(nil)

// NewGraphDBStorage creates a GraphDBStorage using an existing database
// connection or pool.
func NewGraphDBStorage(conn pgxIConn) *GraphDBStorage {
	return &GraphDBStorage{conn: conn}
}

// pgxRows is the subset of pgx.Rows the scan helpers need, so tests can
// substitute fakes.
type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

func requireTenant(tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return common.ErrMissingTenant
	}
	return nil
}
