package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"

	"brokerdesk/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// --- Mock Rows ---

// mockRows serves canned row data through the pgx.Rows interface. Scan
// assigns by position using the concrete destination types the repositories
// scan into.
type mockRows struct {
	data    [][]any
	idx     int
	closed  bool
	scanErr error
	errVal  error
}

func newMockRows(data [][]any) *mockRows {
	return &mockRows{data: data, idx: -1}
}

func (r *mockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.data)
}

func (r *mockRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	row := r.data[r.idx]
	for i, d := range dest {
		if row[i] == nil {
			continue
		}
		switch v := d.(type) {
		case *int64:
			*v = row[i].(int64)
		case **int64:
			val := row[i].(int64)
			*v = &val
		case *int:
			*v = row[i].(int)
		case *string:
			*v = row[i].(string)
		case **string:
			val := row[i].(string)
			*v = &val
		case *bool:
			*v = row[i].(bool)
		case *float64:
			*v = row[i].(float64)
		case *time.Time:
			*v = row[i].(time.Time)
		case **time.Time:
			val := row[i].(time.Time)
			*v = &val
		case *types.UserRole:
			*v = row[i].(types.UserRole)
		case *types.PaymentStatus:
			*v = row[i].(types.PaymentStatus)
		}
	}
	return nil
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.errVal }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
