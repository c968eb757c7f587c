package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/lib/pq"

	"rollcall/internal/identity/ports"
	dErrors "rollcall/pkg/domain-errors"
	"rollcall/pkg/platform/sentinel"
	"rollcall/pkg/platform/tx"
)

const (
	// DriverPgx selects jackc/pgx through database/sql.
	DriverPgx = "pgx"
	// DriverPQ selects lib/pq.
	DriverPQ = "postgres"

	defaultTxTimeout = 5 * time.Second

	uniqueViolation = "23505"
)

// Postgres implements every identity store on one *sql.DB. Stores join the
// transaction carried in the context when there is one.
type Postgres struct {
	db        *sql.DB
	txTimeout time.Duration
}

// PostgresOption configures a Postgres store.
type PostgresOption func(*Postgres)

// WithTxTimeout bounds RunInTx when the caller's context has no deadline.
func WithTxTimeout(d time.Duration) PostgresOption {
	return func(p *Postgres) {
		if d > 0 {
			p.txTimeout = d
		}
	}
}

// NewPostgres wraps db.
func NewPostgres(db *sql.DB, opts ...PostgresOption) *Postgres {
	p := &Postgres{db: db, txTimeout: defaultTxTimeout}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Open connects with the named driver and verifies the connection.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	switch driver {
	case "":
		driver = DriverPgx
	case DriverPgx, DriverPQ:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// DB exposes the underlying pool.
func (p *Postgres) DB() *sql.DB {
	return p.db
}

// Stores returns the store bundle backed by p.
func (p *Postgres) Stores() ports.Stores {
	return ports.Stores{
		Persons:     &pgPersons{p.db},
		Memberships: &pgMemberships{p.db},
		Invitations: &pgInvitations{p.db},
		Lectures:    &pgLectures{p.db},
		Accounts:    &pgAccounts{p.db},
		Conflicts:   &pgConflicts{p.db},
		Audits:      &pgAudits{p.db},
	}
}

// RunInTx runs fn in a database transaction. A context already carrying a
// transaction joins it.
func (p *Postgres) RunInTx(ctx context.Context, fn func(ctx context.Context, s ports.Stores) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, ok := tx.From(ctx); ok {
		return fn(ctx, p.Stores())
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.txTimeout)
		defer cancel()
	}

	sqlTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(tx.WithTx(ctx, sqlTx), p.Stores()); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// mapWriteErr turns driver-level unique violations into sentinel.ErrConflict
// for both supported drivers.
func mapWriteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", op, sentinel.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	return false
}

func mapReadErr(op, kind string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(kind)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func requireAffected(res sql.Result, kind string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound(kind)
	}
	return nil
}

func affected(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// placeholders renders "$start, $start+1, ..." for n arguments.
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "$" + strconv.Itoa(start+i)
	}
	return strings.Join(parts, ", ")
}

func nullLegacyID(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

type rowScanner interface {
	Scan(dest ...any) error
}
