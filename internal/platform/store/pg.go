package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// exclusionViolation is the SQLSTATE raised by an EXCLUDE constraint.
const exclusionViolation = "23P01"

// pgxIface is the subset of *pgxpool.Pool used by PGStore.
type pgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PGStore is the relational backend. Every operation is a single statement
// or a single short transaction; nothing spans tables.
type PGStore struct {
	db pgxIface
}

func NewPGStore(db pgxIface) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Backend() string { return "postgres" }

func (s *PGStore) Close() { s.db.Close() }

func (s *PGStore) FetchAll(ctx context.Context, table string) ([]Record, error) {
	cols, err := validate(table, nil, "")
	if err != nil {
		return nil, err
	}
	selects := make([]string, len(cols))
	for i, c := range cols {
		selects[i] = fmt.Sprintf("COALESCE(%s::text, '')", c)
	}
	rows, err := s.db.Query(ctx, `SELECT `+strings.Join(selects, ", ")+` FROM `+table)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", table, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		vals := make([]string, len(cols))
		dest := make([]any, len(cols))
		for i := range vals {
			dest[i] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		rec := make(Record, len(cols))
		for i, c := range cols {
			rec[c] = vals[i]
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return out, nil
}

func (s *PGStore) Insert(ctx context.Context, table string, rec Record) (string, error) {
	cols, err := validate(table, rec, DefaultPK)
	if err != nil {
		return "", err
	}
	return s.insert(ctx, s.db, table, cols, rec, DefaultPK)
}

type execQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PGStore) insert(ctx context.Context, q execQuerier, table string, cols []string, rec Record, pk string) (string, error) {
	// An empty key is left out so the column default generates it.
	skip := ""
	if strings.TrimSpace(rec[pk]) == "" {
		skip = pk
	}
	use := suppliedColumns(cols, rec, skip)

	var sql string
	args := make([]any, 0, len(use))
	if len(use) == 0 {
		sql = fmt.Sprintf(`INSERT INTO %s DEFAULT VALUES RETURNING %s::text`, table, pk)
	} else {
		placeholders := make([]string, len(use))
		for i, c := range use {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args = append(args, nullable(rec[c]))
		}
		sql = fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING %s::text`,
			table, strings.Join(use, ", "), strings.Join(placeholders, ", "), pk)
	}

	var id string
	if err := q.QueryRow(ctx, sql, args...).Scan(&id); err != nil {
		return "", mapPGError(fmt.Errorf("insert into %s: %w", table, err))
	}
	return id, nil
}

func (s *PGStore) Upsert(ctx context.Context, table string, rec Record, pk string) (string, error) {
	if pk == "" {
		pk = DefaultPK
	}
	cols, err := validate(table, rec, pk)
	if err != nil {
		return "", err
	}
	key := strings.TrimSpace(rec[pk])
	if key == "" {
		return s.insert(ctx, s.db, table, cols, rec, pk)
	}

	set := suppliedColumns(cols, rec, pk)
	err = pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if len(set) > 0 {
			assignments := make([]string, len(set))
			args := []any{key}
			for i, c := range set {
				assignments[i] = fmt.Sprintf("%s = $%d", c, i+2)
				args = append(args, nullable(rec[c]))
			}
			tag, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET %s WHERE %s = $1`,
				table, strings.Join(assignments, ", "), pk), args...)
			if err != nil {
				return fmt.Errorf("update %s: %w", table, err)
			}
			if tag.RowsAffected() > 0 {
				return nil
			}
		}
		_, err := s.insert(ctx, tx, table, cols, rec, pk)
		return err
	})
	if err != nil {
		return "", mapPGError(err)
	}
	return key, nil
}

func (s *PGStore) Delete(ctx context.Context, table string, pkValue string, pk string) error {
	if pk == "" {
		pk = DefaultPK
	}
	if _, err := validate(table, nil, pk); err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, table, pk), pkValue); err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	return nil
}

// nullable maps an empty cell to SQL NULL. Strings are sent in text format,
// so the server casts them to the column type.
func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func mapPGError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == exclusionViolation {
		return fmt.Errorf("%w: %s", ErrOverlap, pgErr.ConstraintName)
	}
	return err
}
