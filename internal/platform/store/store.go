// Package store is the persistence adapter for the clinic agenda. It exposes
// the same four row operations over every table (fetch all, insert, upsert by
// key, delete by key) and ships two interchangeable backends: PostgreSQL via
// pgx and a flat-file fallback with one CSV file per table.
package store

import (
	"context"
	"errors"
	"fmt"
)

// Table names.
const (
	Patients      = "patients"
	Professionals = "professionals"
	Services      = "services"
	Appointments  = "appointments"
)

// Tables lists every table of the schema.
func Tables() []string {
	return []string{Patients, Professionals, Services, Appointments}
}

// DefaultPK is the primary key column shared by every table.
const DefaultPK = "id"

var (
	ErrUnknownTable  = errors.New("unknown table")
	ErrUnknownColumn = errors.New("unknown column")
	// ErrOverlap is returned when the backend itself refuses an appointment
	// that overlaps another one for the same professional and day.
	ErrOverlap = errors.New("appointment overlaps an existing booking")
)

// Record is one row keyed by column name. An empty value is stored as NULL
// by the relational backend and as an empty cell by the file backend. On
// writes only the columns present in the map are touched.
type Record map[string]string

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Store is implemented by both backends.
type Store interface {
	// FetchAll returns every row of the table in storage order.
	FetchAll(ctx context.Context, table string) ([]Record, error)
	// Insert adds a row and returns its key. A missing or empty key is
	// generated by the backend.
	Insert(ctx context.Context, table string, rec Record) (string, error)
	// Upsert inserts when the key column is absent or empty and otherwise
	// overwrites only the supplied columns of the matching row, inserting it
	// when no row matches.
	Upsert(ctx context.Context, table string, rec Record, pk string) (string, error)
	// Delete removes the row whose key column equals pkValue.
	Delete(ctx context.Context, table string, pkValue string, pk string) error
	// Backend names the implementation ("postgres" or "csv").
	Backend() string
	Close()
}

var schema = map[string][]string{
	Patients:      {"id", "full_name", "rut", "birth_date", "phone", "email", "created_at"},
	Professionals: {"id", "full_name", "specialty", "created_at"},
	Services:      {"id", "name", "duration_minutes", "price", "created_at"},
	Appointments: {"id", "patient_id", "professional_id", "service_id", "date", "start_time",
		"end_time", "status", "notes", "price", "created_at"},
}

// Columns returns the ordered column list of a table.
func Columns(table string) ([]string, error) {
	cols, ok := schema[table]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	out := make([]string, len(cols))
	copy(out, cols)
	return out, nil
}

// validate checks the table and every column referenced by rec and pk
// against the fixed schema. Table and column names are interpolated into SQL
// by the relational backend, so nothing outside the schema may pass.
func validate(table string, rec Record, pk string) ([]string, error) {
	cols, err := Columns(table)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(cols))
	for _, c := range cols {
		known[c] = true
	}
	if pk != "" && !known[pk] {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table, pk)
	}
	for k := range rec {
		if !known[k] {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table, k)
		}
	}
	return cols, nil
}

// suppliedColumns returns the columns of rec in schema order, skipping skip.
func suppliedColumns(cols []string, rec Record, skip string) []string {
	var out []string
	for _, c := range cols {
		if c == skip {
			continue
		}
		if _, ok := rec[c]; ok {
			out = append(out, c)
		}
	}
	return out
}
