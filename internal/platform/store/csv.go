package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// CSVStore keeps each table in <dir>/<table>.csv with a header row. It is
// meant for single-user local runs: the mutex serialises writers inside one
// process, but two processes sharing the directory can still lose updates.
type CSVStore struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

func NewCSVStore(dir string) (*CSVStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dir, err)
	}
	return &CSVStore{dir: dir, now: time.Now}, nil
}

func (s *CSVStore) Backend() string { return "csv" }

func (s *CSVStore) Close() {}

func (s *CSVStore) path(table string) string {
	return filepath.Join(s.dir, table+".csv")
}

func (s *CSVStore) FetchAll(_ context.Context, table string) ([]Record, error) {
	if _, err := validate(table, nil, ""); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, rows, err := s.read(table)
	return rows, err
}

// read loads the table file. A missing file is an empty table with the
// schema header.
func (s *CSVStore) read(table string) ([]string, []Record, error) {
	cols, _ := Columns(table)

	f, err := os.Open(s.path(table))
	if errors.Is(err, fs.ErrNotExist) {
		return cols, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", table, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	lines, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", table, err)
	}
	if len(lines) == 0 {
		return cols, nil, nil
	}

	header := lines[0]
	for _, c := range cols {
		if !contains(header, c) {
			header = append(header, c)
		}
	}
	rows := make([]Record, 0, len(lines)-1)
	for _, line := range lines[1:] {
		rec := make(Record, len(header))
		for i, c := range header {
			if i < len(line) {
				rec[c] = line[i]
			} else {
				rec[c] = ""
			}
		}
		rows = append(rows, rec)
	}
	return header, rows, nil
}

// write replaces the table file through a temp file and rename.
func (s *CSVStore) write(table string, header []string, rows []Record) error {
	tmp, err := os.CreateTemp(s.dir, table+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", table, err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s header: %w", table, err)
	}
	for _, rec := range rows {
		line := make([]string, len(header))
		for i, c := range header {
			line[i] = rec[c]
		}
		if err := w.Write(line); err != nil {
			tmp.Close()
			return fmt.Errorf("write %s row: %w", table, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush %s: %w", table, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", table, err)
	}
	if err := os.Rename(tmp.Name(), s.path(table)); err != nil {
		return fmt.Errorf("replace %s: %w", table, err)
	}
	return nil
}

// newKey derives a key from the current Unix milliseconds, stepping forward
// past keys already present in rows.
func (s *CSVStore) newKey(rows []Record, pk string) string {
	taken := make(map[string]bool, len(rows))
	for _, r := range rows {
		taken[r[pk]] = true
	}
	n := s.now().UnixMilli()
	for taken[strconv.FormatInt(n, 10)] {
		n++
	}
	return strconv.FormatInt(n, 10)
}

func (s *CSVStore) Insert(ctx context.Context, table string, rec Record) (string, error) {
	if _, err := validate(table, rec, DefaultPK); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}

	header, rows, err := s.read(table)
	if err != nil {
		return "", err
	}
	row := rec.Clone()
	if strings.TrimSpace(row[DefaultPK]) == "" {
		row[DefaultPK] = s.newKey(rows, DefaultPK)
	}
	rows = append(rows, row)
	if err := s.write(table, header, rows); err != nil {
		return "", err
	}
	return row[DefaultPK], nil
}

func (s *CSVStore) Upsert(ctx context.Context, table string, rec Record, pk string) (string, error) {
	if pk == "" {
		pk = DefaultPK
	}
	if _, err := validate(table, rec, pk); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}

	header, rows, err := s.read(table)
	if err != nil {
		return "", err
	}
	row := rec.Clone()
	key := strings.TrimSpace(row[pk])
	if key == "" {
		key = s.newKey(rows, pk)
	}
	row[pk] = key

	matched := false
	for _, existing := range rows {
		if existing[pk] != key {
			continue
		}
		for k, v := range row {
			existing[k] = v
		}
		matched = true
	}
	if !matched {
		rows = append(rows, row)
	}
	if err := s.write(table, header, rows); err != nil {
		return "", err
	}
	return key, nil
}

func (s *CSVStore) Delete(ctx context.Context, table string, pkValue string, pk string) error {
	if pk == "" {
		pk = DefaultPK
	}
	if _, err := validate(table, nil, pk); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	header, rows, err := s.read(table)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	kept := rows[:0]
	for _, r := range rows {
		if r[pk] != pkValue {
			kept = append(kept, r)
		}
	}
	return s.write(table, header, kept)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
