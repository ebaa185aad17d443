package store

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/cian/agenda/internal/platform/db"
)

// Options selects and configures a backend.
type Options struct {
	DatabaseURL string
	DataDir     string
	MaxConns    int32
	MinConns    int32
}

// Open returns the relational backend when a connection string is set and the
// file backend otherwise. The returned store is meant to live for the whole
// process.
func Open(ctx context.Context, opts Options, logger zerolog.Logger) (Store, error) {
	if strings.TrimSpace(opts.DatabaseURL) == "" {
		s, err := NewCSVStore(opts.DataDir)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("backend", s.Backend()).Str("dir", opts.DataDir).Msg("storage ready")
		return s, nil
	}

	pool, err := db.NewPool(ctx, opts.DatabaseURL, opts.MaxConns, opts.MinConns)
	if err != nil {
		return nil, err
	}
	s := NewPGStore(pool)
	logger.Info().Str("backend", s.Backend()).Msg("storage ready")
	return s, nil
}

// Pool returns the connection pool behind a relational store, or nil.
func Pool(s Store) *pgxpool.Pool {
	pg, ok := s.(*PGStore)
	if !ok {
		return nil
	}
	pool, _ := pg.db.(*pgxpool.Pool)
	return pool
}
