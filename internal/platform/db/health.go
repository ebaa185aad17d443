package db

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// Health is the /health/db body. Status is "healthy", "unmigrated" when the
// server reaches Postgres but some clinic tables are missing, or "unhealthy"
// when the ping fails.
type Health struct {
	Status        string     `json:"status"`
	Backend       string     `json:"backend"`
	Database      string     `json:"database,omitempty"`
	MissingTables []string   `json:"missing_tables,omitempty"`
	Error         string     `json:"error,omitempty"`
	Pool          *PoolStats `json:"pool,omitempty"`
}

// Code is the HTTP status matching the health state.
func (h *Health) Code() int {
	if h.Status == "healthy" {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

type healthDB interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// CheckHealth pings the database and verifies every table in tables exists in
// the current schema.
func CheckHealth(ctx context.Context, db healthDB, tables []string) *Health {
	h := &Health{Status: "healthy", Backend: "postgres"}
	if err := db.Ping(ctx); err != nil {
		h.Status, h.Error = "unhealthy", err.Error()
		return h
	}
	if len(tables) == 0 {
		return h
	}

	rows, err := db.Query(ctx,
		`SELECT table_name::text FROM information_schema.tables
		 WHERE table_schema = current_schema() AND table_name = ANY($1)`, tables)
	if err != nil {
		h.Status, h.Error = "unhealthy", fmt.Sprintf("list tables: %v", err)
		return h
	}
	defer rows.Close()

	present := make(map[string]bool, len(tables))
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			h.Status, h.Error = "unhealthy", fmt.Sprintf("scan table: %v", err)
			return h
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		h.Status, h.Error = "unhealthy", fmt.Sprintf("list tables: %v", err)
		return h
	}

	for _, t := range tables {
		if !present[t] {
			h.MissingTables = append(h.MissingTables, t)
		}
	}
	if len(h.MissingTables) > 0 {
		sort.Strings(h.MissingTables)
		h.Status = "unmigrated"
		h.Error = "run `clinic-server migrate up`"
	}
	return h
}

// HealthHandler serves /health/db for the Postgres backend: reachability,
// schema presence for tables and pool statistics.
func HealthHandler(pool *pgxpool.Pool, logger zerolog.Logger, tables ...string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		h := CheckHealth(ctx, pool, tables)
		h.Database = pool.Config().ConnConfig.Database
		h.Pool = GetPoolStats(pool)
		if h.Status != "healthy" {
			logger.Warn().Str("status", h.Status).Strs("missing_tables", h.MissingTables).
				Str("error", h.Error).Msg("database health check failed")
		}
		return c.JSON(h.Code(), h)
	}
}
