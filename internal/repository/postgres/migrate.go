package postgresrepo

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type Migration struct {
	Version int
	Name    string
	SQL     string
}

// LoadMigrations returns the embedded migrations ordered by version. Files are
// named <version>_<name>.sql.
func LoadMigrations() ([]Migration, error) {
	const op = "postgresrepo.LoadMigrations"

	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var out []Migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}

		base := strings.TrimSuffix(e.Name(), ".sql")
		verStr, name, ok := strings.Cut(base, "_")
		if !ok {
			return nil, fmt.Errorf("%s: bad migration file name %q", op, e.Name())
		}

		version, err := strconv.Atoi(verStr)
		if err != nil {
			return nil, fmt.Errorf("%s: bad migration version in %q: %w", op, e.Name(), err)
		}

		body, err := migrationFiles.ReadFile("migrations/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		out = append(out, Migration{Version: version, Name: name, SQL: string(body)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })

	return out, nil
}

// Migrate applies every embedded migration not yet recorded in
// schema_migrations, each in its own transaction.
func (s *Store) Migrate(ctx context.Context) (int, error) {
	const op = "postgresrepo.Store.Migrate"

	if _, err := s.pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	); err != nil {
		return 0, wrapDBErr(op, err)
	}

	migrations, err := LoadMigrations()
	if err != nil {
		return 0, err
	}

	rows, err := s.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return 0, wrapDBErr(op, err)
	}

	applied, err := pgx.CollectRows(rows, pgx.RowTo[int32])
	if err != nil {
		return 0, wrapDBErr(op, err)
	}

	done := make(map[int]bool, len(applied))
	for _, v := range applied {
		done[int(v)] = true
	}

	count := 0
	for _, m := range migrations {
		if done[m.Version] {
			continue
		}

		err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations(version, name) VALUES ($1, $2)`,
				m.Version, m.Name,
			)
			return err
		})
		if err != nil {
			return count, wrapDBErr(fmt.Sprintf("%s %d_%s", op, m.Version, m.Name), err)
		}

		count++
	}

	return count, nil
}
