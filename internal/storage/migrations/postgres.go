package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"solana-reward-distributor/internal/storage/postgres"
)

// RunPostgresMigrations applies all embedded SQL files in lexical order.
// Every statement uses IF NOT EXISTS, so reapplying is a no-op.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	files, err := sqlFiles(PostgresFS, "postgres")
	if err != nil {
		return fmt.Errorf("read embedded postgres migrations: %w", err)
	}

	for _, f := range files {
		if strings.TrimSpace(f.body) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, f.body); err != nil {
			return fmt.Errorf("apply migration %s: %w", f.name, err)
		}
	}
	return nil
}

type sqlFile struct {
	name string
	body string
}

// sqlFiles reads every .sql file under dir, sorted by name (001_, 002_, ...).
func sqlFiles(fsys fs.FS, dir string) ([]sqlFile, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	files := make([]sqlFile, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, dir+"/"+name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		files = append(files, sqlFile{name: name, body: string(data)})
	}
	return files, nil
}
