package migrations

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	chstore "solana-reward-distributor/internal/storage/clickhouse"
)

// RunClickhouseMigrations creates the target database if needed, applies the
// embedded schema, and returns a connection to that database.
func RunClickhouseMigrations(ctx context.Context, dsn string) (*chstore.Conn, error) {
	dbName, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}

	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "default")
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse admin: %w", err)
	}
	createErr := admin.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", dbName))
	admin.Close()
	if createErr != nil {
		return nil, fmt.Errorf("create database %s: %w", dbName, createErr)
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, dbName)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse db: %w", err)
	}
	if err := ApplyClickhouse(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// ApplyClickhouse runs the embedded schema against an open connection.
func ApplyClickhouse(ctx context.Context, conn *chstore.Conn) error {
	files, err := sqlFiles(ClickhouseFS, "clickhouse")
	if err != nil {
		return fmt.Errorf("read embedded clickhouse migrations: %w", err)
	}

	for _, f := range files {
		if err := validateNoSemicolonInStrings(f.body); err != nil {
			return fmt.Errorf("validate migration %s: %w", f.name, err)
		}
		// The native protocol rejects multi-statement Exec.
		for _, stmt := range splitStatements(f.body) {
			if err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", f.name, err)
			}
		}
	}
	return nil
}

// splitStatements splits on semicolons after dropping blank and "--" lines.
// It does not understand string literals or block comments; migrations must
// keep semicolons out of both, which validateNoSemicolonInStrings enforces
// for literals.
func splitStatements(input string) []string {
	var kept []string
	for _, line := range strings.Split(input, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		kept = append(kept, line)
	}

	var stmts []string
	for _, part := range strings.Split(strings.Join(kept, "\n"), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

func validateNoSemicolonInStrings(sql string) error {
	inString := false
	for i := 0; i < len(sql); i++ {
		switch sql[i] {
		case '\'':
			if inString && i+1 < len(sql) && sql[i+1] == '\'' {
				i++
				continue
			}
			inString = !inString
		case ';':
			if inString {
				return fmt.Errorf("semicolon inside string literal at offset %d", i)
			}
		}
	}
	return nil
}

func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		return "", fmt.Errorf("clickhouse dsn missing database")
	}
	return db, nil
}
