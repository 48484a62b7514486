package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/ignite/exigo-bridge/internal/pkg/logger"
)

// bridgeTables are the tables the migrations own.
var bridgeTables = []string{"autoship_snapshots", "customer_type_transitions", "integration_settings"}

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	dir := "migrations"
	listOnly := false
	for _, a := range os.Args[1:] {
		if a == "--list" {
			listOnly = true
		} else {
			dir = a
		}
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		logger.Error("ping failed", "error", err)
		os.Exit(1)
	}

	if listOnly {
		if err := listTables(ctx, db); err != nil {
			logger.Error("list tables failed", "error", err)
			os.Exit(1)
		}
		return
	}

	files, err := migrationFiles(dir)
	if err != nil {
		logger.Error("read migrations failed", "dir", dir, "error", err)
		os.Exit(1)
	}

	var okCount, errCount int
	for _, f := range files {
		if err := apply(ctx, db, filepath.Join(dir, f)); err != nil {
			fmt.Printf("  %s ... ERROR: %v\n", f, err)
			errCount++
			continue
		}
		fmt.Printf("  %s ... OK\n", f)
		okCount++
	}
	logger.Info("migrations complete", "ok", okCount, "errors", errCount)
	if errCount > 0 {
		os.Exit(1)
	}
}

func migrationFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// apply runs one file in its own transaction. Every migration is written
// to be re-runnable.
func apply(ctx context.Context, db *sql.DB, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, string(data)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func listTables(ctx context.Context, db *sql.DB) error {
	for _, t := range bridgeTables {
		var n int64
		err := db.QueryRowContext(ctx, `SELECT reltuples::bigint FROM pg_class WHERE relname = $1`, t).Scan(&n)
		if errors.Is(err, sql.ErrNoRows) {
			fmt.Printf("  %-28s missing\n", t)
			continue
		}
		if err != nil {
			return err
		}
		fmt.Printf("  %-28s ~%d rows\n", t, n)
	}
	return nil
}
