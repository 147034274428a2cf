package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"sync"

	"github.com/pressly/goose/v3"
)

const (
	// DefaultDir is where new migrations are written and where the embedded set comes from.
	DefaultDir = "pkg/migrate/migrations"

	// Dialect is fixed: the migrations use jsonb, partial indexes and plpgsql.
	Dialect = "postgres"
)

//go:embed migrations/*.sql
var embedded embed.FS

// goose keeps its dialect and base filesystem in package globals.
var gooseMu sync.Mutex

// Embedded returns the migrations compiled into the binary.
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(fmt.Sprintf("migrate: embedded migrations: %v", err))
	}
	return sub
}

// source resolves dir to a filesystem. An empty dir selects the embedded set.
func source(dir string) fs.FS {
	if dir == "" {
		return Embedded()
	}
	return os.DirFS(dir)
}

// withGoose validates the migration set and points goose at it for the duration of fn.
func withGoose(dir string, fn func() error) error {
	fsys := source(dir)
	if err := ValidateFS(fsys); err != nil {
		return fmt.Errorf("invalid migrations: %w", err)
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := goose.SetDialect(Dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)

	return fn()
}

// Run executes a goose command (up, down, status, redo, ...) against db.
func Run(ctx context.Context, db *sql.DB, dir string, command string, args ...string) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	return withGoose(dir, func() error {
		// status output goes to stdout
		if err := goose.RunContext(ctx, command, db, ".", args...); err != nil {
			return fmt.Errorf("goose %s: %w", command, err)
		}
		return nil
	})
}

// CurrentVersion returns the version recorded in the goose table.
func CurrentVersion(ctx context.Context, db *sql.DB) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := goose.SetDialect(Dialect); err != nil {
		return 0, fmt.Errorf("set goose dialect: %w", err)
	}
	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("get db version: %w", err)
	}
	return version, nil
}

// MigrateToVersion moves the schema up or down to target. Target must be 0 or
// the version of a known migration.
func MigrateToVersion(ctx context.Context, db *sql.DB, dir string, target string) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	want, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", target, err)
	}
	if err := knownVersion(source(dir), want); err != nil {
		return err
	}

	current, err := CurrentVersion(ctx, db)
	if err != nil {
		return err
	}

	return withGoose(dir, func() error {
		switch {
		case current == want:
			return nil
		case current < want:
			if err := goose.UpToContext(ctx, db, ".", want); err != nil {
				return fmt.Errorf("goose up-to %d: %w", want, err)
			}
		default:
			if err := goose.DownToContext(ctx, db, ".", want); err != nil {
				return fmt.Errorf("goose down-to %d: %w", want, err)
			}
		}
		return nil
	})
}

func knownVersion(fsys fs.FS, version int64) error {
	if version == 0 {
		return nil
	}
	files, err := ListMigrations(fsys)
	if err != nil {
		return err
	}
	for _, f := range files {
		if f.Version == version {
			return nil
		}
	}
	return fmt.Errorf("no migration with version %d", version)
}
