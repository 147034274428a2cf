package migrate

import (
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/multierr"
)

const (
	markerUp    = "-- +goose Up"
	markerDown  = "-- +goose Down"
	markerBegin = "-- +goose StatementBegin"
	markerEnd   = "-- +goose StatementEnd"
)

var migrationFileRe = regexp.MustCompile(`^(\d{14})_([a-z0-9_]+)\.sql$`)

// MigrationFile is one parsed entry of a migrations directory.
type MigrationFile struct {
	Version int64
	Name    string
}

// ValidateDir checks every goose file under dir. All problems are reported together.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("stat %q: %w", dir, err)
	}
	return ValidateFS(os.DirFS(dir))
}

// ValidateFS is ValidateDir over an arbitrary filesystem rooted at the migrations dir.
func ValidateFS(fsys fs.FS) error {
	files, err := ListMigrations(fsys)
	if err != nil {
		return err
	}

	var errs error
	seen := make(map[int64]string, len(files))
	for _, f := range files {
		if prev, ok := seen[f.Version]; ok {
			errs = multierr.Append(errs, fmt.Errorf("duplicate version %d in %q and %q", f.Version, prev, f.Name))
			continue
		}
		seen[f.Version] = f.Name

		body, err := fs.ReadFile(fsys, f.Name)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("read %q: %w", f.Name, err))
			continue
		}
		errs = multierr.Append(errs, checkMigrationBody(f.Name, string(body)))
	}
	return errs
}

// ListMigrations returns the .sql entries of fsys ordered by version.
// A .sql file that does not follow YYYYMMDDHHMMSS_name.sql is an error.
func ListMigrations(fsys fs.FS) ([]MigrationFile, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var (
		files []MigrationFile
		errs  error
	)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		m := migrationFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			errs = multierr.Append(errs, fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", e.Name()))
			continue
		}
		version, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("parse version of %q: %w", e.Name(), err))
			continue
		}
		files = append(files, MigrationFile{Version: version, Name: e.Name()})
	}
	if errs != nil {
		return nil, errs
	}

	sort.SliceStable(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	return files, nil
}

func checkMigrationBody(name, body string) error {
	up := strings.Index(body, markerUp)
	down := strings.Index(body, markerDown)
	switch {
	case up < 0:
		return fmt.Errorf("migration %q missing %q", name, markerUp)
	case down < 0:
		return fmt.Errorf("migration %q missing %q", name, markerDown)
	case down < up:
		return fmt.Errorf("migration %q has %q before %q", name, markerDown, markerUp)
	}

	var errs error
	if !hasStatement(body[up+len(markerUp) : down]) {
		errs = multierr.Append(errs, fmt.Errorf("migration %q has an empty up section", name))
	}
	if begins, ends := strings.Count(body, markerBegin), strings.Count(body, markerEnd); begins != ends {
		errs = multierr.Append(errs, fmt.Errorf("migration %q has %d StatementBegin and %d StatementEnd markers", name, begins, ends))
	}
	return errs
}

// hasStatement reports whether section holds anything besides comments and whitespace.
func hasStatement(section string) bool {
	for _, line := range strings.Split(section, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return true
		}
	}
	return false
}
