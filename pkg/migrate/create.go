package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const versionLayout = "20060102150405"

var slugUnsafeRe = regexp.MustCompile(`[^a-z0-9]+`)

// CreateSQLMigration writes <dir>/<version>_<slug>.sql with empty up/down sections
// and returns its path.
func CreateSQLMigration(dir, name string) (string, error) {
	return createSQLMigration(dir, name, time.Now())
}

func createSQLMigration(dir, name string, now time.Time) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("dir is required")
	}
	slug := migrationSlug(name)
	if slug == "" {
		return "", fmt.Errorf("name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}

	version, err := nextVersion(dir, now)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, fmt.Sprintf("%d_%s.sql", version, slug))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create migration %q: %w", path, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, migrationTemplate, slug, slug); err != nil {
		return "", fmt.Errorf("write migration %q: %w", path, err)
	}
	return path, nil
}

const migrationTemplate = `-- +goose Up
-- +goose StatementBegin
-- %s
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- revert %s
-- +goose StatementEnd
`

// nextVersion is the UTC timestamp of now, bumped past the newest existing
// version so files stay ordered when clocks disagree.
func nextVersion(dir string, now time.Time) (int64, error) {
	version, err := strconv.ParseInt(now.UTC().Format(versionLayout), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("format version: %w", err)
	}

	files, err := ListMigrations(os.DirFS(dir))
	if err != nil {
		return 0, err
	}
	if n := len(files); n > 0 && files[n-1].Version >= version {
		latest, err := time.Parse(versionLayout, strconv.FormatInt(files[n-1].Version, 10))
		if err != nil {
			return 0, fmt.Errorf("parse latest version %d: %w", files[n-1].Version, err)
		}
		return strconv.ParseInt(latest.Add(time.Second).Format(versionLayout), 10, 64)
	}
	return version, nil
}

func migrationSlug(name string) string {
	slug := slugUnsafeRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")
	return strings.Trim(slug, "_")
}
