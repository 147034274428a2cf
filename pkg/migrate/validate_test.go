package migrate

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

const validBody = `-- +goose Up
-- +goose StatementBegin
CREATE TABLE widgets (id uuid PRIMARY KEY);
-- +goose StatementEnd

-- +goose Down
DROP TABLE widgets;
`

func mapFS(files map[string]string) fstest.MapFS {
	out := fstest.MapFS{}
	for name, body := range files {
		out[name] = &fstest.MapFile{Data: []byte(body)}
	}
	return out
}

func TestValidateFSAcceptsWellFormedFiles(t *testing.T) {
	fsys := mapFS(map[string]string{
		"20260301090000_create_widgets.sql": validBody,
		"README.md":                         "not a migration",
	})
	require.NoError(t, ValidateFS(fsys))
}

func TestValidateFSReportsEveryProblem(t *testing.T) {
	fsys := mapFS(map[string]string{
		"20260301090000_ok.sql":         validBody,
		"20260301090100_no_down.sql":    "-- +goose Up\nSELECT 1;\n",
		"20260301090200_empty_up.sql":   "-- +goose Up\n-- nothing yet\n-- +goose Down\nSELECT 1;\n",
		"20260301090300_unbalanced.sql": "-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose Down\nSELECT 1;\n",
		"20260301090400_reversed.sql":   "-- +goose Down\nSELECT 1;\n-- +goose Up\nSELECT 1;\n",
	})

	err := ValidateFS(fsys)
	require.Error(t, err)
	errs := multierr.Errors(err)
	assert.Len(t, errs, 4)
	assert.ErrorContains(t, err, "no_down.sql")
	assert.ErrorContains(t, err, "empty up section")
	assert.ErrorContains(t, err, "1 StatementBegin and 0 StatementEnd")
	assert.ErrorContains(t, err, "before")
}

func TestValidateFSRejectsDuplicateVersions(t *testing.T) {
	fsys := mapFS(map[string]string{
		"20260301090000_first.sql":  validBody,
		"20260301090000_second.sql": validBody,
	})
	assert.ErrorContains(t, ValidateFS(fsys), "duplicate version 20260301090000")
}

func TestListMigrationsRejectsBadNames(t *testing.T) {
	fsys := mapFS(map[string]string{
		"2026_short.sql":                validBody,
		"20260301090000_Mixed-Case.sql": validBody,
	})
	_, err := ListMigrations(fsys)
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
}

func TestListMigrationsOrdersByVersion(t *testing.T) {
	fsys := mapFS(map[string]string{
		"20260301090200_c.sql": validBody,
		"20260301090000_a.sql": validBody,
		"20260301090100_b.sql": validBody,
	})
	files, err := ListMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, int64(20260301090000), files[0].Version)
	assert.Equal(t, "20260301090200_c.sql", files[2].Name)
}

func TestCreateSQLMigrationWritesValidTemplate(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	path, err := createSQLMigration(dir, "  Add Print Job Index! ", now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20260302100000_add_print_job_index.sql"), path)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), "-- add_print_job_index")
	assert.Contains(t, string(body), "-- revert add_print_job_index")
}

func TestCreateSQLMigrationStaysAheadOfNewestFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20260302100000_existing.sql"), []byte(validBody), 0o644))

	skewed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	path, err := createSQLMigration(dir, "next", skewed)
	require.NoError(t, err)
	assert.Equal(t, "20260302100001_next.sql", filepath.Base(path))
}

func TestCreateSQLMigrationRequiresName(t *testing.T) {
	_, err := createSQLMigration(t.TempDir(), "!!!", time.Now())
	assert.ErrorContains(t, err, "no usable characters")
}

func TestEmbeddedMigrationsMatchDirectory(t *testing.T) {
	embeddedFiles, err := ListMigrations(Embedded())
	require.NoError(t, err)
	onDisk, err := ListMigrations(os.DirFS("migrations"))
	require.NoError(t, err)

	assert.NotEmpty(t, embeddedFiles)
	assert.Equal(t, onDisk, embeddedFiles)
	require.NoError(t, ValidateFS(Embedded()))
}

func TestKnownVersion(t *testing.T) {
	fsys := mapFS(map[string]string{"20260301090000_a.sql": validBody})

	assert.NoError(t, knownVersion(fsys, 0))
	assert.NoError(t, knownVersion(fsys, 20260301090000))
	assert.ErrorContains(t, knownVersion(fsys, 20260301090001), "no migration with version 20260301090001")
}
