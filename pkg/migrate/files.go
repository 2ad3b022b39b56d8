package migrate

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const versionLayout = "20060102150405"

var (
	fileNameRe  = regexp.MustCompile(`^(\d{14})_([a-z0-9_]+)\.sql$`)
	slugCleanRe = regexp.MustCompile(`[^a-z0-9]+`)
)

const sqlSkeleton = `-- +goose Up
-- +goose StatementBegin
-- %[1]s
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- revert %[1]s
-- +goose StatementEnd
`

// migrationFile is a parsed goose SQL migration name.
type migrationFile struct {
	version int64
	slug    string
	name    string
}

func parseFileName(name string) (migrationFile, error) {
	m := fileNameRe.FindStringSubmatch(name)
	if m == nil {
		return migrationFile{}, fmt.Errorf("invalid migration filename %q (want YYYYMMDDHHMMSS_name.sql)", name)
	}
	if _, err := time.Parse(versionLayout, m[1]); err != nil {
		return migrationFile{}, fmt.Errorf("migration %q: version is not a timestamp: %w", name, err)
	}
	version, _ := strconv.ParseInt(m[1], 10, 64)
	return migrationFile{version: version, slug: m[2], name: name}, nil
}

func slugify(name string) string {
	slug := slugCleanRe.ReplaceAllString(strings.ToLower(name), "_")
	return strings.Trim(slug, "_")
}

// CreateSQLMigration writes an empty Up/Down migration named
// <YYYYMMDDHHMMSS>_<slug>.sql into dir and returns its path.
func CreateSQLMigration(dir, name string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("dir is required")
	}
	slug := slugify(name)
	if slug == "" {
		return "", fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %q: %w", dir, err)
	}

	target := filepath.Join(dir, fmt.Sprintf("%s_%s.sql", time.Now().UTC().Format(versionLayout), slug))
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create migration: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, sqlSkeleton, slug); err != nil {
		return "", fmt.Errorf("write migration %q: %w", target, err)
	}
	return target, nil
}

// ValidateDir checks the migrations in a directory on disk.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	return ValidateFS(os.DirFS(dir), ".")
}

// ValidateFS checks that every .sql file under root has a timestamp version,
// that versions are unique, and that each file declares both goose sections.
func ValidateFS(fsys fs.FS, root string) error {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return fmt.Errorf("read migrations %q: %w", root, err)
	}

	var files []migrationFile
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		file, err := parseFileName(entry.Name())
		if err != nil {
			return err
		}
		files = append(files, file)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })

	for i, file := range files {
		if i > 0 && files[i-1].version == file.version {
			return fmt.Errorf("migrations %q and %q share version %d", files[i-1].name, file.name, file.version)
		}
		body, err := fs.ReadFile(fsys, path.Join(root, file.name))
		if err != nil {
			return fmt.Errorf("read %q: %w", file.name, err)
		}
		if err := checkSections(file.name, string(body)); err != nil {
			return err
		}
	}
	return nil
}

func checkSections(name, body string) error {
	up := strings.Index(body, "-- +goose Up")
	down := strings.Index(body, "-- +goose Down")
	switch {
	case up < 0:
		return fmt.Errorf("migration %q has no goose Up section", name)
	case down < 0:
		return fmt.Errorf("migration %q has no goose Down section", name)
	case down < up:
		return fmt.Errorf("migration %q declares Down before Up", name)
	}
	return nil
}
