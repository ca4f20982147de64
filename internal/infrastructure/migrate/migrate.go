// Package migrate wraps golang-migrate so both cmd/migrate's operator
// CLI and cmd/api's -migrate convenience flag drive the exact same
// migration runner instead of carrying two implementations of it.
package migrate

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// DefaultDir is the migrations directory relative to the process's
// working directory, matching the layout both cmd binaries are run
// from.
const DefaultDir = "migrations"

// New opens a migrator against dir's SQL files and databaseURL.
func New(dir, databaseURL string) (*migrate.Migrate, error) {
	m, err := migrate.New("file://"+dir, PgxURL(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("migrate: open: %w", err)
	}
	return m, nil
}

// Up applies every pending migration in dir against databaseURL.
// ErrNoChange is treated as success: there was nothing to do.
func Up(dir, databaseURL string) error {
	m, err := New(dir, databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: up: %w", err)
	}
	return nil
}

// Down rolls back every applied migration in dir against databaseURL.
func Down(dir, databaseURL string) error {
	m, err := New(dir, databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: down: %w", err)
	}
	return nil
}

// Steps applies n migrations (n < 0 rolls back |n|) in dir against
// databaseURL.
func Steps(dir, databaseURL string, n int) error {
	m, err := New(dir, databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: steps(%d): %w", n, err)
	}
	return nil
}

// Status reports the currently applied version, or ok=false dirty=false
// version=0 if no migration has ever been applied.
func Status(dir, databaseURL string) (version uint, dirty bool, ok bool, err error) {
	m, err := New(dir, databaseURL)
	if err != nil {
		return 0, false, false, err
	}
	defer m.Close()

	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, false, nil
	}
	if err != nil {
		return 0, false, false, fmt.Errorf("migrate: version: %w", err)
	}
	return version, dirty, true, nil
}

// Force sets the recorded schema version without running any
// migration, for recovering from a dirty state.
func Force(dir, databaseURL string, version int) error {
	m, err := New(dir, databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Force(version); err != nil {
		return fmt.Errorf("migrate: force(%d): %w", version, err)
	}
	return nil
}

// PgxURL rewrites a postgres:// URL into the "pgx5://" scheme
// golang-migrate's pgx/v5 database driver registers itself under.
func PgxURL(url string) string {
	const pgxScheme = "pgx5://"
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if len(url) >= len(prefix) && url[:len(prefix)] == prefix {
			return pgxScheme + url[len(prefix):]
		}
	}
	return url
}
