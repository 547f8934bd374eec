package backup

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedStore is returned when the database URL does not point at a
// file-backed SQLite database.
var ErrUnsupportedStore = errors.New("backups require a file-backed sqlite database")

// ResolveSQLitePath extracts the file path from a database URL. Accepted
// forms: sqlite:///rel/path, sqlite:////abs/path, file:path and a bare
// path. Three slashes mean a relative path, four an absolute one.
// Query parameters are dropped.
func ResolveSQLitePath(url string) (string, error) {
	raw := strings.TrimSpace(url)
	path := raw

	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = trimAuthority(strings.TrimPrefix(path, "sqlite://"))
	case strings.HasPrefix(path, "sqlite3://"):
		path = trimAuthority(strings.TrimPrefix(path, "sqlite3://"))
	case strings.HasPrefix(path, "file:"):
		path = strings.TrimPrefix(path, "file:")
	case strings.Contains(path, "://"):
		return "", fmt.Errorf("%w: %q", ErrUnsupportedStore, raw)
	}

	if i := strings.IndexByte(path, '?'); i >= 0 {
		if strings.Contains(path[i:], "mode=memory") {
			return "", fmt.Errorf("%w: %q", ErrUnsupportedStore, raw)
		}
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedStore, raw)
	}
	return path, nil
}

// trimAuthority drops the empty host separator of sqlite:///path.
func trimAuthority(rest string) string {
	return strings.TrimPrefix(rest, "/")
}
