package db

import (
	"database/sql"
	"strings"

	"github.com/teranos/weir/errors"
)

// ErrDatabaseClosed marks writes that reached a closed database, usually a
// nested run finishing after the command line closed the history database.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err comes from using a closed database.
// database/sql reports a closed *sql.DB with a plain error, so its message is
// matched as well.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}
