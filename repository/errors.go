package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

var (
	// ErrDuplicateUser indicates the username is already registered.
	ErrDuplicateUser = errors.New("username already exists")
	// ErrDuplicateTrackPath indicates a track already owns that file path.
	ErrDuplicateTrackPath = errors.New("track file path already exists")
	// ErrDuplicateMembership indicates the track is already in the playlist.
	ErrDuplicateMembership = errors.New("track already in playlist")
)

// isDuplicateKeyErr reports whether err is a MySQL unique-constraint
// violation (error 1062).
func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}
