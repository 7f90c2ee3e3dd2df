package models

import (
	"errors"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrParticipantNotFound = errors.New("participant not found")
	ErrUnknownEventType    = errors.New("unknown event type")
	ErrMirrorRowNotFound   = errors.New("mirror row not found")
	ErrCheckinLogged       = errors.New("check-in already logged")
)

// IsDuplicateKeyErr reports a unique-constraint violation from either supported driver.
func IsDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
