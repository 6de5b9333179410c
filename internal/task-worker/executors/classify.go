package executors

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"

	apperrors "value-calculation-service/pkg/errors"
)

// ErrorClass groups step failures for operators. Nothing is retried
// automatically whatever the class.
type ErrorClass string

const (
	ClassNone         ErrorClass = ""
	ClassConnectivity ErrorClass = "connectivity"
	ClassCode         ErrorClass = "code"
	ClassUniqueness   ErrorClass = "uniqueness"
	ClassTimeout      ErrorClass = "timeout"
	ClassCancelled    ErrorClass = "cancelled"
)

const (
	pgUniqueViolation  = "23505"
	mysqlDuplicateKey  = 1062
	pgConnectionFamily = "08"
)

// Classify maps an execution error to its class. Uniqueness wins over
// everything else so a duplicate key can never be mistaken for a retryable fault.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	if isUniqueViolation(err) {
		return ClassUniqueness
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case errors.Is(err, context.Canceled):
		return ClassCancelled
	}
	if isConnectivity(err) {
		return ClassConnectivity
	}
	return ClassCode
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, apperrors.ErrDuplicateResult) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateKey {
		return true
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) &&
		(liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return true
	}
	return false
}

func isConnectivity(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, pgConnectionFamily) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "database is locked")
}
