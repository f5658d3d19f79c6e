package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"

	"github.com/lib/pq"
)

type errorClass int

const (
	classQuery errorClass = iota
	classTransient
	classDuplicate
	classConflict
)

const (
	codeUniqueViolation      pq.ErrorCode  = "23505"
	codeSerializationFailure pq.ErrorCode  = "40001"
	codeDeadlockDetected     pq.ErrorCode  = "40P01"
	codeTooManyConnections   pq.ErrorCode  = "53300"
	codeAdminShutdown        pq.ErrorCode  = "57P01"
	codeCrashShutdown        pq.ErrorCode  = "57P02"
	codeCannotConnectNow     pq.ErrorCode  = "57P03"
	codeQueryCanceled        pq.ErrorCode  = "57014"
	classConnectionException pq.ErrorClass = "08"
)

// classify sorts a single attempt's error. timedOut reports whether the
// attempt's own deadline (not the caller's) expired.
func classify(err error, timedOut bool) errorClass {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == codeUniqueViolation:
			return classDuplicate
		case pqErr.Code == codeSerializationFailure, pqErr.Code == codeDeadlockDetected:
			return classConflict
		case pqErr.Code.Class() == classConnectionException,
			pqErr.Code == codeTooManyConnections,
			pqErr.Code == codeAdminShutdown,
			pqErr.Code == codeCrashShutdown,
			pqErr.Code == codeCannotConnectNow:
			return classTransient
		case pqErr.Code == codeQueryCanceled && timedOut:
			return classTransient
		}
		return classQuery
	}

	if isBrokenConn(err) {
		return classTransient
	}
	if timedOut && errors.Is(err, context.DeadlineExceeded) {
		return classTransient
	}
	return classQuery
}

// isBrokenConn reports errors after which the connection must not be reused.
func isBrokenConn(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == classConnectionException ||
			pqErr.Code == codeAdminShutdown ||
			pqErr.Code == codeCrashShutdown
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// uniqueConstraint returns the violated constraint name for a unique violation.
func uniqueConstraint(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == codeUniqueViolation {
		return pqErr.Constraint, true
	}
	return "", false
}
