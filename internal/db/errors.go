package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound indicates that the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates that a uniqueness or state constraint rejected the write.
	ErrConflict = errors.New("conflict")
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeInvalidText         = "22P02"
	codeSerialization       = "40001"
	codeDeadlock            = "40P01"
)

// Classify maps driver errors onto ErrNotFound and ErrConflict. Transactions
// aborted by a concurrent writer count as conflicts; they are not retried.
// Other errors are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation, codeSerialization, codeDeadlock:
			return ErrConflict
		case codeForeignKeyViolation, codeInvalidText:
			return ErrNotFound
		}
	}
	return err
}
