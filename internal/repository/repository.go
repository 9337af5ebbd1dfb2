// Package repository is the Postgres persistence layer. Repositories run on
// the transaction carried by the context when there is one, so services
// compose several of them inside database.DB.InTransaction.
package repository

import (
	_ "embed"
	stderrors "errors"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-asset-custody/internal/domain"
	"github.com/pesio-ai/be-asset-custody/internal/platform/database"
)

//go:embed schema.sql
var schema string

// Schema returns the DDL applied by cmd/migrate.
func Schema() string { return schema }

type scanner interface {
	Scan(dest ...any) error
}

func isNoRows(err error) bool {
	return stderrors.Is(err, pgx.ErrNoRows)
}

// lockError turns lock contention into ConcurrentModificationError.
func lockError(err error, resource, id string) error {
	if database.HasCode(err, database.CodeLockNotAvailable, database.CodeSerializationFailure, database.CodeDeadlockDetected) {
		return &domain.ConcurrentModificationError{Resource: resource, ID: id, Err: err}
	}
	return err
}
