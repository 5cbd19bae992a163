package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/cowdex/batchcore/internal/apperr"
	"github.com/cowdex/batchcore/internal/order"
)

// AppDataStore resolves content-addressed appData documents, supplementing
// spec.md per original_source/model/src/app_data.rs: Put hashes the
// document with keccak and upserts it; Get looks it up by that hash.
type AppDataStore struct{ db *Store }

func NewAppDataStore(db *Store) *AppDataStore { return &AppDataStore{db: db} }

func (a *AppDataStore) Put(ctx context.Context, doc []byte) (order.AppData, error) {
	var hash order.AppData
	copy(hash[:], crypto.Keccak256(doc))
	_, err := a.db.db.ExecContext(ctx, `
		INSERT INTO app_data (hash, doc) VALUES ($1, $2)
		ON CONFLICT (hash) DO NOTHING
	`, hash[:], doc)
	if err != nil {
		return order.AppData{}, &apperr.DbError{Cause: err}
	}
	return hash, nil
}

func (a *AppDataStore) Get(ctx context.Context, hash order.AppData) ([]byte, error) {
	var doc []byte
	err := a.db.db.GetContext(ctx, &doc, `SELECT doc FROM app_data WHERE hash=$1`, hash[:])
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrMissingData
	}
	if err != nil {
		return nil, &apperr.DbError{Cause: err}
	}
	return doc, nil
}
