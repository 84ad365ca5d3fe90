// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/kodiak/services/retrieval/storage/badger"
)

// Fingerprint records what the indexer last saw for a vault file.
// A file is only re-read when size or mtime moved; the hash is the
// final authority on whether content changed.
type Fingerprint struct {
	// Path is the vault-relative file path.
	Path string `json:"path"`

	// Size is the file size in bytes at last read.
	Size int64 `json:"size"`

	// MTime is the file modification time at last read.
	MTime time.Time `json:"mtime"`

	// ContentHash is the SHA-256 hex digest of the file contents.
	ContentHash string `json:"content_hash"`

	// LastChecked is when the fingerprint was last confirmed.
	LastChecked time.Time `json:"last_checked"`
}

func fingerprintKey(path string) []byte {
	return []byte("fp:" + path)
}

var fingerprintPrefix = []byte("fp:")

// FingerprintStore persists file fingerprints in the durable tier.
//
// Thread Safety: safe for concurrent use.
type FingerprintStore struct {
	db *badger.DB
}

// NewFingerprintStore creates a FingerprintStore over an open database.
func NewFingerprintStore(db *badger.DB) *FingerprintStore {
	return &FingerprintStore{db: db}
}

// Put stores or replaces a fingerprint.
func (s *FingerprintStore) Put(ctx context.Context, fp Fingerprint) error {
	if fp.Path == "" {
		return &StorageError{Op: "put fingerprint", Err: errors.New("path is required")}
	}
	data, err := json.Marshal(fp)
	if err != nil {
		return &StorageError{Op: "put fingerprint", Key: fp.Path, Err: err}
	}
	err = s.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		return txn.Set(fingerprintKey(fp.Path), data)
	})
	if err != nil {
		return &StorageError{Op: "put fingerprint", Key: fp.Path, Err: err}
	}
	return nil
}

// Get retrieves a fingerprint by path.
func (s *FingerprintStore) Get(ctx context.Context, path string) (Fingerprint, error) {
	var fp Fingerprint
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		item, err := txn.Get(fingerprintKey(path))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &fp)
		})
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return Fingerprint{}, ErrNotFound
	}
	if err != nil {
		return Fingerprint{}, &StorageError{Op: "get fingerprint", Key: path, Err: err}
	}
	return fp, nil
}

// Delete removes a fingerprint. Deleting a missing path is a no-op.
func (s *FingerprintStore) Delete(ctx context.Context, path string) error {
	err := s.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		return txn.Delete(fingerprintKey(path))
	})
	if err != nil {
		return &StorageError{Op: "delete fingerprint", Key: path, Err: err}
	}
	return nil
}

// List returns all fingerprints keyed by path.
func (s *FingerprintStore) List(ctx context.Context) (map[string]Fingerprint, error) {
	result := make(map[string]Fingerprint)
	err := s.db.IteratePrefix(ctx, fingerprintPrefix, func(key, value []byte) error {
		var fp Fingerprint
		if err := json.Unmarshal(value, &fp); err != nil {
			return err
		}
		result[fp.Path] = fp
		return nil
	})
	if err != nil {
		return nil, &StorageError{Op: "list fingerprints", Err: err}
	}
	return result, nil
}

// Count returns the number of stored fingerprints.
func (s *FingerprintStore) Count(ctx context.Context) (int, error) {
	n, err := s.db.CountPrefix(ctx, fingerprintPrefix)
	if err != nil {
		return 0, &StorageError{Op: "count fingerprints", Err: err}
	}
	return n, nil
}
