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
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/kodiak/services/retrieval/storage/badger"
)

// keySep separates the source key from the fragment id inside source
// membership keys. NUL cannot appear in file paths or UUIDs.
const keySep = "\x00"

func fragmentKey(family Family, id string) []byte {
	return []byte("f:" + string(family) + ":" + id)
}

func familyPrefix(family Family) []byte {
	return []byte("f:" + string(family) + ":")
}

func membershipKey(family Family, source, id string) []byte {
	return []byte("s:" + string(family) + ":" + source + keySep + id)
}

func membershipPrefix(family Family, source string) []byte {
	return []byte("s:" + string(family) + ":" + source + keySep)
}

func membershipFamilyPrefix(family Family) []byte {
	return []byte("s:" + string(family) + ":")
}

func hashKey(family Family, hash string) []byte {
	return []byte("h:" + string(family) + ":" + hash)
}

// Store is the two-tier fragment repository.
//
// The hot tier is keyed by content hash, so identical content reached
// through different sources shares one entry. Lookups arrive by
// fragment id; idHash maps them onto the hash keys and is kept in step
// with cache eviction.
//
// Thread Safety: safe for concurrent use.
type Store struct {
	db     *badger.DB
	cache  *Cache[string, *Fragment]
	logger *slog.Logger

	idMu   sync.Mutex
	idHash map[string]string
}

// NewStore creates a Store over an open database.
//
// Inputs:
//
//	db - The durable tier. Must not be nil.
//	cacheCapacity - Hot-tier entry limit.
//	logger - Must not be nil.
func NewStore(db *badger.DB, cacheCapacity int, logger *slog.Logger) *Store {
	s := &Store{
		db:     db,
		cache:  NewCache[string, *Fragment](cacheCapacity),
		logger: logger,
		idHash: make(map[string]string),
	}
	s.cache.OnEvict(func(_ string, f *Fragment) {
		s.idMu.Lock()
		delete(s.idHash, f.ID)
		s.idMu.Unlock()
	})
	return s
}

// cacheKey is the hot-tier key for a fragment: its content hash, with
// the id as fallback for fragments stored without one.
func cacheKey(f *Fragment) string {
	if f.ContentHash != "" {
		return f.ContentHash
	}
	return f.ID
}

func (s *Store) cachePut(f *Fragment) {
	key := cacheKey(f)
	s.idMu.Lock()
	s.idHash[f.ID] = key
	s.idMu.Unlock()
	s.cache.Set(key, f)
}

// cacheGet resolves an id through the id-to-hash mapping. An entry
// holding identical content from a different fragment counts as a miss
// so provenance is never wrong.
func (s *Store) cacheGet(id string) (*Fragment, bool) {
	s.idMu.Lock()
	key, ok := s.idHash[id]
	s.idMu.Unlock()
	if !ok {
		key = id
	}
	f, ok := s.cache.Get(key)
	if !ok || f.ID != id {
		return nil, false
	}
	return f, true
}

func (s *Store) cacheDelete(id, hash string) {
	s.idMu.Lock()
	key, ok := s.idHash[id]
	delete(s.idHash, id)
	s.idMu.Unlock()
	if !ok {
		key = hash
		if key == "" {
			key = id
		}
	}
	if f, ok := s.cache.Peek(key); ok && f.ID == id {
		s.cache.Delete(key)
	}
}

// Put persists a fragment, durable tier first, then cache.
//
// Description:
//
//	Assigns an id and creation time when absent. Writes the fragment
//	record plus its source membership and content-hash lookup keys in
//	one transaction. The cache is only updated after the commit
//	succeeds, so it never holds a fragment the durable tier lacks.
func (s *Store) Put(ctx context.Context, f *Fragment) error {
	if f.Family == "" || f.SourceKey == "" {
		return &StorageError{Op: "put", Err: errors.New("fragment family and source key are required")}
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	data, err := encodeFragment(f)
	if err != nil {
		return &StorageError{Op: "put", Key: f.ID, Err: err}
	}

	err = s.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		if err := txn.Set(fragmentKey(f.Family, f.ID), data); err != nil {
			return err
		}
		if err := txn.Set(membershipKey(f.Family, f.SourceKey, f.ID), []byte(f.ID)); err != nil {
			return err
		}
		if f.ContentHash != "" {
			if err := txn.Set(hashKey(f.Family, f.ContentHash), []byte(f.ID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &StorageError{Op: "put", Key: f.ID, Err: err}
	}

	s.cachePut(f)
	return nil
}

// Get retrieves a fragment by id, consulting the cache first.
func (s *Store) Get(ctx context.Context, family Family, id string) (*Fragment, error) {
	if f, ok := s.cacheGet(id); ok {
		return f, nil
	}

	var fragment *Fragment
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		item, err := txn.Get(fragmentKey(family, id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			fragment, err = decodeFragment(val)
			return err
		})
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Key: id, Err: err}
	}

	s.cachePut(fragment)
	return fragment, nil
}

// GetMany retrieves fragments by id, batching cache misses into a
// single read transaction.
//
// Description:
//
//	Ids with no stored fragment are skipped rather than failing the
//	whole batch; a search can race a hard delete and the remaining
//	hits are still useful.
//
// Outputs:
//
//	[]*Fragment - Found fragments in input order.
func (s *Store) GetMany(ctx context.Context, family Family, ids []string) ([]*Fragment, error) {
	found := make(map[string]*Fragment, len(ids))
	var misses []string
	for _, id := range ids {
		if f, ok := s.cacheGet(id); ok {
			found[id] = f
		} else {
			misses = append(misses, id)
		}
	}

	if len(misses) > 0 {
		err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
			for _, id := range misses {
				item, err := txn.Get(fragmentKey(family, id))
				if errors.Is(err, badgerdb.ErrKeyNotFound) {
					s.logger.Debug("fragment missing during batch get", slog.String("id", id))
					continue
				}
				if err != nil {
					return err
				}
				err = item.Value(func(val []byte) error {
					f, err := decodeFragment(val)
					if err != nil {
						return err
					}
					found[id] = f
					return nil
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, &StorageError{Op: "get many", Err: err}
		}
		for _, id := range misses {
			if f, ok := found[id]; ok {
				s.cachePut(f)
			}
		}
	}

	result := make([]*Fragment, 0, len(found))
	for _, id := range ids {
		if f, ok := found[id]; ok {
			result = append(result, f)
		}
	}
	return result, nil
}

// GetByHash retrieves a fragment by content hash.
func (s *Store) GetByHash(ctx context.Context, family Family, hash string) (*Fragment, error) {
	var id string
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		item, err := txn.Get(hashKey(family, hash))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id = string(val)
			return nil
		})
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "get by hash", Key: hash, Err: err}
	}
	return s.Get(ctx, family, id)
}

// DeleteSource removes every fragment belonging to a source.
//
// Description:
//
//	Walks the source's membership keys, then deletes fragment records,
//	hash lookups, and membership keys. Cache entries go last so the
//	cache never outlives the durable rows.
//
// Outputs:
//
//	int - Number of fragments removed.
func (s *Store) DeleteSource(ctx context.Context, family Family, source string) (int, error) {
	var ids []string
	err := s.db.IteratePrefix(ctx, membershipPrefix(family, source), func(key, value []byte) error {
		ids = append(ids, string(value))
		return nil
	})
	if err != nil {
		return 0, &StorageError{Op: "delete source", Key: source, Err: err}
	}

	deleted := 0
	for _, id := range ids {
		id := id
		var hash string
		err := s.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
			// The hash lookup may point at a different fragment with the
			// same content; only remove it when it points here.
			item, err := txn.Get(fragmentKey(family, id))
			if err != nil && !errors.Is(err, badgerdb.ErrKeyNotFound) {
				return err
			}
			if err == nil {
				err = item.Value(func(val []byte) error {
					f, err := decodeFragment(val)
					if err != nil {
						return err
					}
					hash = f.ContentHash
					return nil
				})
				if err != nil {
					return err
				}
				if hash != "" {
					if hashItem, err := txn.Get(hashKey(family, hash)); err == nil {
						err = hashItem.Value(func(val []byte) error {
							if string(val) == id {
								return txn.Delete(hashKey(family, hash))
							}
							return nil
						})
						if err != nil {
							return err
						}
					}
				}
			}
			if err := txn.Delete(fragmentKey(family, id)); err != nil {
				return err
			}
			return txn.Delete(membershipKey(family, source, id))
		})
		if err != nil {
			return deleted, &StorageError{Op: "delete source", Key: source, Err: err}
		}
		s.cacheDelete(id, hash)
		deleted++
	}
	return deleted, nil
}

// ListFamily returns every fragment in a family. Used for index
// rebuilds; vectors are included.
func (s *Store) ListFamily(ctx context.Context, family Family) ([]*Fragment, error) {
	var fragments []*Fragment
	err := s.db.IteratePrefix(ctx, familyPrefix(family), func(key, value []byte) error {
		f, err := decodeFragment(value)
		if err != nil {
			return err
		}
		fragments = append(fragments, f)
		return nil
	})
	if err != nil {
		return nil, &StorageError{Op: "list family", Key: string(family), Err: err}
	}
	return fragments, nil
}

// SourceKeys returns the distinct source keys present in a family.
func (s *Store) SourceKeys(ctx context.Context, family Family) ([]string, error) {
	prefix := membershipFamilyPrefix(family)
	seen := make(map[string]struct{})
	var sources []string
	err := s.db.IteratePrefix(ctx, prefix, func(key, value []byte) error {
		rest := string(key[len(prefix):])
		source, _, ok := strings.Cut(rest, keySep)
		if !ok {
			return nil
		}
		if _, dup := seen[source]; !dup {
			seen[source] = struct{}{}
			sources = append(sources, source)
		}
		return nil
	})
	if err != nil {
		return nil, &StorageError{Op: "source keys", Key: string(family), Err: err}
	}
	return sources, nil
}

// CountBySource returns the number of fragments a source contributed.
func (s *Store) CountBySource(ctx context.Context, family Family, source string) (int, error) {
	n, err := s.db.CountPrefix(ctx, membershipPrefix(family, source))
	if err != nil {
		return 0, &StorageError{Op: "count source", Key: source, Err: err}
	}
	return n, nil
}

// Count returns the number of fragments in a family.
func (s *Store) Count(ctx context.Context, family Family) (int, error) {
	n, err := s.db.CountPrefix(ctx, familyPrefix(family))
	if err != nil {
		return 0, &StorageError{Op: "count", Key: string(family), Err: err}
	}
	return n, nil
}

// CacheStats returns hot-tier effectiveness counters.
func (s *Store) CacheStats() CacheStats {
	return s.cache.Stats()
}
