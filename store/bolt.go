// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/oidc-schemes/oidc"
	bolt "go.etcd.io/bbolt"
)

const (
	// dbDirPerm is the permission mode for the directory holding the
	// database.
	dbDirPerm = fs.FileMode(0o700)

	// dbFilePerm is the permission mode for the database file, which holds
	// client secrets.
	dbFilePerm = fs.FileMode(0o600)
)

var recordsBucket = []byte("oidc_schemes")

// BoltStore is a Store backed by a bbolt database file.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

var _ Store = (*BoltStore)(nil)

// storedRecord is the on disk form of a Record. Record redacts the secret
// when marshaled, so it can't be stored directly.
type storedRecord struct {
	ID           int64     `json:"id"`
	Authority    string    `json:"authority"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toStored(r *Record) storedRecord {
	return storedRecord{
		ID:           r.ID,
		Authority:    r.Authority,
		ClientID:     r.ClientID,
		ClientSecret: string(r.ClientSecret),
		Version:      r.Version,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func (s storedRecord) record() *Record {
	return &Record{
		ID:           s.ID,
		Authority:    s.Authority,
		ClientID:     s.ClientID,
		ClientSecret: oidc.ClientSecret(s.ClientSecret),
		Version:      s.Version,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

// OpenBolt opens the database at path, creating it and its directory if they
// don't exist.
//
// Supported options:
//   - WithNow
//   - WithOpenTimeout
func OpenBolt(path string, opt ...Option) (*BoltStore, error) {
	const op = "store.OpenBolt"
	opts := getOpts(opt...)
	if err := os.MkdirAll(filepath.Dir(path), dbDirPerm); err != nil {
		return nil, fmt.Errorf("%s: creating database directory: %w", op, err)
	}
	db, err := bolt.Open(path, dbFilePerm, &bolt.Options{Timeout: opts.withOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("%s: opening %q: %w", op, path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(recordsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: initializing %q: %w", op, path, err)
	}
	return &BoltStore{db: db, now: opts.withNowFunc}, nil
}

func idKey(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func put(b *bolt.Bucket, r *Record) error {
	data, err := json.Marshal(toStored(r))
	if err != nil {
		return err
	}
	return b.Put(idKey(r.ID), data)
}

func get(b *bolt.Bucket, id int64) (*Record, error) {
	data := b.Get(idKey(id))
	if data == nil {
		return nil, ErrNotFound
	}
	var s storedRecord
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding record %d: %w", id, err)
	}
	return s.record(), nil
}

// Create implements Store.
func (s *BoltStore) Create(ctx context.Context, r *Record) (*Record, error) {
	const op = "BoltStore.Create"
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c := r.Clone()
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		now := s.now().UTC()
		c.ID, c.Version, c.CreatedAt, c.UpdatedAt = int64(seq), 1, now, now
		return put(b, c)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// Update implements Store.
func (s *BoltStore) Update(ctx context.Context, r *Record) (*Record, error) {
	const op = "BoltStore.Update"
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c := r.Clone()
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		cur, err := get(b, r.ID)
		if err != nil {
			return fmt.Errorf("id %d: %w", r.ID, err)
		}
		if cur.Version != r.Version {
			return fmt.Errorf("id %d is at version %d, not %d: %w", r.ID, cur.Version, r.Version, ErrConflict)
		}
		c.Version, c.CreatedAt, c.UpdatedAt = cur.Version+1, cur.CreatedAt, s.now().UTC()
		return put(b, c)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// Delete implements Store.
func (s *BoltStore) Delete(ctx context.Context, id int64) error {
	const op = "BoltStore.Delete"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		if b.Get(idKey(id)) == nil {
			return fmt.Errorf("id %d: %w", id, ErrNotFound)
		}
		return b.Delete(idKey(id))
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Get implements Store.
func (s *BoltStore) Get(ctx context.Context, id int64) (*Record, error) {
	const op = "BoltStore.Get"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var r *Record
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		r, err = get(tx.Bucket(recordsBucket), id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: id %d: %w", op, id, err)
	}
	return r, nil
}

// List implements Store. Keys are big endian ids, so cursor order is id
// order.
func (s *BoltStore) List(ctx context.Context) ([]*Record, error) {
	const op = "BoltStore.List"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := []*Record{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).ForEach(func(_, v []byte) error {
			var sr storedRecord
			if err := json.Unmarshal(v, &sr); err != nil {
				return err
			}
			out = append(out, sr.record())
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// Close implements Store.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
