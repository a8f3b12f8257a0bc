// Copyright 2024 xgfone
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metastore caches fetched info dictionaries on disk, keyed by
// their infohash, so that a torrent already resolved once can be served
// or reloaded without asking the swarm again.
package metastore

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/xgfone/go-btmeta/metainfo"
	"github.com/zeebo/bencode"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned if the store has no metadata for the infohash.
	ErrNotFound = errors.New("no metadata for the infohash")

	// ErrHashNotMatched is returned by Put if the metadata does not hash
	// to the infohash it is stored under.
	ErrHashNotMatched = errors.New("the metadata does not match the infohash")
)

var (
	bucketMetadata = []byte("metadata")
	bucketRecords  = []byte("records")
)

// Record describes where and when the metadata of an infohash was fetched.
type Record struct {
	FetchedFrom string `bencode:"fetched_from" mapstructure:"fetched_from"`
	FetchedAt   int64  `bencode:"fetched_at" mapstructure:"fetched_at"`
	Size        int64  `bencode:"size" mapstructure:"size"`
}

// Config is used to configure the store.
type Config struct {
	// Logger is used to log the store events.
	//
	// The default is zap.L().
	Logger *zap.Logger
}

func (c *Config) set(conf ...Config) {
	if len(conf) > 0 {
		*c = conf[0]
	}
	if c.Logger == nil {
		c.Logger = zap.L()
	}
}

// Store is a bbolt-backed cache of info dictionaries.
type Store struct {
	db   *bolt.DB
	conf Config
}

// Open opens the store at path, creating the file if it does not exist.
func Open(path string, conf ...Config) (*Store, error) {
	var c Config
	c.set(conf...)

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketMetadata); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketRecords)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, conf: c}, nil
}

// Close closes the store.
func (s *Store) Close() error { return s.db.Close() }

// Put stores the raw info dictionary infoBytes under infohash, with the
// address of the peer it was fetched from. It verifies that infoBytes
// hashes to infohash before writing.
func (s *Store) Put(infohash metainfo.Hash, infoBytes []byte, fetchedFrom string) error {
	if metainfo.NewHashFromBytes(infoBytes) != infohash {
		return ErrHashNotMatched
	}

	record, err := bencode.EncodeBytes(Record{
		FetchedFrom: fetchedFrom,
		FetchedAt:   time.Now().Unix(),
		Size:        int64(len(infoBytes)),
	})
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketMetadata).Put(infohash.Bytes(), infoBytes); err != nil {
			return err
		}
		return tx.Bucket(bucketRecords).Put(infohash.Bytes(), record)
	})
	if err == nil {
		s.conf.Logger.Debug("stored the metadata",
			zap.Stringer("infohash", infohash),
			zap.Int("size", len(infoBytes)),
			zap.String("fetched_from", fetchedFrom))
	}
	return err
}

// Get returns the raw info dictionary stored under infohash,
// or ErrNotFound.
//
// The returned bytes are re-verified against infohash, so a corrupted
// store never hands out metadata it cannot vouch for.
func (s *Store) Get(infohash metainfo.Hash) (infoBytes []byte, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMetadata).Get(infohash.Bytes())
		if b == nil {
			return ErrNotFound
		}
		infoBytes = make([]byte, len(b))
		copy(infoBytes, b)
		return nil
	})
	if err == nil && metainfo.NewHashFromBytes(infoBytes) != infohash {
		infoBytes, err = nil, ErrHashNotMatched
	}
	return
}

// GetInfo returns the decoded info dictionary stored under infohash.
func (s *Store) GetInfo(infohash metainfo.Hash) (info metainfo.Info, err error) {
	infoBytes, err := s.Get(infohash)
	if err != nil {
		return
	}
	return metainfo.DecodeInfo(infoBytes)
}

// GetRecord returns the fetch record of infohash.
func (s *Store) GetRecord(infohash metainfo.Hash) (record Record, err error) {
	var raw []byte
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords).Get(infohash.Bytes())
		if b == nil {
			return ErrNotFound
		}
		raw = make([]byte, len(b))
		copy(raw, b)
		return nil
	})
	if err != nil {
		return
	}

	var m map[string]interface{}
	if err = bencode.DecodeBytes(raw, &m); err != nil {
		return
	}
	if err = mapstructure.Decode(m, &record); err != nil {
		err = fmt.Errorf("invalid fetch record of %s: %w", infohash, err)
	}
	return
}

// Has reports whether the store has the metadata of infohash.
func (s *Store) Has(infohash metainfo.Hash) (yes bool) {
	s.db.View(func(tx *bolt.Tx) error {
		yes = tx.Bucket(bucketMetadata).Get(infohash.Bytes()) != nil
		return nil
	})
	return
}

// Delete removes the metadata and the fetch record of infohash.
// It does nothing if the store has no metadata for it.
func (s *Store) Delete(infohash metainfo.Hash) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketMetadata).Delete(infohash.Bytes()); err != nil {
			return err
		}
		return tx.Bucket(bucketRecords).Delete(infohash.Bytes())
	})
}

// InfoHashes returns the infohashes of all the stored metadata.
func (s *Store) InfoHashes() (infohashes []metainfo.Hash, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMetadata).ForEach(func(k, v []byte) error {
			infohashes = append(infohashes, metainfo.NewHash(k))
			return nil
		})
	})
	return
}
