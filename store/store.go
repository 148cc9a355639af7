// Package store persists experiment results in an embedded pebble
// database: one JSON-encoded record per configuration, keyed by the
// parameter-embedding experiment name.
package store

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/sukhreens/DataAssimilationBenchmarks/sim"
)

// Store is a results database.
type Store struct {
	db *pebble.DB
}

// Open opens or creates the results database at path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening results store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put writes a result record under its artifact name.
func (s *Store) Put(res *sim.Result) error {
	val, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encoding result %s: %w", res.Name, err)
	}
	if err := s.db.Set([]byte(res.Name), val, pebble.Sync); err != nil {
		return fmt.Errorf("writing result %s: %w", res.Name, err)
	}
	return nil
}

// Get reads the result stored under name.
func (s *Store) Get(name string) (*sim.Result, error) {
	val, closer, err := s.db.Get([]byte(name))
	if err != nil {
		return nil, fmt.Errorf("reading result %s: %w", name, err)
	}
	defer closer.Close()

	var res sim.Result
	if err := json.Unmarshal(val, &res); err != nil {
		return nil, fmt.Errorf("decoding result %s: %w", name, err)
	}
	return &res, nil
}

// Names returns every stored artifact name in key order.
func (s *Store) Names() ([]string, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, fmt.Errorf("iterating results: %w", err)
	}
	defer iter.Close()

	var names []string
	for iter.First(); iter.Valid(); iter.Next() {
		names = append(names, string(iter.Key()))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterating results: %w", err)
	}
	return names, nil
}
