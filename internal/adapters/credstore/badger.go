package credstore

// Package credstore provides credential store adapters: an embedded
// BadgerDB store for on-device use, a Redis store for hosted deployments,
// and an in-memory store for tests and ephemeral runs.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"

	apperrors "github.com/attuned-ai/attuned/internal/errors"
	"github.com/attuned-ai/attuned/internal/ports"
)

// BadgerStore is the default on-device credential store. Badger gives a
// scoped, crash-safe KV directory without an external service.
type BadgerStore struct {
	db *badger.DB
}

var _ ports.CredentialStore = (*BadgerStore)(nil)

// BadgerConfig holds configuration for the embedded store.
type BadgerConfig struct {
	// Path is the directory for store files. Ignored when InMemory is set.
	Path string
	// InMemory runs the store without disk persistence (tests).
	InMemory bool
	Logger   *slog.Logger
}

// OpenBadger opens (creating if needed) the embedded credential store.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if cfg.Path == "" && !cfg.InMemory {
		return nil, errors.New("credential store path is required")
	}

	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithLogger(nil)
	if cfg.Logger != nil {
		opts = opts.WithLogger(badgerSlogAdapter{logger: cfg.Logger})
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStorage, "open credential store")
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.Wrapf(err, apperrors.ErrCodeStorage, "read %q", key)
	}
	return value, true, nil
}

func (s *BadgerStore) Set(_ context.Context, key string, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeStorage, "write %q", key)
	}
	return nil
}

func (s *BadgerStore) Delete(_ context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeStorage, "delete %q", key)
	}
	return nil
}

// Close releases the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerSlogAdapter bridges badger's logger interface onto slog.
type badgerSlogAdapter struct {
	logger *slog.Logger
}

func (a badgerSlogAdapter) Errorf(format string, args ...any) {
	a.logger.Error(fmt.Sprintf(format, args...))
}

func (a badgerSlogAdapter) Warningf(format string, args ...any) {
	a.logger.Warn(fmt.Sprintf(format, args...))
}

func (a badgerSlogAdapter) Infof(format string, args ...any) {
	a.logger.Debug(fmt.Sprintf(format, args...))
}

func (a badgerSlogAdapter) Debugf(format string, args ...any) {
	a.logger.Debug(fmt.Sprintf(format, args...))
}
