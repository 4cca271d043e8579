package tkv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/collabmate/collabmate/db/models"
	"github.com/collabmate/collabmate/internal/lifecycle"
	"github.com/dgraph-io/badger/v3"
)

type tkv struct {
	logger *slog.Logger
	store  *badger.DB

	pingInterval  time.Duration
	notifications chan models.StoreState

	ctx       context.Context
	cancel    context.CancelFunc
	watchers  sync.WaitGroup
	closeOnce sync.Once
}

var _ TKV = &tkv{}

// Dial opens the store. Opening blocks while another process holds the
// directory lock; the attempt is abandoned when ctx is done, and a handle
// that opens late is closed rather than leaked.
func Dial(ctx context.Context, config Config) (TKV, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.PingInterval <= 0 {
		config.PingInterval = DefaultPingInterval
	}

	type result struct {
		db  *badger.DB
		err error
	}
	opened := make(chan result, 1)
	lifecycle.Go(config.Logger, "store-open", func() {
		db, err := open(config)
		opened <- result{db: db, err: err}
	})

	select {
	case r := <-opened:
		if r.err != nil {
			return nil, r.err
		}
		return newTKV(r.db, config), nil
	case <-ctx.Done():
		lifecycle.Go(config.Logger, "store-open-abandoned", func() {
			if r := <-opened; r.db != nil {
				config.Logger.Warn("Store opened after dial was abandoned, closing it", "dir", config.Directory)
				r.db.Close()
			}
		})
		return nil, ctx.Err()
	}
}

func open(config Config) (*badger.DB, error) {
	var dbOpts badger.Options
	if config.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if config.Directory == "" {
			return nil, &ErrInternal{Err: errors.New("store directory is required")}
		}
		if err := os.MkdirAll(config.Directory, 0755); err != nil {
			return nil, &ErrInternal{Err: err}
		}
		dbOpts = badger.DefaultOptions(config.Directory)
	}

	dbOpts = dbOpts.
		WithLogger(newLogger(config.Logger.WithGroup("badger"))).
		WithMemTableSize(16 << 20) // 16MB MemTableSize
	dbOpts = withBadgerLevel(dbOpts, config.BadgerLogLevel)

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, &ErrInternal{Err: err}
	}
	return db, nil
}

func newTKV(db *badger.DB, config Config) *tkv {
	ctx, cancel := context.WithCancel(context.Background())
	t := &tkv{
		logger:        config.Logger.WithGroup("tkv"),
		store:         db,
		pingInterval:  config.PingInterval,
		notifications: make(chan models.StoreState, 16),
		ctx:           ctx,
		cancel:        cancel,
	}
	t.watchers.Add(1)
	lifecycle.Go(t.logger, "store-watch", t.watch)
	return t
}

func (t *tkv) Notifications() <-chan models.StoreState {
	return t.notifications
}

func (t *tkv) emit(state models.StoreState) {
	select {
	case t.notifications <- state:
	case <-t.ctx.Done():
	}
}

// watch pings the database and reports transitions. It exits when the
// handle is closed or the database is found closed underneath it.
func (t *tkv) watch() {
	defer t.watchers.Done()
	defer close(t.notifications)

	t.emit(models.StoreConnected)

	ticker := time.NewTicker(t.pingInterval)
	defer ticker.Stop()

	healthy := true
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
		}

		if t.store.IsClosed() {
			t.logger.Warn("Store closed underneath the handle")
			t.emit(models.StoreDisconnected)
			return
		}

		err := t.Ping()
		switch {
		case err != nil && healthy:
			healthy = false
			t.logger.Error("Store ping failed", "error", err)
			t.emit(models.StoreError)
		case err == nil && !healthy:
			healthy = true
			t.logger.Info("Store ping recovered")
			t.emit(models.StoreConnected)
		}
	}
}

func (t *tkv) Ping() error {
	return t.Set(HeartbeatKey, time.Now().UTC().Format(time.RFC3339Nano))
}

func (t *tkv) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.cancel()
		t.watchers.Wait()
		if cerr := t.store.Close(); cerr != nil {
			t.logger.Error("error closing store db", "error", cerr)
			err = &ErrInternal{Err: cerr}
		}
	})
	return err
}

func (t *tkv) GetDataDB() *badger.DB {
	return t.store
}

func (t *tkv) Get(key string) (string, error) {
	var value []byte
	err := t.store.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return &ErrKeyNotFound{Key: key}
			}
			return &ErrInternal{Err: err}
		}
		value, err = item.ValueCopy(nil)
		if err != nil {
			return &ErrInternal{Err: err}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return string(value), nil
}

func (t *tkv) Set(key string, value string) error {
	return t.store.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(key), []byte(value)); err != nil {
			return &ErrInternal{Err: err}
		}
		return nil
	})
}

func (t *tkv) SetNX(key string, value string) error {
	err := t.store.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			return &ErrKeyExists{Key: key}
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return &ErrInternal{Err: err}
		}
		if err := txn.Set([]byte(key), []byte(value)); err != nil {
			return &ErrInternal{Err: err}
		}
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		// A concurrent writer committed the key first.
		return &ErrKeyExists{Key: key}
	}
	return err
}

func (t *tkv) Delete(key string) error {
	return t.store.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(key)); err != nil {
			return &ErrInternal{Err: err}
		}
		return nil
	})
}

func (t *tkv) Iterate(prefix string, offset int, limit int) ([]string, error) {
	var keys []string
	err := t.scan(prefix, offset, limit, false, func(item *badger.Item) error {
		keys = append(keys, string(item.Key()))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (t *tkv) Scan(prefix string, offset int, limit int) ([]TKVBatchEntry, error) {
	var entries []TKVBatchEntry
	err := t.scan(prefix, offset, limit, true, func(item *badger.Item) error {
		value, err := item.ValueCopy(nil)
		if err != nil {
			return &ErrInternal{Err: err}
		}
		entries = append(entries, TKVBatchEntry{
			Key:   string(item.KeyCopy(nil)),
			Value: string(value),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (t *tkv) scan(prefix string, offset int, limit int, values bool, fn func(*badger.Item) error) error {
	return t.store.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = values
		it := txn.NewIterator(opts)
		defer it.Close()

		prefixBytes := []byte(prefix)
		skipped := 0
		collected := 0

		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			if skipped < offset {
				skipped++
				continue
			}
			if limit > 0 && collected >= limit {
				break
			}
			if err := fn(it.Item()); err != nil {
				return err
			}
			collected++
		}
		return nil
	})
}

func (t *tkv) BatchSet(entries []TKVBatchEntry) error {
	if len(entries) == 0 {
		return nil
	}

	wb := t.store.NewWriteBatch()
	defer wb.Cancel()

	for _, entry := range entries {
		if entry.Key == "" {
			t.logger.Warn("BatchSet encountered an entry with an empty key, skipping.")
			continue
		}
		if err := wb.Set([]byte(entry.Key), []byte(entry.Value)); err != nil {
			return &ErrInternal{Err: fmt.Errorf("failed to add set operation for key '%s' to batch: %w", entry.Key, err)}
		}
	}

	if err := wb.Flush(); err != nil {
		return &ErrInternal{Err: fmt.Errorf("failed to flush batch set: %w", err)}
	}
	return nil
}

func (t *tkv) BatchDelete(keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	wb := t.store.NewWriteBatch()
	defer wb.Cancel()

	for _, key := range keys {
		if key == "" {
			t.logger.Warn("BatchDelete encountered an empty key, skipping.")
			continue
		}
		if err := wb.Delete([]byte(key)); err != nil {
			return &ErrInternal{Err: fmt.Errorf("failed to add delete operation for key '%s' to batch: %w", key, err)}
		}
	}

	if err := wb.Flush(); err != nil {
		return &ErrInternal{Err: fmt.Errorf("failed to flush batch delete: %w", err)}
	}
	return nil
}
