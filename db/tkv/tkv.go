package tkv

import (
	"log/slog"
	"time"

	"github.com/collabmate/collabmate/db/models"
	"github.com/dgraph-io/badger/v3"
)

const (
	// HeartbeatKey is rewritten on every ping so write failures surface as
	// connectivity errors, not only read failures.
	HeartbeatKey = "__collab:heartbeat"

	DefaultPingInterval = 5 * time.Second
)

type Config struct {
	Logger         *slog.Logger
	BadgerLogLevel slog.Level
	Directory      string
	InMemory       bool
	PingInterval   time.Duration
}

type TKVBatchEntry struct {
	Key   string
	Value string
}

type TKVBatchHandler interface {
	BatchSet(entries []TKVBatchEntry) error
	BatchDelete(keys []string) error
}

type TKVDataHandler interface {
	Get(key string) (string, error)
	Iterate(prefix string, offset int, limit int) ([]string, error)
	Scan(prefix string, offset int, limit int) ([]TKVBatchEntry, error)
	Set(key string, value string) error
	SetNX(key string, value string) error
	Delete(key string) error
}

// TKVConnection is the driver side of the store: connectivity
// notifications for the lifetime of the handle, and Close.
type TKVConnection interface {
	// Notifications delivers state transitions until the handle is closed
	// or the database becomes unusable, then the channel is closed.
	Notifications() <-chan models.StoreState
	Ping() error
	Close() error
}

type TKV interface {
	TKVDataHandler
	TKVBatchHandler
	TKVConnection

	GetDataDB() *badger.DB
}
