// Package repo stores the collaboration documents as JSON values in the
// key-value store. Every call resolves the store through the lifecycle
// manager, so a disconnected store surfaces as
// lifecycle.ErrStoreUnavailable instead of a hung request.
package repo

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/collabmate/collabmate/db/tkv"
	"github.com/pkg/errors"
)

var (
	ErrNotFound           = errors.New("document not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

/*
	Key layout

	user:<id>                                    user document
	user-email:<email>                           user id (unique index)
	project:<id>                                 project document
	member:<user>:<project>                      membership index
	task:<id>                                    owning project id
	project-task:<project>:<id>                  task document
	expense:<id>                                 owning project id
	project-expense:<project>:<id>               expense document
	project-message:<project>:<nanos>:<id>       message document
*/

const (
	userPrefix           = "user:"
	userEmailPrefix      = "user-email:"
	projectPrefix        = "project:"
	memberPrefix         = "member:"
	taskPrefix           = "task:"
	projectTaskPrefix    = "project-task:"
	expensePrefix        = "expense:"
	projectExpensePrefix = "project-expense:"
	projectMessagePrefix = "project-message:"
)

// Source hands out the currently connected store.
type Source interface {
	Store() (tkv.TKV, error)
}

type Config struct {
	Logger *slog.Logger
	Source Source
	Now    func() time.Time
	// HashCost is the bcrypt cost for new passwords. Zero means
	// bcrypt.DefaultCost.
	HashCost int
}

type Repo struct {
	logger   *slog.Logger
	source   Source
	now      func() time.Time
	hashCost int
}

func New(cfg Config) *Repo {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Repo{
		logger:   cfg.Logger.WithGroup("repo"),
		source:   cfg.Source,
		now:      cfg.Now,
		hashCost: cfg.HashCost,
	}
}

func (r *Repo) kv(ctx context.Context) (tkv.TKV, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.source.Store()
}

func (r *Repo) timestamp() time.Time {
	return r.now().UTC()
}

func key(prefix string, parts ...string) string {
	return prefix + strings.Join(parts, ":")
}

func getJSON[T any](kv tkv.TKV, k string) (*T, error) {
	raw, err := kv.Get(k)
	if err != nil {
		if tkv.IsErrKeyNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "get %s", k)
	}
	var doc T
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, errors.Wrapf(err, "decode %s", k)
	}
	return &doc, nil
}

func encode(k string, doc any) (tkv.TKVBatchEntry, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return tkv.TKVBatchEntry{}, errors.Wrapf(err, "encode %s", k)
	}
	return tkv.TKVBatchEntry{Key: k, Value: string(data)}, nil
}

func putJSON(kv tkv.TKV, k string, doc any) error {
	entry, err := encode(k, doc)
	if err != nil {
		return err
	}
	return errors.Wrapf(kv.Set(entry.Key, entry.Value), "set %s", k)
}

func scanJSON[T any](kv tkv.TKV, prefix string) ([]*T, error) {
	entries, err := kv.Scan(prefix, 0, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "scan %s", prefix)
	}
	docs := make([]*T, 0, len(entries))
	for _, entry := range entries {
		var doc T
		if err := json.Unmarshal([]byte(entry.Value), &doc); err != nil {
			return nil, errors.Wrapf(err, "decode %s", entry.Key)
		}
		docs = append(docs, &doc)
	}
	return docs, nil
}
