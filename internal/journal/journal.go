// Package journal keeps an audit trail of module lifecycle events.
//
// A Recorder subscribes to module.installed, module.uninstalled and
// engine.shutdown on an event bus and appends one Entry per event to a Sink.
// The journal is write-mostly: it is listed by the admin API and the CLI but
// never read back to restore module state.
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mindzen-erp/mindzen/internal/config"
)

// ErrNoSink is returned by Open when journal.driver is none
var ErrNoSink = errors.New("journal disabled")

// Entry is one recorded lifecycle event
type Entry struct {
	ID     uuid.UUID `json:"id"`
	Event  string    `json:"event"`
	Module string    `json:"module,omitempty"`
	At     time.Time `json:"at"`
}

// NewEntry creates an entry with a fresh ID
func NewEntry(event, module string, at time.Time) Entry {
	return Entry{
		ID:     uuid.New(),
		Event:  event,
		Module: module,
		At:     at.UTC(),
	}
}

// Sink stores journal entries
type Sink interface {
	// Append stores entry
	Append(ctx context.Context, entry Entry) error
	// Recent returns at most limit entries, newest first. A limit of zero
	// or less returns every entry.
	Recent(ctx context.Context, limit int) ([]Entry, error)
	// Close releases the sink's connection
	Close() error
}

// Open creates the sink selected by journal.driver. It returns ErrNoSink
// when the journal is disabled.
func Open(ctx context.Context, cfg *config.Config) (Sink, error) {
	switch cfg.Journal.Driver {
	case config.JournalSQLite:
		return NewSQLiteSink(ctx, cfg.Journal.DSN)
	case config.JournalRedis:
		return NewRedisSink(ctx, RedisConfig{
			Addr: cfg.Journal.RedisAddr,
			Key:  cfg.Journal.RedisKey,
		})
	case config.JournalNone, "":
		return nil, ErrNoSink
	default:
		return nil, fmt.Errorf("unknown journal driver: %s", cfg.Journal.Driver)
	}
}
