package pqueue

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zephyrgate/mqtt-gateway/pkg/logx"
)

var auditBucket = []byte("dropped_items")

// AuditStore persists a record of every item the queue drops (overflow
// or Clear) to a bbolt file, so an operator can inspect what was lost
// across a restart instead of only seeing the drop counters. It is
// wired in only when queue_persist is enabled; the queue itself never
// depends on it for correctness.
type AuditStore struct {
	db     *bbolt.DB
	logger *logx.Logger
}

// OpenAuditStore opens (creating if necessary) a bbolt database at
// path for recording queue drops.
func OpenAuditStore(path string, logger *logx.Logger) (*AuditStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening queue audit store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(auditBucket)
		return e
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing queue audit store: %w", err)
	}

	return &AuditStore{db: db, logger: logger}, nil
}

// Close releases the underlying bbolt file handle.
func (a *AuditStore) Close() error {
	return a.db.Close()
}

type droppedRecord struct {
	Reason     string    `json:"reason"`
	Priority   string    `json:"priority"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	DroppedAt  time.Time `json:"dropped_at"`
}

// Sink is suitable for Queue.WithAuditSink: it records the drop's
// reason, priority, and timing, never the payload itself (the payload
// may carry a broker credential-bearing topic string the gateway does
// not want duplicated into a second file).
func (a *AuditStore) Sink(reason string, it Item) {
	rec := droppedRecord{
		Reason:     reason,
		Priority:   it.Priority.String(),
		EnqueuedAt: it.EnqueuedAt,
		DroppedAt:  time.Now(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		a.logger.Error("failed to marshal dropped queue item record", "error", err)
		return
	}

	err = a.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(auditBucket)
		seq, _ := b.NextSequence()
		key := fmt.Sprintf("%020d", seq)
		return b.Put([]byte(key), data)
	})
	if err != nil {
		a.logger.Error("failed to persist dropped queue item record", "error", err)
	}
}

// Count returns the number of drop records currently stored.
func (a *AuditStore) Count() (int, error) {
	n := 0
	err := a.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(auditBucket)
		return b.ForEach(func(_, _ []byte) error {
			n++
			return nil
		})
	})
	return n, err
}
