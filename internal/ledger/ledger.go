// Package ledger keeps the shared queue of entities whose crawl failed.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"slices"
	"time"

	"insta_spider/internal/models"
)

// ListStore is a shared list addressed by key. LPush must be atomic under
// concurrent writers.
type ListStore interface {
	LPush(ctx context.Context, key, value string) error
	Len(ctx context.Context, key string) (int64, error)
	// RPop removes the oldest entry. ok is false when the list is empty.
	RPop(ctx context.Context, key string) (value string, ok bool, err error)
	Range(ctx context.Context, key string, start, stop int64) ([]string, error)
}

type Ledger struct {
	store ListStore
	key   string
	now   func() time.Time
}

func New(store ListStore, key string) *Ledger {
	return &Ledger{store: store, key: key, now: time.Now}
}

// Record appends a failure for entity.
func (l *Ledger) Record(ctx context.Context, entity, errText string) error {
	data, err := json.Marshal(models.FailureRecord{
		Username: entity,
		Date:     l.now().Format(models.TimeLayout),
		Error:    errText,
	})
	if err != nil {
		return err
	}
	if err := l.store.LPush(ctx, l.key, string(data)); err != nil {
		return fmt.Errorf("record failure of %s: %w", entity, err)
	}
	return nil
}

// Drain yields the entries present when iteration starts, oldest first,
// removing each as it is yielded. Entries that cannot be decoded are removed
// and reported as errors. Stopping early leaves the rest in place.
// Concurrent drains of the same key race with each other.
func (l *Ledger) Drain(ctx context.Context) iter.Seq2[models.FailureRecord, error] {
	return func(yield func(models.FailureRecord, error) bool) {
		n, err := l.store.Len(ctx, l.key)
		if err != nil {
			yield(models.FailureRecord{}, fmt.Errorf("ledger length: %w", err))
			return
		}
		for range n {
			raw, ok, err := l.store.RPop(ctx, l.key)
			if err != nil {
				yield(models.FailureRecord{}, fmt.Errorf("ledger pop: %w", err))
				return
			}
			if !ok {
				return
			}
			rec, err := decode(raw)
			if !yield(rec, err) {
				return
			}
		}
	}
}

// Peek lists up to limit of the oldest entries without removing them. A
// non-positive limit lists everything.
func (l *Ledger) Peek(ctx context.Context, limit int) ([]models.FailureRecord, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raws, err := l.store.Range(ctx, l.key, start, -1)
	if err != nil {
		return nil, fmt.Errorf("ledger range: %w", err)
	}
	slices.Reverse(raws)

	records := make([]models.FailureRecord, 0, len(raws))
	for _, raw := range raws {
		rec, err := decode(raw)
		if err != nil {
			rec = models.FailureRecord{Error: raw}
		}
		records = append(records, rec)
	}
	return records, nil
}

func decode(raw string) (models.FailureRecord, error) {
	var rec models.FailureRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return models.FailureRecord{}, fmt.Errorf("decode ledger entry %q: %w", raw, err)
	}
	return rec, nil
}
