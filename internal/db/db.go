package db

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"insta_spider/internal/config"
	"insta_spider/internal/models"
)

// ErrDuplicate is returned by InsertContent when the item key already exists.
var ErrDuplicate = errors.New("duplicate key")

// Gateway persists crawl results and supplies crawl targets.
type Gateway interface {
	UpsertProfile(ctx context.Context, p models.ProfileSnapshot) error
	UpsertDaily(ctx context.Context, d models.DailySnapshot) error
	// InsertContent stores item only if its key is new, returning ErrDuplicate
	// otherwise.
	InsertContent(ctx context.Context, item models.ContentItem) error
	UpsertContent(ctx context.Context, item models.ContentItem) error
	Targets(ctx context.Context) ([]string, error)
	Close() error
}

func Open(cfg config.DBConfig) (Gateway, error) {
	switch cfg.Driver {
	case "mongo":
		return NewMongoDB(cfg)
	case "sqlite":
		return NewSQLite(cfg)
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.Driver)
	}
}

// RankTargets merges target lists, orders them by follower count descending
// and keeps the first occurrence of every name.
func RankTargets(lists ...[]models.Target) []string {
	var merged []models.Target
	for _, l := range lists {
		merged = append(merged, l...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].FollowerCount > merged[j].FollowerCount
	})

	seen := make(map[string]bool, len(merged))
	names := make([]string, 0, len(merged))
	for _, t := range merged {
		if t.UserName == "" || seen[t.UserName] {
			continue
		}
		seen[t.UserName] = true
		names = append(names, t.UserName)
	}
	return names
}
