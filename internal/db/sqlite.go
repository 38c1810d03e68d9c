package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"insta_spider/internal/config"
	"insta_spider/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id TEXT PRIMARY KEY,
	doc TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS daily_profiles (
	id TEXT PRIMARY KEY,
	user_name TEXT NOT NULL,
	doc TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS contents (
	id TEXT PRIMARY KEY,
	user_name TEXT NOT NULL,
	published_at INTEGER NOT NULL,
	doc TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS targets (
	source TEXT NOT NULL,
	user_name TEXT NOT NULL,
	followers_count INTEGER NOT NULL,
	PRIMARY KEY (source, user_name)
);
`

// SQLite keeps the same records as MongoDB in a single file, with each record
// stored as its JSON document next to its key columns.
type SQLite struct {
	db           *sql.DB
	minFollowers int
	sources      [2]string
}

// NewSQLite opens cfg.Connection as a database path, ":memory:" included.
func NewSQLite(cfg config.DBConfig) (*SQLite, error) {
	db, err := sql.Open("sqlite", cfg.Connection)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{
		db:           db,
		minFollowers: cfg.MinFollowers,
		sources:      [2]string{cfg.Collections.FixedPages, cfg.Collections.KeywordUserStats},
	}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) UpsertProfile(ctx context.Context, p models.ProfileSnapshot) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, doc) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET doc = excluded.doc`, p.ID, string(doc))
	if err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.ID, err)
	}
	return nil
}

func (s *SQLite) UpsertDaily(ctx context.Context, d models.DailySnapshot) error {
	doc, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO daily_profiles (id, user_name, doc) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET user_name = excluded.user_name, doc = excluded.doc`,
		d.ID, d.UserName, string(doc))
	if err != nil {
		return fmt.Errorf("upsert daily profile %s: %w", d.ID, err)
	}
	return nil
}

func (s *SQLite) UpsertContent(ctx context.Context, item models.ContentItem) error {
	doc, err := json.Marshal(item)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contents (id, user_name, published_at, doc) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_name = excluded.user_name,
			published_at = excluded.published_at,
			doc = excluded.doc`,
		item.ID, item.UserName, item.PublishedAtTimestamp, string(doc))
	if err != nil {
		return fmt.Errorf("upsert content %s: %w", item.ID, err)
	}
	return nil
}

func (s *SQLite) InsertContent(ctx context.Context, item models.ContentItem) error {
	doc, err := json.Marshal(item)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO contents (id, user_name, published_at, doc) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		item.ID, item.UserName, item.PublishedAtTimestamp, string(doc))
	if err != nil {
		return fmt.Errorf("insert content %s: %w", item.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert content %s: %w", item.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("insert content %s: %w", item.ID, ErrDuplicate)
	}
	return nil
}

// Content returns the stored item, or nil when absent. Inspection helper;
// the crawl path only writes.
func (s *SQLite) Content(ctx context.Context, id string) (*models.ContentItem, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM contents WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var item models.ContentItem
	if err := json.Unmarshal([]byte(doc), &item); err != nil {
		return nil, fmt.Errorf("decode content %s: %w", id, err)
	}
	return &item, nil
}

// Profile returns the stored snapshot, or nil when absent. Inspection helper.
func (s *SQLite) Profile(ctx context.Context, id string) (*models.ProfileSnapshot, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM profiles WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p models.ProfileSnapshot
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", id, err)
	}
	return &p, nil
}

// ContentCount counts stored items of one entity. Inspection helper.
func (s *SQLite) ContentCount(ctx context.Context, entity string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contents WHERE user_name = ?`, entity).Scan(&n)
	return n, err
}

// DailyCount counts stored daily snapshots of one entity. Inspection helper.
func (s *SQLite) DailyCount(ctx context.Context, entity string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM daily_profiles WHERE user_name = ?`, entity).Scan(&n)
	return n, err
}

// PutTarget records an entity in one of the target source collections.
func (s *SQLite) PutTarget(ctx context.Context, source string, t models.Target) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO targets (source, user_name, followers_count) VALUES (?, ?, ?)
		ON CONFLICT (source, user_name) DO UPDATE SET followers_count = excluded.followers_count`,
		source, t.UserName, t.FollowerCount)
	return err
}

func (s *SQLite) Targets(ctx context.Context) ([]string, error) {
	var lists [][]models.Target
	for _, source := range s.sources {
		rows, err := s.db.QueryContext(ctx, `
			SELECT user_name, followers_count FROM targets
			WHERE source = ? AND followers_count >= ?
			ORDER BY followers_count DESC`, source, s.minFollowers)
		if err != nil {
			return nil, fmt.Errorf("query targets from %s: %w", source, err)
		}
		var list []models.Target
		for rows.Next() {
			var t models.Target
			if err := rows.Scan(&t.UserName, &t.FollowerCount); err != nil {
				rows.Close()
				return nil, err
			}
			list = append(list, t)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
		lists = append(lists, list)
	}
	return RankTargets(lists...), nil
}
