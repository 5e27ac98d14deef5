package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"tgwatch/internal/model"
	"tgwatch/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateChannel inserts a new channel and populates its ID and CreatedAt.
func (s *SQLite) CreateChannel(ctx context.Context, ch *model.Channel) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO channels (ref, name, is_enabled, created_at) VALUES (?, ?, ?, ?)`,
		ch.Ref, ch.Name, boolToInt(ch.IsEnabled), now,
	)
	if err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	ch.ID = id
	ch.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetChannel returns a single channel by its ID.
func (s *SQLite) GetChannel(ctx context.Context, id int64) (*model.Channel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, ref, name, is_enabled, created_at FROM channels WHERE id = ?`, id,
	)
	return scanChannel(row)
}

// GetChannelByRef returns the channel with the given reference.
func (s *SQLite) GetChannelByRef(ctx context.Context, ref string) (*model.Channel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, ref, name, is_enabled, created_at FROM channels WHERE ref = ?`, ref,
	)
	return scanChannel(row)
}

// ListChannels returns all channels ordered by ID.
func (s *SQLite) ListChannels(ctx context.Context) ([]model.Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ref, name, is_enabled, created_at FROM channels ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var channels []model.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, *ch)
	}
	return channels, rows.Err()
}

// UpdateChannel persists changes to an existing channel.
func (s *SQLite) UpdateChannel(ctx context.Context, ch *model.Channel) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE channels SET ref = ?, name = ?, is_enabled = ? WHERE id = ?`,
		ch.Ref, ch.Name, boolToInt(ch.IsEnabled), ch.ID,
	)
	if err != nil {
		return fmt.Errorf("update channel: %w", err)
	}
	return requireAffected(res)
}

// DeleteChannel removes a channel and its keywords.
func (s *SQLite) DeleteChannel(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM keywords WHERE channel_id = ?`, id); err != nil {
		return fmt.Errorf("delete keywords: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	return tx.Commit()
}

// AddKeyword inserts a new keyword and populates its ID and CreatedAt.
func (s *SQLite) AddKeyword(ctx context.Context, kw *model.Keyword) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO keywords (channel_id, value, created_at) VALUES (?, ?, ?)`,
		kw.ChannelID, kw.Value, now,
	)
	if err != nil {
		return fmt.Errorf("insert keyword: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	kw.ID = id
	kw.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// ListKeywords returns all keywords of the given channel in insertion order.
func (s *SQLite) ListKeywords(ctx context.Context, channelID int64) ([]model.Keyword, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, value, created_at FROM keywords WHERE channel_id = ? ORDER BY id`, channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("query keywords: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keywords []model.Keyword
	for rows.Next() {
		kw, err := scanKeyword(rows)
		if err != nil {
			return nil, err
		}
		keywords = append(keywords, *kw)
	}
	return keywords, rows.Err()
}

// GetKeyword returns a single keyword by its ID.
func (s *SQLite) GetKeyword(ctx context.Context, id int64) (*model.Keyword, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, channel_id, value, created_at FROM keywords WHERE id = ?`, id,
	)
	return scanKeyword(row)
}

// DeleteKeyword removes a keyword by its ID.
func (s *SQLite) DeleteKeyword(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM keywords WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete keyword: %w", err)
	}
	return requireAffected(res)
}

// ReplaceChannels deletes every channel and keyword and inserts descs in one
// transaction. Blank keywords are skipped. On error nothing is changed.
func (s *SQLite) ReplaceChannels(ctx context.Context, descs []model.ChannelDescriptor) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM keywords`); err != nil {
		return fmt.Errorf("delete keywords: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM channels`); err != nil {
		return fmt.Errorf("delete channels: %w", err)
	}

	now := time.Now().UTC().Format(timeLayout)
	for _, d := range descs {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO channels (ref, name, is_enabled, created_at) VALUES (?, '', ?, ?)`,
			strings.TrimSpace(d.ID), boolToInt(d.Enabled), now,
		)
		if err != nil {
			return fmt.Errorf("insert channel %q: %w", d.ID, err)
		}
		channelID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		for _, kw := range d.Keywords {
			if strings.TrimSpace(kw) == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO keywords (channel_id, value, created_at) VALUES (?, ?, ?)`,
				channelID, kw, now,
			); err != nil {
				return fmt.Errorf("insert keyword %q: %w", kw, err)
			}
		}
	}
	return tx.Commit()
}

// ListDescriptors returns every channel with its keywords, ordered by channel ID.
func (s *SQLite) ListDescriptors(ctx context.Context) ([]model.ChannelDescriptor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.ref, c.is_enabled, k.value
		 FROM channels c LEFT JOIN keywords k ON k.channel_id = c.id
		 ORDER BY c.id, k.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query descriptors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var (
		descs  []model.ChannelDescriptor
		lastID int64 = -1
	)
	for rows.Next() {
		var (
			id      int64
			ref     string
			enabled int
			value   sql.NullString
		)
		if err := rows.Scan(&id, &ref, &enabled, &value); err != nil {
			return nil, fmt.Errorf("scan descriptor: %w", err)
		}
		if id != lastID {
			descs = append(descs, model.ChannelDescriptor{ID: ref, Enabled: enabled == 1})
			lastID = id
		}
		if value.Valid {
			d := &descs[len(descs)-1]
			d.Keywords = append(d.Keywords, value.String)
		}
	}
	return descs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanChannel(row scannable) (*model.Channel, error) {
	var ch model.Channel
	var enabled int
	var created string
	err := row.Scan(&ch.ID, &ch.Ref, &ch.Name, &enabled, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan channel: %w", err)
	}
	ch.IsEnabled = enabled == 1
	ch.CreatedAt, _ = time.Parse(timeLayout, created)
	return &ch, nil
}

func scanKeyword(row scannable) (*model.Keyword, error) {
	var kw model.Keyword
	var created string
	err := row.Scan(&kw.ID, &kw.ChannelID, &kw.Value, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan keyword: %w", err)
	}
	kw.CreatedAt, _ = time.Parse(timeLayout, created)
	return &kw, nil
}
