package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore 单表 records(tbl, id, body) 保存所有记录
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore 打开或创建数据库并建表
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_timeout=5000&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 单写者
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	const schema = `
	CREATE TABLE IF NOT EXISTS records (
		tbl TEXT NOT NULL,
		id TEXT NOT NULL,
		body TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (tbl, id)
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create records table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, table, id string, out any) error {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM records WHERE tbl = ? AND id = ?`, table, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to query %s/%s: %w", table, id, err)
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("failed to decode %s/%s: %w", table, id, err)
	}
	return nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, table, id string, record any) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", table, id, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (tbl, id, body, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(tbl, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		table, id, string(body), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert %s/%s: %w", table, id, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, table string) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM records WHERE tbl = ? ORDER BY id`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		out = append(out, json.RawMessage(body))
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Remove(ctx context.Context, table, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE tbl = ? AND id = ?`, table, id); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", table, id, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
