package db

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// JSONFileStore 单个 JSON 文件保存所有表, 写入先落临时文件再 rename
type JSONFileStore struct {
	path string

	mu     sync.Mutex
	tables map[string]map[string]json.RawMessage
}

// NewJSONFileStore 文件不存在时从空库开始
func NewJSONFileStore(path string) (*JSONFileStore, error) {
	s := &JSONFileStore{path: path, tables: make(map[string]map[string]json.RawMessage)}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create datastore directory: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read datastore %s: %w", path, err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.tables); err != nil {
		return nil, fmt.Errorf("failed to parse datastore %s: %w", path, err)
	}
	return s, nil
}

func (s *JSONFileStore) Get(_ context.Context, table, id string, out any) error {
	s.mu.Lock()
	raw, ok := s.tables[table][id]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s/%s: %w", table, id, err)
	}
	return nil
}

func (s *JSONFileStore) Upsert(_ context.Context, table, id string, record any) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", table, id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, ok := s.tables[table]
	if !ok {
		rows = make(map[string]json.RawMessage)
		s.tables[table] = rows
	}
	prev, existed := rows[id]
	rows[id] = raw

	if err := s.persistLocked(); err != nil {
		// 回滚内存状态
		if existed {
			rows[id] = prev
		} else {
			delete(rows, id)
		}
		return err
	}
	return nil
}

// List 按 id 排序返回, 保证结果稳定
func (s *JSONFileStore) List(_ context.Context, table string) ([]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.tables[table]
	ids := make([]string, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, rows[id])
	}
	return out, nil
}

func (s *JSONFileStore) Remove(_ context.Context, table, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.tables[table]
	prev, ok := rows[id]
	if !ok {
		return nil
	}
	delete(rows, id)
	if err := s.persistLocked(); err != nil {
		rows[id] = prev
		return err
	}
	return nil
}

func (s *JSONFileStore) Close() error { return nil }

func (s *JSONFileStore) persistLocked() error {
	data, err := json.MarshalIndent(s.tables, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode datastore: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp datastore: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp datastore: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp datastore: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp datastore: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace datastore: %w", err)
	}
	return nil
}
