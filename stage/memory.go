package stage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory 进程内仓库，值在写入和读取时复制
type Memory struct {
	mu     sync.RWMutex
	tables map[string]map[string][]byte
	closed bool
}

func NewMemory() *Memory {
	return &Memory{tables: make(map[string]map[string][]byte)}
}

func (m *Memory) table(table string) (map[string][]byte, error) {
	if m.closed {
		return nil, ErrClosed
	}
	if err := ValidateTable(table); err != nil {
		return nil, err
	}
	t, ok := m.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTable, table)
	}
	return t, nil
}

func (m *Memory) EnsureTable(ctx context.Context, table string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateTable(table); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.tables[table]; !ok {
		m.tables[table] = make(map[string][]byte)
	}
	return nil
}

func (m *Memory) TableExists(ctx context.Context, table string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := ValidateTable(table); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.tables[table]
	return ok, nil
}

func (m *Memory) Put(ctx context.Context, table, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table(table)
	if err != nil {
		return err
	}
	t[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Get(ctx context.Context, table, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, err := m.table(table)
	if err != nil {
		return nil, err
	}
	v, ok := t[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, table, key)
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Delete(ctx context.Context, table, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table(table)
	if err != nil {
		return err
	}
	delete(t, key)
	return nil
}

func (m *Memory) ClearTable(ctx context.Context, table string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.table(table); err != nil {
		return err
	}
	m.tables[table] = make(map[string][]byte)
	return nil
}

func (m *Memory) DropTable(ctx context.Context, table string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateTable(table); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.tables, table)
	return nil
}

func (m *Memory) Keys(ctx context.Context, table string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, err := m.table(table)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.tables = nil
	return nil
}
