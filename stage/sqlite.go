package stage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLite 基于 modernc.org/sqlite 的持久仓库，每个逻辑表对应一张物理表
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite 打开数据库文件，path 为空或 ":memory:" 时使用内存库
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// 单连接：内存库按连接隔离，文件库避免写锁竞争
	db.SetMaxOpenConns(1)
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	return &SQLite{db: db, path: path}, nil
}

func (s *SQLite) Path() string {
	return s.path
}

func quote(table string) string {
	return `"` + table + `"`
}

// missing 在操作失败后区分表不存在与其他错误
func (s *SQLite) missing(ctx context.Context, table string, err error) error {
	if ok, xerr := s.TableExists(ctx, table); xerr == nil && !ok {
		return fmt.Errorf("%w: %s", ErrNoTable, table)
	}
	return err
}

func (s *SQLite) EnsureTable(ctx context.Context, table string) error {
	if err := ValidateTable(table); err != nil {
		return err
	}
	q := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (key TEXT PRIMARY KEY, value BLOB NOT NULL)", quote(table))
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

func (s *SQLite) TableExists(ctx context.Context, table string) (bool, error) {
	if err := ValidateTable(table); err != nil {
		return false, err
	}
	var name string
	err := s.db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup table %s: %w", table, err)
	}
	return true, nil
}

func (s *SQLite) Put(ctx context.Context, table, key string, value []byte) error {
	if err := ValidateTable(table); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	q := fmt.Sprintf("INSERT INTO %s (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value", quote(table))
	if _, err := s.db.ExecContext(ctx, q, key, value); err != nil {
		return s.missing(ctx, table, fmt.Errorf("put %s/%s: %w", table, key, err))
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, table, key string) ([]byte, error) {
	if err := ValidateTable(table); err != nil {
		return nil, err
	}
	var value []byte
	q := fmt.Sprintf("SELECT value FROM %s WHERE key = ?", quote(table))
	err := s.db.QueryRowContext(ctx, q, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, table, key)
	}
	if err != nil {
		return nil, s.missing(ctx, table, fmt.Errorf("get %s/%s: %w", table, key, err))
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

func (s *SQLite) Delete(ctx context.Context, table, key string) error {
	if err := ValidateTable(table); err != nil {
		return err
	}
	q := fmt.Sprintf("DELETE FROM %s WHERE key = ?", quote(table))
	if _, err := s.db.ExecContext(ctx, q, key); err != nil {
		return s.missing(ctx, table, fmt.Errorf("delete %s/%s: %w", table, key, err))
	}
	return nil
}

func (s *SQLite) ClearTable(ctx context.Context, table string) error {
	if err := ValidateTable(table); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM "+quote(table)); err != nil {
		return s.missing(ctx, table, fmt.Errorf("clear %s: %w", table, err))
	}
	return nil
}

func (s *SQLite) DropTable(ctx context.Context, table string) error {
	if err := ValidateTable(table); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quote(table)); err != nil {
		return fmt.Errorf("drop %s: %w", table, err)
	}
	return nil
}

func (s *SQLite) Keys(ctx context.Context, table string) ([]string, error) {
	if err := ValidateTable(table); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT key FROM %s ORDER BY key", quote(table)))
	if err != nil {
		return nil, s.missing(ctx, table, fmt.Errorf("keys %s: %w", table, err))
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
