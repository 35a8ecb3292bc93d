// Package stage is the key-value staging store used to hold material groups
// between traversal and baking. Values are opaque bytes grouped in logical
// tables.
package stage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrNotFound     = errors.New("stage: key not found")
	ErrNoTable      = errors.New("stage: table does not exist")
	ErrInvalidTable = errors.New("stage: invalid table name")
	ErrClosed       = errors.New("stage: store closed")
)

const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Store 暂存仓库，同一表内每个键只保存一个值
type Store interface {
	// EnsureTable 创建表，已存在时不做任何事
	EnsureTable(ctx context.Context, table string) error
	TableExists(ctx context.Context, table string) (bool, error)
	// Put 覆盖写入
	Put(ctx context.Context, table, key string, value []byte) error
	// Get 键不存在时返回 ErrNotFound
	Get(ctx context.Context, table, key string) ([]byte, error)
	// Delete 删除不存在的键不报错
	Delete(ctx context.Context, table, key string) error
	ClearTable(ctx context.Context, table string) error
	DropTable(ctx context.Context, table string) error
	// Keys 返回按字典序排列的键
	Keys(ctx context.Context, table string) ([]string, error)
	Close() error
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,127}$`)

// ValidateTable 表名只允许字母数字与下划线
func ValidateTable(table string) error {
	if !tableName.MatchString(table) {
		return fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	return nil
}

// Open 按驱动名打开仓库，memory 驱动忽略 path
func Open(driver, path string) (Store, error) {
	switch driver {
	case DriverMemory:
		return NewMemory(), nil
	case DriverSQLite, "":
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("stage: unknown driver %q", driver)
	}
}
