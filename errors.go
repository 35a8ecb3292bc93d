package mstbake

import (
	"errors"
	"fmt"
)

var (
	ErrBakeInProgress = errors.New("bake already in progress")
	ErrTransferred    = errors.New("buffers already transferred")
)

// StagingWriteError 暂存写入失败，运行中止且不会自动清理已写入的组
type StagingWriteError struct {
	Op    string
	Table string
	Key   string
	Err   error
}

func (e *StagingWriteError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("staging %s %s: %v", e.Op, e.Table, e.Err)
	}
	return fmt.Sprintf("staging %s %s/%s: %v", e.Op, e.Table, e.Key, e.Err)
}

func (e *StagingWriteError) Unwrap() error {
	return e.Err
}

// StagingReadError 后台任务无法读取或解码某个材质组
type StagingReadError struct {
	Op    string
	Table string
	Key   string
	Err   error
}

func (e *StagingReadError) Error() string {
	return fmt.Sprintf("staging %s %s/%s: %v", e.Op, e.Table, e.Key, e.Err)
}

func (e *StagingReadError) Unwrap() error {
	return e.Err
}

// PipelineTransportError 消息通道提前关闭或后台任务崩溃
type PipelineTransportError struct {
	Reason string
	Err    error
}

func (e *PipelineTransportError) Error() string {
	if e.Err == nil {
		return "pipeline transport: " + e.Reason
	}
	return fmt.Sprintf("pipeline transport: %s: %v", e.Reason, e.Err)
}

func (e *PipelineTransportError) Unwrap() error {
	return e.Err
}

// MergeLibraryError 合并或静态几何构建失败，Key 为空表示最终合并
type MergeLibraryError struct {
	Key string
	Err error
}

func (e *MergeLibraryError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("merge collision geometry: %v", e.Err)
	}
	return fmt.Sprintf("merge group %q: %v", e.Key, e.Err)
}

func (e *MergeLibraryError) Unwrap() error {
	return e.Err
}
