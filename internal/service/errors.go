package service

import "errors"

// 错误分类：handler 层用 errors.Is 映射为 HTTP 状态码
var (
	// ErrInvalidArgument 输入不合法（空臂列表、epsilon 越界、重复结算等）
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound 实验/Pick/臂不存在
	ErrNotFound = errors.New("not found")

	// ErrUpstreamUnavailable 解释/推理上游失败或超时，可重试，不影响已有状态
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrConflict 并发写冲突。正常加锁流程下不应出现
	ErrConflict = errors.New("conflict")
)
