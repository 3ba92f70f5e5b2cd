// Package errors 提供统一错误辅助与瞬时/永久分类，不依赖 internal
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
)

// 常用哨兵错误（可按需扩展错误码）
var (
	ErrNotFound   = errors.New("not found")
	ErrInvalidArg = errors.New("invalid argument")
)

// Kind 错误类别，重试引擎据此决定是否退避重试
type Kind int

const (
	// KindUnknown 未显式标注，由启发式分类决定
	KindUnknown Kind = iota
	// KindTransient 瞬时错误：网络、超时、限流、5xx，重试可能成功
	KindTransient
	// KindPermanent 永久错误：鉴权、4xx、请求格式错误，重试无意义
	KindPermanent
)

// Error 带类别标注的错误，Unwrap 保留原因链
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Err.Error()
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Transient 标注瞬时错误
func Transient(msg string, err error) error {
	return &Error{Kind: KindTransient, Msg: msg, Err: err}
}

// Transientf 带格式的 Transient
func Transientf(format string, args ...interface{}) error {
	return &Error{Kind: KindTransient, Msg: fmt.Sprintf(format, args...)}
}

// Permanent 标注永久错误
func Permanent(msg string, err error) error {
	return &Error{Kind: KindPermanent, Msg: msg, Err: err}
}

// Permanentf 带格式的 Permanent
func Permanentf(format string, args ...interface{}) error {
	return &Error{Kind: KindPermanent, Msg: fmt.Sprintf(format, args...)}
}

// Wrap 包装错误并附加消息
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 带格式的 Wrap
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ClassifyKind 沿原因链分类：最内层显式标注优先（被包装的瞬时/永久错误不因外层改变类别），
// 无显式标注时走启发式
func ClassifyKind(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	// 逐层下钻，记录链上最内层的显式标注
	kind := KindUnknown
	for e := err; e != nil; e = errors.Unwrap(e) {
		if tagged, ok := e.(*Error); ok && tagged.Kind != KindUnknown {
			kind = tagged.Kind
		}
	}
	if kind != KindUnknown {
		return kind
	}
	return classifyHeuristic(err)
}

// IsTransient 错误是否瞬时（显式标注或启发式）
func IsTransient(err error) bool { return ClassifyKind(err) == KindTransient }

// IsPermanent 错误是否永久
func IsPermanent(err error) bool { return ClassifyKind(err) == KindPermanent }

// transientSubstrings 远端错误文案中的瞬时信号（HTTP 状态与常见网络词）
var transientSubstrings = []string{
	"503", "502", "504", "500", "429",
	"timeout", "timed out", "unavailable", "connection refused",
	"connection reset", "rate limit", "too many requests", "temporarily",
}

func classifyHeuristic(err error) Kind {
	// 超时/取消与网络类错误视为瞬时
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindTransient
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ETIMEDOUT) {
		return KindTransient
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return KindTransient
	}
	msg := strings.ToLower(err.Error())
	for _, sub := range transientSubstrings {
		if strings.Contains(msg, sub) {
			return KindTransient
		}
	}
	return KindUnknown
}
