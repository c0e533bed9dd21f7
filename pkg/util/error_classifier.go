package util

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"strings"

	"duotime/internal/encryption"
	"duotime/internal/store"
	"duotime/pkg/circuitbreaker"

	"github.com/jackc/pgx/v5"
)

// IsRetryableError classifies a job handler error.
// Returns: (isRetryable, errorType)
func IsRetryableError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	errStr := err.Error()

	// JSON decode errors - 不可重试（数据格式错误）
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return false, "json_decode_error"
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return false, "json_decode_error"
	}
	if strings.Contains(errStr, "json:") {
		return false, "json_decode_error"
	}

	// 记录不存在 - 不可重试
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, pgx.ErrNoRows) {
		return false, "record_not_found"
	}
	if errors.Is(err, store.ErrUnknownKind) || errors.Is(err, store.ErrBadColumn) {
		return false, "invalid_query"
	}

	// 密文损坏或密钥不匹配，重试也不会成功
	if errors.Is(err, encryption.ErrDecryptionFailure) || errors.Is(err, encryption.ErrEncryptionFailure) {
		return false, "encryption_error"
	}

	if strings.Contains(errStr, "duplicate key") || strings.Contains(errStr, "UNIQUE constraint") {
		// 唯一约束冲突 - 不可重试（幂等性）
		return false, "duplicate_key"
	}

	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		return true, "circuit_open"
	}

	// Network errors - 可重试
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "timeout") {
		// DB 连接问题 - 可重试
		return true, "db_connection_error"
	}

	// Context timeout - 可重试
	if errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}
	// worker 关闭时被取消，下次再跑
	if errors.Is(err, context.Canceled) {
		return true, "context_canceled"
	}

	// 默认：未知错误也重试，次数由队列的 attempts 限制
	return true, "unknown_error"
}

// Retryable adapts IsRetryableError to queue.WorkerOptions.IsRetryable.
func Retryable(err error) bool {
	ok, _ := IsRetryableError(err)
	return ok
}
