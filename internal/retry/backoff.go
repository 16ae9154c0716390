package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy 重试策略
// 只在Retryable判定为可重试的错误上退避重试，其余错误立即放弃
type Policy struct {
	MaxAttempts int                // 最大尝试次数（含首次），<=0时视为1
	BaseDelay   time.Duration      // 首次重试前的等待时间，之后每次翻倍
	Retryable   func(error) bool   // 可重试错误判定，nil表示任何错误都不重试
	OnRetry     func(attempt int, err error, delay time.Duration) // 重试前回调，可为nil，用于日志
}

// Do 按策略执行fn，带指数退避
// 返回最后一次尝试的错误；上下文取消时立即返回ctx.Err()
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	delay := p.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if p.OnRetry != nil {
				p.OnRetry(attempt, lastErr, delay)
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("重试等待期间上下文已取消: %w", ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(lastErr) {
			return lastErr
		}
	}

	return lastErr
}
