package retry

import (
	"context"
	"time"
)

// Policy definition bounded exponential backoff executor
// 第 n 次失敗後等待 BaseDelay * 2^n 再重試，用完次數回傳最後一次錯誤。
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// NewPolicy create a Policy with the default 1s base delay
func NewPolicy(maxAttempts int) Policy {
	return Policy{MaxAttempts: maxAttempts, BaseDelay: time.Second}
}

// Do run op until it succeeds or attempts run out
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var err error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}

		if attempt == p.MaxAttempts {
			break
		}

		// 2^attempt 退避，attempt 從 1 開始
		delay := p.BaseDelay << uint(attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return err
}
