package data

import (
	"context"
	"time"

	"payment-service/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
)

// distributedLocker redsync 分布式锁
type distributedLocker struct {
	data *Data
	log  *log.Helper
}

// NewDistributedLocker 创建分布式锁（返回 biz.DistributedLocker 接口）
func NewDistributedLocker(data *Data, logger log.Logger) biz.DistributedLocker {
	return &distributedLocker{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// TryLock 单次尝试加锁，占用中立即失败不等待
func (l *distributedLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	mutex := l.data.rs.NewMutex(key,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, err
	}
	return func() {
		if _, err := mutex.UnlockContext(ctx); err != nil {
			l.log.Warnf("unlock failed: key=%s, error=%v", key, err)
		}
	}, nil
}
