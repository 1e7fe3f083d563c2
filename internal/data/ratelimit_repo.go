package data

import (
	"context"
	"time"

	"payment-service/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
)

// velocityCounter Redis 固定窗口计数器
// 风控速率检查与公开接口按 IP 限流共用这一实现
type velocityCounter struct {
	data *Data
	log  *log.Helper
}

// NewVelocityCounter 创建速率计数器（返回 biz.VelocityCounter 接口）
func NewVelocityCounter(data *Data, logger log.Logger) biz.VelocityCounter {
	return &velocityCounter{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// Incr 窗口内计数加一并返回当前值
// 首次计数时设置窗口过期；INCR 原子性保证并发下计数准确
func (c *velocityCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := c.data.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		if err := c.data.rdb.Expire(ctx, key, window).Err(); err != nil {
			c.log.Warnf("set window expiry failed: key=%s, error=%v", key, err)
		}
	}
	return n, nil
}
