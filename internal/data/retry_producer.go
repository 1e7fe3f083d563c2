package data

import (
	"context"
	"encoding/json"
	"time"

	"payment-service/internal/biz"
	"payment-service/internal/conf"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"github.com/go-kratos/kratos/v2/log"
)

// webhookRetryQueue RocketMQ 延迟消息实现的重试队列
// RocketMQ 只支持固定延迟档位，delayLevel 将秒数就近映射到
// 1s/5s/10s/30s/1m/2m/3m/4m/5m/... 档
type webhookRetryQueue struct {
	p       rocketmq.Producer
	topic   string
	log     *log.Helper
	enabled bool
}

// NewWebhookRetryQueue 创建 webhook 重试队列（返回 biz.WebhookRetryQueue 接口）
// MQ 未启用或初始化失败时返回禁用实例，上层退化为进程内定时器
func NewWebhookRetryQueue(c *conf.Bootstrap, logger log.Logger) biz.WebhookRetryQueue {
	helper := log.NewHelper(logger)
	mq := c.Data.Rocketmq
	if mq == nil || !mq.Enabled {
		return &webhookRetryQueue{enabled: false, log: helper}
	}

	p, err := rocketmq.NewProducer(
		producer.WithNsResolver(primitive.NewPassthroughResolver(mq.NameServers)),
		producer.WithGroupName(mq.GroupName),
		producer.WithRetry(int(mq.RetryTimes)),
	)
	if err != nil {
		helper.Errorf("init retry producer error: %v", err)
		return &webhookRetryQueue{enabled: false, log: helper}
	}
	if err := p.Start(); err != nil {
		helper.Errorf("start retry producer error: %v", err)
		return &webhookRetryQueue{enabled: false, log: helper}
	}

	return &webhookRetryQueue{
		p:       p,
		topic:   mq.Topic,
		log:     helper,
		enabled: true,
	}
}

// Enabled 队列是否可用
func (q *webhookRetryQueue) Enabled() bool {
	return q.enabled
}

// Enqueue 投递延迟重试消息
func (q *webhookRetryQueue) Enqueue(ctx context.Context, msg *biz.WebhookRetryMessage, delay time.Duration) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	m := primitive.NewMessage(q.topic, body)
	m.WithDelayTimeLevel(delayLevel(delay))

	result, err := q.p.SendSync(ctx, m)
	if err != nil {
		return err
	}
	q.log.Infof("webhook retry enqueued: id=%s, attempt=%d, delay=%s, msg_id=%s",
		msg.WebhookID, msg.Attempt, delay, result.MsgID)
	return nil
}

// delayLevel 延迟时长到 RocketMQ 延迟档位的就近映射
// 档位表：1=1s 2=5s 3=10s 4=30s 5=1m 6=2m 7=3m 8=4m 9=5m 10=6m ...
func delayLevel(delay time.Duration) int {
	levels := []time.Duration{
		time.Second,
		5 * time.Second,
		10 * time.Second,
		30 * time.Second,
		time.Minute,
		2 * time.Minute,
		3 * time.Minute,
		4 * time.Minute,
		5 * time.Minute,
	}
	for i, d := range levels {
		if delay <= d {
			return i + 1
		}
	}
	return len(levels)
}
