package server

import (
	"context"
	"encoding/json"

	"payment-service/internal/biz"
	"payment-service/internal/conf"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/go-kratos/kratos/v2/log"
)

// MQConsumerServer 消费 webhook 延迟重试消息
type MQConsumerServer struct {
	c         rocketmq.PushConsumer
	webhookUC *biz.WebhookUseCase
	conf      *conf.Data
	log       *log.Helper
	enabled   bool
}

// NewMQConsumerServer 创建 RocketMQ 消费者服务
func NewMQConsumerServer(c *conf.Bootstrap, webhookUC *biz.WebhookUseCase, logger log.Logger) *MQConsumerServer {
	helper := log.NewHelper(logger)
	mq := c.Data.Rocketmq
	if mq == nil || !mq.Enabled {
		return &MQConsumerServer{enabled: false, log: helper}
	}

	r, err := rocketmq.NewPushConsumer(
		consumer.WithNsResolver(primitive.NewPassthroughResolver(mq.NameServers)),
		consumer.WithGroupName(mq.GroupName),
		consumer.WithRetry(int(mq.RetryTimes)),
	)
	if err != nil {
		helper.Errorf("init consumer error: %v", err)
		return &MQConsumerServer{enabled: false, log: helper}
	}

	return &MQConsumerServer{
		c:         r,
		webhookUC: webhookUC,
		conf:      c.Data,
		log:       helper,
		enabled:   true,
	}
}

// Start 启动消费者
func (s *MQConsumerServer) Start(ctx context.Context) error {
	if !s.enabled || s.c == nil {
		s.log.Infof("MQConsumerServer is disabled, skipping startup")
		return nil
	}

	s.log.Infof("Starting MQConsumerServer, topic: %s", s.conf.Rocketmq.Topic)

	err := s.c.Subscribe(s.conf.Rocketmq.Topic, consumer.MessageSelector{}, s.handler)
	if err != nil {
		// 不返回错误，MQ 不可用时重试由进程内定时器兜底
		s.log.Errorf("Failed to subscribe to topic %s: %v", s.conf.Rocketmq.Topic, err)
		return nil
	}

	if err := s.c.Start(); err != nil {
		s.log.Errorf("Failed to start RocketMQ consumer: %v", err)
		return nil
	}
	return nil
}

// Stop 停止消费者
func (s *MQConsumerServer) Stop(ctx context.Context) error {
	if !s.enabled || s.c == nil {
		return nil
	}
	s.log.Info("Stopping MQConsumerServer")
	return s.c.Shutdown()
}

func (s *MQConsumerServer) handler(ctx context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
	for _, msg := range msgs {
		var retry biz.WebhookRetryMessage
		if err := json.Unmarshal(msg.Body, &retry); err != nil {
			s.log.Errorf("Unmarshal retry message failed: %v, body: %s", err, string(msg.Body))
			continue
		}
		if err := s.webhookUC.HandleRetryMessage(ctx, &retry); err != nil {
			// 处理失败由账本状态机决定后续，消息本身不再投递
			s.log.Errorf("HandleRetryMessage failed: id=%s, error=%v", retry.WebhookID, err)
		}
	}
	return consumer.ConsumeSuccess, nil
}
