package service

import (
	"context"
	"time"

	"payment-service/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
)

// RetryWebhookRequest 死信手工重试请求
type RetryWebhookRequest struct {
	WebhookID string `json:"webhook_id"`
}

// DeadLetterReply 死信条目响应（不回传原始载荷，排查走审计与数据库）
type DeadLetterReply struct {
	WebhookID       string     `json:"webhook_id"`
	EventType       string     `json:"event_type"`
	RetryCount      int        `json:"retry_count"`
	ProcessingError string     `json:"processing_error"`
	CreatedAt       time.Time  `json:"created_at"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
}

// WebhookService webhook HTTP 服务
type WebhookService struct {
	webhookUC *biz.WebhookUseCase
	log       *log.Helper
}

// NewWebhookService 创建 webhook 服务
func NewWebhookService(webhookUC *biz.WebhookUseCase, logger log.Logger) *WebhookService {
	return &WebhookService{
		webhookUC: webhookUC,
		log:       log.NewHelper(logger),
	}
}

// HandleWebhook 入站 webhook
// 签名对原始请求体计算，body 必须是未经反序列化的字节
func (s *WebhookService) HandleWebhook(ctx context.Context, body []byte, sigHeader, clientIP, userAgent string) (*biz.WebhookOutcome, error) {
	return s.webhookUC.HandleWebhook(ctx, body, sigHeader, &biz.WebhookRequestMeta{
		ClientIP:  clientIP,
		UserAgent: userAgent,
	})
}

// RetryWebhook 手工重放一条死信
func (s *WebhookService) RetryWebhook(ctx context.Context, req *RetryWebhookRequest) (*biz.WebhookOutcome, error) {
	return s.webhookUC.RetryFailedWebhook(ctx, req.WebhookID)
}

// DeadLetters 死信列表
func (s *WebhookService) DeadLetters(ctx context.Context, limit int) ([]*DeadLetterReply, error) {
	records, err := s.webhookUC.DeadLetters(ctx, limit)
	if err != nil {
		return nil, err
	}
	replies := make([]*DeadLetterReply, 0, len(records))
	for _, rec := range records {
		replies = append(replies, &DeadLetterReply{
			WebhookID:       rec.WebhookID,
			EventType:       rec.EventType,
			RetryCount:      rec.RetryCount,
			ProcessingError: rec.ProcessingError,
			CreatedAt:       rec.CreatedAt,
			ProcessedAt:     rec.ProcessedAt,
		})
	}
	return replies, nil
}
