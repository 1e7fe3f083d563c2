package biz

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"payment-service/internal/constants"
	payErrors "payment-service/internal/errors"
	"payment-service/internal/metrics"

	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// WebhookRecord webhook 幂等账本条目
// WebhookID 即提供方事件ID，是去重仲裁键
type WebhookRecord struct {
	WebhookID       string
	EventType       string
	Status          string
	RetryCount      int
	Payload         string
	Result          string
	ProcessingError string
	SignatureValid  bool
	CreatedAt       time.Time
	ProcessedAt     *time.Time
}

// WebhookRepo webhook 账本数据层接口（定义在 biz 层）
type WebhookRepo interface {
	// InsertProcessing 插入 processing 记录；事件已存在时 created=false 并返回现存记录
	InsertProcessing(ctx context.Context, rec *WebhookRecord) (created bool, existing *WebhookRecord, err error)
	GetRecord(ctx context.Context, webhookID string) (*WebhookRecord, error)
	MarkCompleted(ctx context.Context, webhookID, result string) error
	MarkFailed(ctx context.Context, webhookID, processingError string) error
	UpdateRetryCount(ctx context.Context, webhookID string, retryCount int) error
	// ResetForRetry 死信记录重置回 processing（仅 failed 状态允许）
	ResetForRetry(ctx context.Context, webhookID string) error
	ListDeadLetters(ctx context.Context, limit int) ([]*WebhookRecord, error)
	CountDeadLetters(ctx context.Context) (int64, error)
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// WebhookRetryQueue 延迟重试队列（RocketMQ 延迟消息实现）
type WebhookRetryQueue interface {
	Enqueue(ctx context.Context, msg *WebhookRetryMessage, delay time.Duration) error
	Enabled() bool
}

// WebhookRetryMessage 重试消息体
type WebhookRetryMessage struct {
	WebhookID   string `json:"webhook_id"`
	Attempt     int    `json:"attempt"`      // 即将执行的是第几次尝试（首次投递算第 1 次）
	MaxAttempts int    `json:"max_attempts"` // 本轮重试的总预算（手工重试为配置值的一半）
}

// WebhookEventHandler 事件处理回调，由支付编排层实现
type WebhookEventHandler interface {
	HandlePaymentIntentSucceeded(ctx context.Context, intentID string, metadata map[string]string) error
	HandlePaymentIntentFailed(ctx context.Context, intentID, reason string) error
	HandleChargeDispute(ctx context.Context, chargeID string, metadata map[string]string) error
}

// WebhookEventPayload 提供方事件载荷
type WebhookEventPayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID             string            `json:"id"`
			Amount         int64             `json:"amount"`
			Currency       string            `json:"currency"`
			Status         string            `json:"status"`
			FailureMessage string            `json:"failure_message"`
			Metadata       map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// WebhookRequestMeta 请求元信息（进入审计）
type WebhookRequestMeta struct {
	ClientIP  string
	UserAgent string
}

// WebhookOutcome 入站处理结果
type WebhookOutcome struct {
	Status    string `json:"status"` // success/duplicate/accepted/ignored/failed
	WebhookID string `json:"webhook_id"`
	EventType string `json:"event_type,omitempty"`
	Result    string `json:"processing_result,omitempty"`
}

// WebhookUseCase webhook 安全与重试编排
// 签名验证 → 幂等账本 → 事件分发 → 延迟重试 → 死信
type WebhookUseCase struct {
	repo    WebhookRepo
	queue   WebhookRetryQueue
	handler WebhookEventHandler
	locker  DistributedLocker
	conf    *PaymentConfig
	audit   *AuditUseCase
	log     *log.Helper
	metrics *metrics.PaymentMetrics
	now     func() time.Time
}

// DistributedLocker 手工重试互斥锁（redsync 实现）
type DistributedLocker interface {
	// TryLock 获取成功返回解锁函数，已被占用返回 err
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// NewWebhookUseCase 创建 webhook UseCase
func NewWebhookUseCase(
	repo WebhookRepo,
	queue WebhookRetryQueue,
	handler WebhookEventHandler,
	locker DistributedLocker,
	conf *PaymentConfig,
	audit *AuditUseCase,
	logger log.Logger,
) *WebhookUseCase {
	return &WebhookUseCase{
		repo:    repo,
		queue:   queue,
		handler: handler,
		locker:  locker,
		conf:    conf,
		audit:   audit,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
		now:     time.Now,
	}
}

// VerifySignature 验证提供方签名头
// 头格式：t=<unix>,v1=<hex>[,v1=<hex>...]
// 被签名串为 "<t>.<原始请求体>"；多密钥并存（轮换期），任一密钥
// 对任一 v1 匹配即通过；时间戳超出容忍窗口直接拒绝
func (uc *WebhookUseCase) VerifySignature(header string, body []byte) error {
	timestamp, sigs, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	skew := uc.now().Unix() - timestamp
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > uc.conf.WebhookTolerance {
		return kerrors.Unauthorized("WEBHOOK_TIMESTAMP_STALE", "signature timestamp outside tolerance")
	}

	signedPayload := fmt.Sprintf("%d.%s", timestamp, body)
	for _, secret := range uc.conf.WebhookSecrets {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(signedPayload))
		expected := hex.EncodeToString(mac.Sum(nil))
		for _, sig := range sigs {
			if hmac.Equal([]byte(expected), []byte(sig)) {
				return nil
			}
		}
	}
	return kerrors.Unauthorized("WEBHOOK_SIGNATURE_INVALID", "no matching signature")
}

// parseSignatureHeader 解析签名头，返回时间戳与全部 v1 签名
func parseSignatureHeader(header string) (int64, []string, error) {
	if header == "" {
		return 0, nil, kerrors.Unauthorized("WEBHOOK_HEADER_MALFORMED", "missing signature header")
	}
	var timestamp int64 = -1
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return 0, nil, kerrors.Unauthorized("WEBHOOK_HEADER_MALFORMED", "invalid timestamp field")
			}
			timestamp = ts
		case "v1":
			sigs = append(sigs, kv[1])
		}
	}
	if timestamp < 0 || len(sigs) == 0 {
		return 0, nil, kerrors.Unauthorized("WEBHOOK_HEADER_MALFORMED", "timestamp or v1 signature missing")
	}
	return timestamp, sigs, nil
}

// HandleWebhook 入站 webhook 全流程
// 每次验证与处理结果都进审计，无论成败
func (uc *WebhookUseCase) HandleWebhook(ctx context.Context, body []byte, sigHeader string, meta *WebhookRequestMeta) (*WebhookOutcome, error) {
	startTime := uc.now()
	clientIP := ""
	userAgent := ""
	if meta != nil {
		clientIP = meta.ClientIP
		userAgent = meta.UserAgent
	}

	verifyErr := uc.VerifySignature(sigHeader, body)
	sigOutcome := constants.AuditOutcomeSuccess
	sigLabel := "valid"
	if verifyErr != nil {
		sigOutcome = constants.AuditOutcomeRejected
		sigLabel = "invalid"
	}
	uc.audit.Record(ctx, constants.AuditEventWebhookVerification, sigOutcome, map[string]interface{}{
		"client_ip":  clientIP,
		"user_agent": userAgent,
		"body_bytes": len(body),
	})
	if uc.metrics != nil {
		uc.metrics.WebhookSignatureTotal.WithLabelValues(sigLabel).Inc()
	}
	if verifyErr != nil {
		uc.log.Warnf("webhook signature rejected: ip=%s, error=%v", clientIP, verifyErr)
		return nil, verifyErr
	}

	var event WebhookEventPayload
	if err := json.Unmarshal(body, &event); err != nil || event.ID == "" || event.Type == "" {
		return nil, kerrors.BadRequest("WEBHOOK_PAYLOAD_INVALID", "body is not a well-formed event")
	}

	// 幂等账本：同一事件ID只处理一次
	rec := &WebhookRecord{
		WebhookID:      event.ID,
		EventType:      event.Type,
		Status:         constants.WebhookStatusProcessing,
		Payload:        string(body),
		SignatureValid: true,
		CreatedAt:      uc.now(),
	}
	created, existing, err := uc.repo.InsertProcessing(ctx, rec)
	if err != nil {
		return nil, pkgErrors.WrapErrorWithLang(ctx, err, payErrors.ErrCodeWebhookLedgerFailed)
	}
	if !created {
		// 死信事件的重放也按重复处理，重新进入需走手工重试接口
		outcome := &WebhookOutcome{
			Status:    constants.WebhookResultDuplicate,
			WebhookID: event.ID,
			EventType: event.Type,
			Result:    existing.Status,
		}
		uc.recordProcessed(ctx, event.ID, event.Type, constants.WebhookResultDuplicate, startTime)
		return outcome, nil
	}

	// 首次尝试同步执行，失败转入异步退避重试
	result, dispatchErr := uc.dispatch(ctx, &event)
	if dispatchErr == nil {
		if result == constants.WebhookResultIgnored {
			if err := uc.repo.MarkCompleted(ctx, event.ID, constants.WebhookResultIgnored); err != nil {
				uc.log.Errorf("mark webhook ignored failed: id=%s, error=%v", event.ID, err)
			}
			uc.recordProcessed(ctx, event.ID, event.Type, constants.WebhookResultIgnored, startTime)
			return &WebhookOutcome{Status: constants.WebhookResultIgnored, WebhookID: event.ID, EventType: event.Type}, nil
		}
		if err := uc.repo.MarkCompleted(ctx, event.ID, constants.WebhookResultSuccess); err != nil {
			uc.log.Errorf("mark webhook completed failed: id=%s, error=%v", event.ID, err)
		}
		uc.recordProcessed(ctx, event.ID, event.Type, constants.WebhookResultSuccess, startTime)
		return &WebhookOutcome{Status: constants.WebhookResultSuccess, WebhookID: event.ID, EventType: event.Type}, nil
	}

	uc.log.Warnf("webhook first attempt failed: id=%s, type=%s, error=%v", event.ID, event.Type, dispatchErr)
	uc.scheduleRetry(ctx, &WebhookRetryMessage{
		WebhookID:   event.ID,
		Attempt:     2,
		MaxAttempts: uc.conf.MaxRetryAttempts,
	})
	uc.recordProcessed(ctx, event.ID, event.Type, constants.WebhookResultFailed, startTime)
	// 对提供方返回 200：重试由我们自己的队列接管，避免双方重复投递
	return &WebhookOutcome{Status: "accepted", WebhookID: event.ID, EventType: event.Type, Result: dispatchErr.Error()}, nil
}

// dispatch 按事件类型路由
// 未订阅的类型显式标记 ignored，绝不静默丢弃
func (uc *WebhookUseCase) dispatch(ctx context.Context, event *WebhookEventPayload) (string, error) {
	obj := event.Data.Object
	switch event.Type {
	case constants.EventPaymentIntentSucceeded:
		return constants.WebhookResultSuccess, uc.handler.HandlePaymentIntentSucceeded(ctx, obj.ID, obj.Metadata)
	case constants.EventPaymentIntentFailed:
		return constants.WebhookResultSuccess, uc.handler.HandlePaymentIntentFailed(ctx, obj.ID, obj.FailureMessage)
	case constants.EventChargeDisputeCreated:
		return constants.WebhookResultSuccess, uc.handler.HandleChargeDispute(ctx, obj.ID, obj.Metadata)
	default:
		uc.log.Infof("webhook event ignored: id=%s, type=%s", event.ID, event.Type)
		return constants.WebhookResultIgnored, nil
	}
}

// HandleRetryMessage 消费一条重试消息（MQ 消费者或本地定时器调入）
func (uc *WebhookUseCase) HandleRetryMessage(ctx context.Context, msg *WebhookRetryMessage) error {
	rec, err := uc.repo.GetRecord(ctx, msg.WebhookID)
	if err != nil {
		return err
	}
	if rec == nil {
		return pkgErrors.NewBizErrorWithLang(ctx, payErrors.ErrCodeWebhookNotFound)
	}
	if rec.Status == constants.WebhookStatusCompleted {
		// 与另一条路径的竞争：已经处理完，丢弃消息
		return nil
	}

	maxAttempts := msg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = uc.conf.MaxRetryAttempts
	}

	var event WebhookEventPayload
	if err := json.Unmarshal([]byte(rec.Payload), &event); err != nil {
		uc.log.Errorf("webhook payload corrupt: id=%s, error=%v", msg.WebhookID, err)
		return uc.deadLetter(ctx, rec, "payload corrupt")
	}

	if uc.metrics != nil {
		uc.metrics.WebhookRetryTotal.Inc()
	}
	uc.log.Infof("webhook retry attempt %d/%d: id=%s, type=%s", msg.Attempt, maxAttempts, msg.WebhookID, event.Type)

	if err := uc.repo.UpdateRetryCount(ctx, msg.WebhookID, msg.Attempt-1); err != nil {
		uc.log.Warnf("update retry count failed: id=%s, error=%v", msg.WebhookID, err)
	}

	result, dispatchErr := uc.dispatch(ctx, &event)
	if dispatchErr == nil {
		if err := uc.repo.MarkCompleted(ctx, msg.WebhookID, result); err != nil {
			uc.log.Errorf("mark webhook completed failed: id=%s, error=%v", msg.WebhookID, err)
		}
		uc.log.Infof("webhook retry succeeded: id=%s, attempt=%d", msg.WebhookID, msg.Attempt)
		return nil
	}

	if msg.Attempt >= maxAttempts {
		return uc.deadLetter(ctx, rec, dispatchErr.Error())
	}
	uc.scheduleRetry(ctx, &WebhookRetryMessage{
		WebhookID:   msg.WebhookID,
		Attempt:     msg.Attempt + 1,
		MaxAttempts: maxAttempts,
	})
	return nil
}

// scheduleRetry 安排下一次尝试
// 退避序列按"已失败次数"取档；MQ 不可用时退化为进程内定时器
func (uc *WebhookUseCase) scheduleRetry(ctx context.Context, msg *WebhookRetryMessage) {
	idx := msg.Attempt - 2 // 第 2 次尝试用第 1 档退避
	if idx < 0 {
		idx = 0
	}
	if idx >= len(uc.conf.BackoffSeconds) {
		idx = len(uc.conf.BackoffSeconds) - 1
	}
	delay := time.Duration(uc.conf.BackoffSeconds[idx]) * time.Second

	if uc.queue != nil && uc.queue.Enabled() {
		err := uc.queue.Enqueue(ctx, msg, delay)
		if err == nil {
			return
		}
		uc.log.Errorf("enqueue webhook retry failed, falling back to local timer: id=%s, error=%v", msg.WebhookID, err)
	}
	time.AfterFunc(delay, func() {
		if err := uc.HandleRetryMessage(context.Background(), msg); err != nil {
			uc.log.Errorf("local webhook retry failed: id=%s, error=%v", msg.WebhookID, err)
		}
	})
}

// deadLetter 重试预算耗尽，标记死信并保留载荷待人工处理
func (uc *WebhookUseCase) deadLetter(ctx context.Context, rec *WebhookRecord, reason string) error {
	if err := uc.repo.MarkFailed(ctx, rec.WebhookID, reason); err != nil {
		uc.log.Errorf("mark webhook failed error: id=%s, error=%v", rec.WebhookID, err)
		return err
	}
	if uc.metrics != nil {
		if n, err := uc.repo.CountDeadLetters(ctx); err == nil {
			uc.metrics.WebhookDeadLetter.Set(float64(n))
		}
	}
	uc.audit.Record(ctx, constants.AuditEventWebhookDeadLetter, constants.AuditOutcomeFailure, map[string]interface{}{
		"webhook_id": rec.WebhookID,
		"event_type": rec.EventType,
		"reason":     reason,
	})
	uc.log.Errorf("webhook dead-lettered: id=%s, type=%s, reason=%s", rec.WebhookID, rec.EventType, reason)
	return nil
}

// RetryFailedWebhook 手工重放一条死信
// 分布式锁防并发重放；重试预算为配置值的一半（至少 1 次）
func (uc *WebhookUseCase) RetryFailedWebhook(ctx context.Context, webhookID string) (*WebhookOutcome, error) {
	if uc.locker != nil {
		unlock, err := uc.locker.TryLock(ctx, constants.RedisKeyWebhookRetryLock+webhookID, 30*time.Second)
		if err != nil {
			return nil, pkgErrors.NewBizErrorWithLang(ctx, payErrors.ErrCodeWebhookNotRetryable)
		}
		defer unlock()
	}

	rec, err := uc.repo.GetRecord(ctx, webhookID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, pkgErrors.NewBizErrorWithLang(ctx, payErrors.ErrCodeWebhookNotFound)
	}
	if rec.Status != constants.WebhookStatusFailed {
		return nil, pkgErrors.NewBizErrorWithLang(ctx, payErrors.ErrCodeWebhookNotRetryable)
	}
	if err := uc.repo.ResetForRetry(ctx, webhookID); err != nil {
		return nil, pkgErrors.WrapErrorWithLang(ctx, err, payErrors.ErrCodeWebhookLedgerFailed)
	}

	budget := uc.conf.MaxRetryAttempts / 2
	if budget < 1 {
		budget = 1
	}
	if err := uc.HandleRetryMessage(ctx, &WebhookRetryMessage{
		WebhookID:   webhookID,
		Attempt:     1,
		MaxAttempts: budget,
	}); err != nil {
		return nil, err
	}

	rec, err = uc.repo.GetRecord(ctx, webhookID)
	if err != nil {
		return nil, err
	}
	return &WebhookOutcome{Status: rec.Status, WebhookID: webhookID, EventType: rec.EventType, Result: rec.Result}, nil
}

// DeadLetters 死信列表（运维查询）
func (uc *WebhookUseCase) DeadLetters(ctx context.Context, limit int) ([]*WebhookRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return uc.repo.ListDeadLetters(ctx, limit)
}

// DeadLetterCount 死信数量（监控看板用）
func (uc *WebhookUseCase) DeadLetterCount(ctx context.Context) int64 {
	n, err := uc.repo.CountDeadLetters(ctx)
	if err != nil {
		uc.log.Warnf("count dead letters failed: %v", err)
		return 0
	}
	return n
}

// CleanupLedger 清理超过保留期的已完成账本记录（cron 定时调用）
func (uc *WebhookUseCase) CleanupLedger(ctx context.Context) (int64, error) {
	cutoff := uc.now().Add(-uc.conf.LedgerRetention)
	return uc.repo.DeleteCompletedBefore(ctx, cutoff)
}

// recordProcessed 处理结果进审计并记录时延
func (uc *WebhookUseCase) recordProcessed(ctx context.Context, webhookID, eventType, result string, startTime time.Time) {
	outcome := constants.AuditOutcomeSuccess
	if result == constants.WebhookResultFailed {
		outcome = constants.AuditOutcomeFailure
	}
	uc.audit.Record(ctx, constants.AuditEventWebhookProcessed, outcome, map[string]interface{}{
		"webhook_id": webhookID,
		"event_type": eventType,
		"result":     result,
	})
	if uc.metrics != nil {
		uc.metrics.WebhookReceivedTotal.WithLabelValues(result).Inc()
		uc.metrics.WebhookDuration.Observe(time.Since(startTime).Seconds())
	}
}
