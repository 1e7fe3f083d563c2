package biz

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"payment-service/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// 审计载荷中需要脱敏的字段名（小写匹配）
var redactedKeys = map[string]bool{
	"card_number":   true,
	"cardnumber":    true,
	"pan":           true,
	"cvv":           true,
	"cvc":           true,
	"password":      true,
	"secret":        true,
	"api_key":       true,
	"apikey":        true,
	"authorization": true,
	"cookie":        true,
	"set-cookie":    true,
}

// AuditEntry 审计日志条目（JSONL，一行一条）
type AuditEntry struct {
	EntryID   string                 `json:"entry_id"`
	Timestamp string                 `json:"timestamp"`
	EventType string                 `json:"event_type"`
	Outcome   string                 `json:"outcome"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// AuditUseCase 支付审计日志
// 仅追加写；写入失败只记录日志，绝不向上抛出影响主流程
type AuditUseCase struct {
	mu     sync.Mutex
	writer *lumberjack.Logger
	log    *log.Helper
}

// NewAuditUseCase 创建审计日志 UseCase
func NewAuditUseCase(conf *PaymentConfig, logger log.Logger) (*AuditUseCase, func()) {
	w := &lumberjack.Logger{
		Filename:   filepath.Join(conf.AuditDir, "payment_audit.log"),
		MaxSize:    100, // MB
		MaxAge:     conf.AuditMaxAgeDays,
		MaxBackups: 24,
		Compress:   true,
	}
	uc := &AuditUseCase{
		writer: w,
		log:    log.NewHelper(logger),
	}
	cleanup := func() {
		_ = w.Close()
	}
	return uc, cleanup
}

// Record 写入一条审计日志（失败不上抛）
func (uc *AuditUseCase) Record(ctx context.Context, eventType, outcome string, payload map[string]interface{}) {
	entry := AuditEntry{
		EntryID:   uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		EventType: eventType,
		Outcome:   outcome,
		Payload:   redactPayload(payload),
	}

	line, err := json.Marshal(entry)
	if err != nil {
		uc.log.Errorf("audit marshal failed: event_type=%s, error=%v", eventType, err)
		return
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()
	if _, err := uc.writer.Write(append(line, '\n')); err != nil {
		uc.log.Errorf("audit write failed: event_type=%s, error=%v", eventType, err)
	}
}

// RecordRejection 记录一次安全拒绝（CSRF/签名/风控），HTTP 响应保持笼统但审计保留细节
func (uc *AuditUseCase) RecordRejection(ctx context.Context, eventType, reason, clientIP string) {
	uc.Record(ctx, eventType, constants.AuditOutcomeRejected, map[string]interface{}{
		"reason":    reason,
		"client_ip": clientIP,
	})
}

// redactPayload 递归脱敏，PCI 敏感字段替换为 [REDACTED]
func redactPayload(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return nil
	}
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		if redactedKeys[strings.ToLower(k)] {
			out[k] = "[REDACTED]"
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = redactPayload(nested)
			continue
		}
		out[k] = v
	}
	return out
}
