package data

import (
	"context"
	"errors"
	"sync"
	"time"

	"payment-service/internal/biz"
	"payment-service/internal/conf"
	"payment-service/internal/constants"
	"payment-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// webhookRepo webhook 幂等账本数据访问
// 三级去重：Redis 快速路径 → 数据库唯一键仲裁 → 进程内兜底。
// 数据库唯一键是最终仲裁，Redis 只是减少数据库压力的前置过滤，
// 进程内 map 仅在数据库不可用的降级窗口里挡住同实例重复
type webhookRepo struct {
	data *Data
	conf *conf.Bootstrap
	log  *log.Helper

	// 数据库故障时的进程内降级账本
	fallback sync.Map // webhookID -> time.Time
}

// NewWebhookRepo 创建 webhook 账本 repo（返回 biz.WebhookRepo 接口）
func NewWebhookRepo(data *Data, c *conf.Bootstrap, logger log.Logger) biz.WebhookRepo {
	return &webhookRepo{
		data: data,
		conf: c,
		log:  log.NewHelper(logger),
	}
}

// InsertProcessing 插入 processing 记录，冲突视为重复投递
func (r *webhookRepo) InsertProcessing(ctx context.Context, rec *biz.WebhookRecord) (bool, *biz.WebhookRecord, error) {
	cacheKey := constants.RedisKeyWebhookEvent + rec.WebhookID

	// 一级：Redis 快速路径
	if exists, err := r.data.rdb.Exists(ctx, cacheKey).Result(); err == nil && exists > 0 {
		existing, err := r.GetRecord(ctx, rec.WebhookID)
		if err == nil && existing != nil {
			return false, existing, nil
		}
		// 缓存与数据库不一致时以数据库为准，继续走插入
	}

	// 二级：数据库唯一键仲裁
	m := webhookToModel(rec)
	result := r.data.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(m)
	if result.Error != nil {
		// 三级：数据库不可用，进程内兜底
		r.log.Errorf("webhook ledger insert failed, falling back to in-process dedup: id=%s, error=%v", rec.WebhookID, result.Error)
		if _, loaded := r.fallback.LoadOrStore(rec.WebhookID, time.Now()); loaded {
			return false, &biz.WebhookRecord{
				WebhookID: rec.WebhookID,
				EventType: rec.EventType,
				Status:    constants.WebhookStatusProcessing,
			}, nil
		}
		return true, nil, nil
	}
	if result.RowsAffected == 0 {
		existing, err := r.GetRecord(ctx, rec.WebhookID)
		if err != nil {
			return false, nil, err
		}
		return false, existing, nil
	}

	if err := r.data.rdb.Set(ctx, cacheKey, constants.WebhookStatusProcessing, r.idempotencyWindow()).Err(); err != nil {
		r.log.Warnf("cache webhook event failed: %v", err)
	}
	return true, nil, nil
}

// GetRecord 查询账本记录
func (r *webhookRepo) GetRecord(ctx context.Context, webhookID string) (*biz.WebhookRecord, error) {
	var m model.WebhookEvent
	if err := r.data.db.WithContext(ctx).Where("webhook_id = ?", webhookID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return webhookToBiz(&m), nil
}

// MarkCompleted 标记处理完成
func (r *webhookRepo) MarkCompleted(ctx context.Context, webhookID, result string) error {
	now := time.Now()
	err := r.data.db.WithContext(ctx).Model(&model.WebhookEvent{}).
		Where("webhook_id = ?", webhookID).
		Updates(map[string]interface{}{
			"status":       model.WebhookStatusCompleted,
			"result":       result,
			"processed_at": now,
		}).Error
	if err != nil {
		return err
	}
	if err := r.data.rdb.Set(ctx, constants.RedisKeyWebhookEvent+webhookID,
		model.WebhookStatusCompleted, r.idempotencyWindow()).Err(); err != nil {
		r.log.Warnf("cache webhook status failed: %v", err)
	}
	return nil
}

// MarkFailed 标记处理失败（进入死信）
func (r *webhookRepo) MarkFailed(ctx context.Context, webhookID, processingError string) error {
	now := time.Now()
	return r.data.db.WithContext(ctx).Model(&model.WebhookEvent{}).
		Where("webhook_id = ?", webhookID).
		Updates(map[string]interface{}{
			"status":           model.WebhookStatusFailed,
			"processing_error": processingError,
			"processed_at":     now,
		}).Error
}

// UpdateRetryCount 更新已重试次数
func (r *webhookRepo) UpdateRetryCount(ctx context.Context, webhookID string, retryCount int) error {
	return r.data.db.WithContext(ctx).Model(&model.WebhookEvent{}).
		Where("webhook_id = ?", webhookID).
		Update("retry_count", retryCount).Error
}

// ResetForRetry 死信记录重置回 processing（手工重试入口）
func (r *webhookRepo) ResetForRetry(ctx context.Context, webhookID string) error {
	return r.data.db.WithContext(ctx).Model(&model.WebhookEvent{}).
		Where("webhook_id = ? AND status = ?", webhookID, model.WebhookStatusFailed).
		Updates(map[string]interface{}{
			"status":           model.WebhookStatusProcessing,
			"processing_error": "",
		}).Error
}

// ListDeadLetters 查询死信记录（最新在前）
func (r *webhookRepo) ListDeadLetters(ctx context.Context, limit int) ([]*biz.WebhookRecord, error) {
	var ms []model.WebhookEvent
	if err := r.data.db.WithContext(ctx).
		Where("status = ?", model.WebhookStatusFailed).
		Order("created_at DESC").
		Limit(limit).
		Find(&ms).Error; err != nil {
		return nil, err
	}
	records := make([]*biz.WebhookRecord, 0, len(ms))
	for i := range ms {
		records = append(records, webhookToBiz(&ms[i]))
	}
	return records, nil
}

// CountDeadLetters 统计死信数量
func (r *webhookRepo) CountDeadLetters(ctx context.Context) (int64, error) {
	var n int64
	err := r.data.db.WithContext(ctx).Model(&model.WebhookEvent{}).
		Where("status = ?", model.WebhookStatusFailed).
		Count(&n).Error
	return n, err
}

// DeleteCompletedBefore 清理保留期外的已完成记录（死信永久保留）
func (r *webhookRepo) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.data.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.WebhookStatusCompleted, cutoff).
		Delete(&model.WebhookEvent{})
	return result.RowsAffected, result.Error
}

// idempotencyWindow Redis 去重缓存的过期时长
func (r *webhookRepo) idempotencyWindow() time.Duration {
	if r.conf.Payment != nil && r.conf.Payment.Webhook != nil {
		if d := r.conf.Payment.Webhook.IdempotencyWindow.AsDuration(); d > 0 {
			return d
		}
	}
	return 5 * time.Minute
}

// webhookToModel biz.WebhookRecord -> model.WebhookEvent
func webhookToModel(rec *biz.WebhookRecord) *model.WebhookEvent {
	return &model.WebhookEvent{
		WebhookID:       rec.WebhookID,
		EventType:       rec.EventType,
		Status:          rec.Status,
		RetryCount:      rec.RetryCount,
		Payload:         rec.Payload,
		Result:          rec.Result,
		ProcessingError: rec.ProcessingError,
		SignatureValid:  rec.SignatureValid,
		ProcessedAt:     rec.ProcessedAt,
	}
}

// webhookToBiz model.WebhookEvent -> biz.WebhookRecord
func webhookToBiz(m *model.WebhookEvent) *biz.WebhookRecord {
	return &biz.WebhookRecord{
		WebhookID:       m.WebhookID,
		EventType:       m.EventType,
		Status:          m.Status,
		RetryCount:      m.RetryCount,
		Payload:         m.Payload,
		Result:          m.Result,
		ProcessingError: m.ProcessingError,
		SignatureValid:  m.SignatureValid,
		CreatedAt:       m.CreatedAt,
		ProcessedAt:     m.ProcessedAt,
	}
}
