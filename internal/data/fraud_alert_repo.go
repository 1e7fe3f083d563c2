package data

import (
	"context"
	"encoding/json"

	"payment-service/internal/biz"
	"payment-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
)

// fraudAlertRepo 风控告警数据访问
type fraudAlertRepo struct {
	data *Data
	log  *log.Helper
}

// NewFraudAlertRepo 创建风控告警 repo（返回 biz.FraudAlertRepo 接口）
func NewFraudAlertRepo(data *Data, logger log.Logger) biz.FraudAlertRepo {
	return &fraudAlertRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// CreateAlert 写入风控告警记录
func (r *fraudAlertRepo) CreateAlert(ctx context.Context, alert *biz.FraudAlertRecord) error {
	factors := "[]"
	if raw, err := json.Marshal(alert.RiskFactors); err == nil {
		factors = string(raw)
	}
	return r.data.db.WithContext(ctx).Create(&model.FraudAlert{
		FraudAlertID:  alert.FraudAlertID,
		AttemptID:     alert.AttemptID,
		CustomerEmail: alert.CustomerEmail,
		ClientIP:      alert.ClientIP,
		RiskLevel:     alert.RiskLevel,
		RiskScore:     alert.RiskScore,
		RiskFactors:   factors,
		ShouldBlock:   alert.ShouldBlock,
		ManualReview:  alert.ManualReview,
	}).Error
}
