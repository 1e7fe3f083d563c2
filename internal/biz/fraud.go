package biz

import (
	"context"
	"strings"
	"time"

	"payment-service/internal/constants"
	"payment-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// 一次性邮箱域名（启发式，不求完备）
var disposableEmailDomains = map[string]bool{
	"mailinator.com":    true,
	"guerrillamail.com": true,
	"10minutemail.com":  true,
	"tempmail.com":      true,
	"throwaway.email":   true,
	"yopmail.com":       true,
	"trashmail.com":     true,
}

// FraudAlertRecord 风控告警领域对象
type FraudAlertRecord struct {
	FraudAlertID  string
	AttemptID     string
	CustomerEmail string
	ClientIP      string
	RiskLevel     string
	RiskScore     int
	RiskFactors   []string
	ShouldBlock   bool
	ManualReview  bool
	CreatedAt     time.Time
}

// FraudAlertRepo 风控告警数据层接口（定义在 biz 层）
type FraudAlertRepo interface {
	CreateAlert(ctx context.Context, alert *FraudAlertRecord) error
}

// VelocityCounter 速率计数接口（Redis 固定窗口计数实现）
type VelocityCounter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// UserContext 风控分析的请求上下文
type UserContext struct {
	ClientIP    string
	CountryHint string // 账单国家（客户端声明）
	IPCountry   string // IP 地理归属（上游中间件解析，可为空）
	AttemptID   string // 订单号或尝试ID
}

// RiskAssessment 风控评估结果
type RiskAssessment struct {
	RiskLevel    string   `json:"risk_level"`
	RiskFactors  []string `json:"risk_factors"`
	RiskScore    int      `json:"risk_score"`
	ShouldBlock  bool     `json:"should_block"`
	ManualReview bool     `json:"requires_manual_review"`
	Error        string   `json:"error,omitempty"` // 风控自身出错时记录，不阻断支付
}

// 风险分数到等级的切分点
const (
	riskScoreMedium   = 30
	riskScoreHigh     = 50
	riskScoreCritical = 70
)

// FraudUseCase 支付风控
// 加权累计风险因子得出分数，映射到 low/medium/high/critical；
// 仅 critical 拦截，high 及以上进入人工审核。
// 风控是纵深防御而非单点：自身异常时记录并放行，绝不让正常结账失败
type FraudUseCase struct {
	repo     FraudAlertRepo
	velocity VelocityCounter
	conf     *PaymentConfig
	audit    *AuditUseCase
	log      *log.Helper
	metrics  *metrics.PaymentMetrics
}

// NewFraudUseCase 创建风控 UseCase
func NewFraudUseCase(repo FraudAlertRepo, velocity VelocityCounter, conf *PaymentConfig, audit *AuditUseCase, logger log.Logger) *FraudUseCase {
	return &FraudUseCase{
		repo:     repo,
		velocity: velocity,
		conf:     conf,
		audit:    audit,
		log:      log.NewHelper(logger),
		metrics:  metrics.GetMetrics(),
	}
}

// AnalyzePaymentRisk 评估一次支付尝试的风险
func (uc *FraudUseCase) AnalyzePaymentRisk(ctx context.Context, data *CleanPaymentData, userCtx *UserContext) *RiskAssessment {
	assessment := &RiskAssessment{RiskLevel: constants.RiskLevelLow, RiskFactors: []string{}}

	total := orderTotal(data)

	// 邮箱启发式
	if domain := emailDomain(data.CustomerEmail); domain != "" {
		if disposableEmailDomains[domain] {
			uc.addFactor(assessment, "disposable_email_domain", 25)
		}
		local := data.CustomerEmail[:strings.Index(data.CustomerEmail, "@")]
		if digitHeavy(local) {
			uc.addFactor(assessment, "digit_heavy_email", 10)
		}
	}

	// 金额启发式
	if total > uc.conf.FraudMaxAmount {
		uc.addFactor(assessment, "amount_over_limit", 30)
	} else if total > uc.conf.FraudMaxAmount/2 {
		uc.addFactor(assessment, "unusually_high_amount", 15)
	}

	// 同 IP 速率
	if userCtx != nil && userCtx.ClientIP != "" && uc.velocity != nil {
		key := constants.RedisKeyFraudVelocity + userCtx.ClientIP
		n, err := uc.velocity.Incr(ctx, key, uc.conf.FraudVelocityWindow)
		if err != nil {
			// 风控内部错误：记录并继续，不影响结账
			uc.log.Warnf("fraud velocity check failed: %v", err)
			assessment.Error = err.Error()
		} else if int(n) > uc.conf.FraudVelocityLimit {
			uc.addFactor(assessment, "velocity_exceeded", 25)
		}
	}

	// 地理启发式（账单国家与 IP 归属不一致）
	if userCtx != nil && userCtx.CountryHint != "" && userCtx.IPCountry != "" &&
		!strings.EqualFold(userCtx.CountryHint, userCtx.IPCountry) {
		uc.addFactor(assessment, "geo_mismatch", 15)
	}

	// 分数映射等级
	switch {
	case assessment.RiskScore >= riskScoreCritical:
		assessment.RiskLevel = constants.RiskLevelCritical
		assessment.ShouldBlock = true
		assessment.ManualReview = true
	case assessment.RiskScore >= riskScoreHigh:
		assessment.RiskLevel = constants.RiskLevelHigh
		assessment.ManualReview = true
	case assessment.RiskScore >= riskScoreMedium:
		assessment.RiskLevel = constants.RiskLevelMedium
	}

	if uc.metrics != nil {
		uc.metrics.FraudCheckTotal.WithLabelValues(assessment.RiskLevel).Inc()
		if assessment.ShouldBlock {
			uc.metrics.FraudBlockTotal.Inc()
		}
		if assessment.ManualReview {
			uc.metrics.FraudReviewTotal.Inc()
		}
	}

	// 拦截或审核标记都会落告警记录，与订单是否最终创建无关
	if assessment.ShouldBlock || assessment.ManualReview {
		uc.recordAlert(ctx, data, userCtx, assessment)
	}

	return assessment
}

func (uc *FraudUseCase) addFactor(a *RiskAssessment, factor string, weight int) {
	a.RiskFactors = append(a.RiskFactors, factor)
	a.RiskScore += weight
}

func (uc *FraudUseCase) recordAlert(ctx context.Context, data *CleanPaymentData, userCtx *UserContext, a *RiskAssessment) {
	alert := &FraudAlertRecord{
		FraudAlertID:  uuid.New().String(),
		CustomerEmail: data.CustomerEmail,
		RiskLevel:     a.RiskLevel,
		RiskScore:     a.RiskScore,
		RiskFactors:   a.RiskFactors,
		ShouldBlock:   a.ShouldBlock,
		ManualReview:  a.ManualReview,
		CreatedAt:     time.Now(),
	}
	if userCtx != nil {
		alert.AttemptID = userCtx.AttemptID
		alert.ClientIP = userCtx.ClientIP
	}
	if err := uc.repo.CreateAlert(ctx, alert); err != nil {
		uc.log.Errorf("create fraud alert failed: %v", err)
	}

	eventType := constants.AuditEventFraudFlagged
	if a.ShouldBlock {
		eventType = constants.AuditEventFraudBlocked
	}
	uc.audit.Record(ctx, eventType, constants.AuditOutcomeRejected, map[string]interface{}{
		"customer_email": data.CustomerEmail,
		"risk_level":     a.RiskLevel,
		"risk_score":     a.RiskScore,
		"risk_factors":   a.RiskFactors,
	})
}

func orderTotal(data *CleanPaymentData) float64 {
	total := 0.0
	for _, item := range data.Items {
		total += item.Price * float64(item.Quantity)
	}
	return Round2(total)
}

func emailDomain(email string) string {
	i := strings.LastIndex(email, "@")
	if i < 0 {
		return ""
	}
	return strings.ToLower(email[i+1:])
}

// digitHeavy 本地部分数字占比过半（批量注册号常见特征）
func digitHeavy(local string) bool {
	if local == "" {
		return false
	}
	digits := 0
	for _, r := range local {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits*2 > len(local)
}
