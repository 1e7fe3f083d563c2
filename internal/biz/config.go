package biz

import (
	"time"

	"payment-service/internal/conf"
	"payment-service/internal/constants"
)

// PaymentConfig 支付核心配置
type PaymentConfig struct {
	Mode         string
	TaxRate      float64
	Currency     string
	ServerSecret string
	ProviderName string

	// 请求签名
	SigningSecret    string
	SigningTolerance time.Duration

	// CSRF
	CsrfTTL        time.Duration
	CsrfPerIPLimit int

	// Webhook
	WebhookSecrets    []string
	WebhookTolerance  time.Duration
	MaxRetryAttempts  int
	BackoffSeconds    []int
	IdempotencyWindow time.Duration
	LedgerRetention   time.Duration

	// 令牌保险库
	VaultMasterKey   string
	TokenTTL         time.Duration
	Pbkdf2Iterations int

	// 风控
	FraudMaxAmount      float64
	FraudVelocityLimit  int
	FraudVelocityWindow time.Duration

	// 监控阈值
	VolumePerMinute      int
	MaxPaymentValue      float64
	FailureRateThreshold float64
	SlowResponseTime     time.Duration

	// 审计
	AuditDir        string
	AuditMaxAgeDays int

	// 合规扫描
	ComplianceLogGlobs []string

	// 限流
	RatelimitRequests int
	RatelimitWindow   time.Duration
}

// NewPaymentConfig 从配置创建 PaymentConfig
func NewPaymentConfig(c *conf.Bootstrap) *PaymentConfig {
	config := &PaymentConfig{
		Mode:                 constants.ModeProduction,
		TaxRate:              0.08,
		Currency:             "usd",
		ProviderName:         "stripe",
		SigningTolerance:     5 * time.Minute,
		CsrfTTL:              time.Hour,
		CsrfPerIPLimit:       10,
		WebhookTolerance:     5 * time.Minute,
		MaxRetryAttempts:     5,
		BackoffSeconds:       []int{1, 5, 15, 60, 300},
		IdempotencyWindow:    5 * time.Minute,
		LedgerRetention:      30 * 24 * time.Hour,
		TokenTTL:             365 * 24 * time.Hour,
		Pbkdf2Iterations:     100000,
		FraudMaxAmount:       10000,
		FraudVelocityLimit:   5,
		FraudVelocityWindow:  10 * time.Minute,
		VolumePerMinute:      100,
		MaxPaymentValue:      10000,
		FailureRateThreshold: 0.10,
		SlowResponseTime:     5 * time.Second,
		AuditDir:             "logs/audit",
		AuditMaxAgeDays:      31,
		RatelimitRequests:    30,
		RatelimitWindow:      time.Minute,
	}

	p := c.Payment
	if p == nil {
		return config
	}

	if p.Mode != "" {
		config.Mode = p.Mode
	}
	if p.TaxRate > 0 {
		config.TaxRate = p.TaxRate
	}
	if p.Currency != "" {
		config.Currency = p.Currency
	}
	config.ServerSecret = p.ServerSecret

	if p.Signing != nil {
		config.SigningSecret = p.Signing.Secret
		if d := p.Signing.Tolerance.AsDuration(); d > 0 {
			config.SigningTolerance = d
		}
	}
	if config.SigningSecret == "" {
		config.SigningSecret = p.ServerSecret
	}

	if p.Csrf != nil {
		if d := p.Csrf.Ttl.AsDuration(); d > 0 {
			config.CsrfTTL = d
		}
		if p.Csrf.PerIpLimit > 0 {
			config.CsrfPerIPLimit = p.Csrf.PerIpLimit
		}
	}

	if p.Webhook != nil {
		config.WebhookSecrets = append(config.WebhookSecrets, p.Webhook.Secrets...)
		if d := p.Webhook.Tolerance.AsDuration(); d > 0 {
			config.WebhookTolerance = d
		}
		if p.Webhook.MaxRetryAttempts > 0 {
			config.MaxRetryAttempts = p.Webhook.MaxRetryAttempts
		}
		if len(p.Webhook.BackoffSeconds) > 0 {
			config.BackoffSeconds = append([]int{}, p.Webhook.BackoffSeconds...)
		}
		if d := p.Webhook.IdempotencyWindow.AsDuration(); d > 0 {
			config.IdempotencyWindow = d
		}
		if d := p.Webhook.LedgerRetention.AsDuration(); d > 0 {
			config.LedgerRetention = d
		}
	}

	if p.Vault != nil {
		config.VaultMasterKey = p.Vault.MasterKey
		if d := p.Vault.TokenTtl.AsDuration(); d > 0 {
			config.TokenTTL = d
		}
		if p.Vault.Pbkdf2Iterations > 0 {
			config.Pbkdf2Iterations = p.Vault.Pbkdf2Iterations
		}
	}

	if p.Fraud != nil {
		if p.Fraud.MaxAmount > 0 {
			config.FraudMaxAmount = p.Fraud.MaxAmount
		}
		if p.Fraud.VelocityLimit > 0 {
			config.FraudVelocityLimit = p.Fraud.VelocityLimit
		}
		if d := p.Fraud.VelocityWindow.AsDuration(); d > 0 {
			config.FraudVelocityWindow = d
		}
	}

	if p.Monitor != nil {
		if p.Monitor.VolumePerMinute > 0 {
			config.VolumePerMinute = p.Monitor.VolumePerMinute
		}
		if p.Monitor.MaxPaymentValue > 0 {
			config.MaxPaymentValue = p.Monitor.MaxPaymentValue
		}
		if p.Monitor.FailureRateThreshold > 0 {
			config.FailureRateThreshold = p.Monitor.FailureRateThreshold
		}
		if d := p.Monitor.SlowResponseTime.AsDuration(); d > 0 {
			config.SlowResponseTime = d
		}
	}

	if p.Audit != nil {
		if p.Audit.Dir != "" {
			config.AuditDir = p.Audit.Dir
		}
		if p.Audit.MaxAgeDays > 0 {
			config.AuditMaxAgeDays = p.Audit.MaxAgeDays
		}
	}

	if p.Compliance != nil {
		config.ComplianceLogGlobs = append(config.ComplianceLogGlobs, p.Compliance.LogGlobs...)
	}

	if p.Provider != nil && p.Provider.Name != "" {
		config.ProviderName = p.Provider.Name
	}

	if p.Ratelimit != nil {
		if p.Ratelimit.Requests > 0 {
			config.RatelimitRequests = p.Ratelimit.Requests
		}
		if d := p.Ratelimit.Window.AsDuration(); d > 0 {
			config.RatelimitWindow = d
		}
	}

	return config
}

// IsDevelopment 是否开发模式（签名校验只记录不拦截）
func (c *PaymentConfig) IsDevelopment() bool {
	return c.Mode == constants.ModeDevelopment
}
