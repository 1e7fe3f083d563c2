package constants

// Redis Key 前缀常量
const (
	// RedisKeyWebhookEvent webhook 幂等记录缓存 key 前缀
	RedisKeyWebhookEvent = "webhook:event:"
	// RedisKeyOrderIntent 支付意向ID到订单号的缓存 key 前缀
	RedisKeyOrderIntent = "order:intent:"
	// RedisKeyRateLimit 按 IP 限流计数 key 前缀
	RedisKeyRateLimit = "ratelimit:"
	// RedisKeyFraudVelocity 风控速率计数 key 前缀
	RedisKeyFraudVelocity = "fraud:velocity:"
	// RedisKeyPaymentSuccessLock 支付成功处理锁 key 前缀
	RedisKeyPaymentSuccessLock = "payment:success:lock:"
	// RedisKeyWebhookRetryLock webhook 手工重试锁 key 前缀
	RedisKeyWebhookRetryLock = "webhook:retry:lock:"
)

// 订单状态常量
const (
	// OrderStatusPending 待支付
	OrderStatusPending = "pending"
	// OrderStatusPaid 已支付
	OrderStatusPaid = "paid"
	// OrderStatusCancelled 已取消
	OrderStatusCancelled = "cancelled"
	// OrderStatusRefunded 已退款
	OrderStatusRefunded = "refunded"
)

// 支付状态常量（订单维度）
const (
	// PaymentStatusPending 待支付
	PaymentStatusPending = "pending"
	// PaymentStatusPaid 支付成功
	PaymentStatusPaid = "paid"
	// PaymentStatusFailed 支付失败
	PaymentStatusFailed = "failed"
)

// 支付流水状态常量（Payment 记录维度）
const (
	// TxnStatusPending 处理中
	TxnStatusPending = "pending"
	// TxnStatusSucceeded 成功
	TxnStatusSucceeded = "succeeded"
	// TxnStatusFailed 失败
	TxnStatusFailed = "failed"
)

// webhook 幂等记录状态常量
const (
	// WebhookStatusProcessing 处理中
	WebhookStatusProcessing = "processing"
	// WebhookStatusCompleted 处理完成
	WebhookStatusCompleted = "completed"
	// WebhookStatusFailed 处理失败（进入死信）
	WebhookStatusFailed = "failed"
)

// webhook 处理结果常量
const (
	// WebhookResultSuccess 处理成功
	WebhookResultSuccess = "success"
	// WebhookResultDuplicate 重复投递（幂等短路）
	WebhookResultDuplicate = "duplicate"
	// WebhookResultFailed 处理失败
	WebhookResultFailed = "failed"
	// WebhookResultIgnored 未订阅的事件类型
	WebhookResultIgnored = "ignored"
)

// webhook 事件类型常量（按提供方事件名）
const (
	// EventPaymentIntentSucceeded 支付意向成功
	EventPaymentIntentSucceeded = "payment_intent.succeeded"
	// EventPaymentIntentFailed 支付意向失败
	EventPaymentIntentFailed = "payment_intent.payment_failed"
	// EventChargeDisputeCreated 拒付发起
	EventChargeDisputeCreated = "charge.dispute.created"
	// EventTypePrefixPaymentIntent 支付意向事件前缀
	EventTypePrefixPaymentIntent = "payment_intent."
)

// 风险等级常量
const (
	// RiskLevelLow 低风险
	RiskLevelLow = "low"
	// RiskLevelMedium 中风险
	RiskLevelMedium = "medium"
	// RiskLevelHigh 高风险
	RiskLevelHigh = "high"
	// RiskLevelCritical 危急风险（直接拦截）
	RiskLevelCritical = "critical"
)

// 告警级别常量
const (
	// AlertLevelCritical 危急（路由到值班呼叫）
	AlertLevelCritical = "critical"
	// AlertLevelWarning 警告（路由到团队频道）
	AlertLevelWarning = "warning"
	// AlertLevelInfo 提示（仅日志）
	AlertLevelInfo = "info"
)

// 监控健康状态常量
const (
	// MonitorStatusHealthy 健康
	MonitorStatusHealthy = "healthy"
	// MonitorStatusWarning 告警
	MonitorStatusWarning = "warning"
	// MonitorStatusCritical 危急
	MonitorStatusCritical = "critical"
)

// 折扣类型常量
const (
	// DiscountTypePercentage 百分比折扣
	DiscountTypePercentage = "percentage"
	// DiscountTypeFixed 固定金额折扣
	DiscountTypeFixed = "fixed"
)

// 卡品牌常量（按 BIN 前缀识别）
const (
	CardTypeVisa       = "visa"
	CardTypeMastercard = "mastercard"
	CardTypeAmex       = "amex"
	CardTypeDiscover   = "discover"
	CardTypeUnknown    = "unknown"
)

// 令牌类型常量
const (
	// TokenTypeCard 卡令牌
	TokenTypeCard = "card"
)

// 审计事件类型常量
const (
	AuditEventOrderCreated          = "order_created"
	AuditEventPaymentSucceeded      = "payment_succeeded"
	AuditEventPaymentFailed         = "payment_failed"
	AuditEventPaymentRefunded       = "payment_refunded"
	AuditEventDisputeOpened         = "dispute_opened"
	AuditEventSubscriptionActivated = "subscription_activated"
	AuditEventWebhookVerification   = "webhook_verification"
	AuditEventWebhookProcessed      = "webhook_processed"
	AuditEventWebhookDeadLetter     = "webhook_dead_letter"
	AuditEventCsrfRejected          = "csrf_rejected"
	AuditEventSignatureRejected     = "signature_rejected"
	AuditEventFraudBlocked          = "fraud_blocked"
	AuditEventFraudFlagged          = "fraud_flagged"
	AuditEventTokenIssued           = "token_issued"
	AuditEventComplianceFinding     = "compliance_finding"
)

// 审计结果常量
const (
	AuditOutcomeSuccess  = "success"
	AuditOutcomeFailure  = "failure"
	AuditOutcomeRejected = "rejected"
)

// ID 前缀常量
const (
	// OrderNumberPrefix 订单号前缀
	OrderNumberPrefix = "ord_"
	// CardTokenPrefix 卡令牌前缀
	CardTokenPrefix = "tok_"
)

// 订阅计划名称常量（计划名模糊匹配的已知集合）
const (
	PlanNameBasic        = "basic"
	PlanNameProfessional = "professional"
	PlanNameEnterprise   = "enterprise"
	PlanNamePremium      = "premium"
)

// 运行模式常量
const (
	// ModeProduction 生产模式
	ModeProduction = "production"
	// ModeDevelopment 开发模式
	ModeDevelopment = "development"
)

// 联盟计数事件常量（推荐与成交分开计数）
const (
	// ReferralEventRedeemed 推荐码被使用（下单时）
	ReferralEventRedeemed = "referral"
	// ReferralEventConverted 推荐成交（支付成功时）
	ReferralEventConverted = "conversion"
)
