package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PaymentMetrics 支付服务指标
type PaymentMetrics struct {
	// 订单相关指标
	OrderTotal          *prometheus.CounterVec // 订单总数（按状态）
	OrderAmount         *prometheus.CounterVec // 订单金额（按状态）
	OrderCreateDuration prometheus.Histogram   // 订单创建耗时

	// 支付相关指标
	PaymentAttemptTotal *prometheus.CounterVec   // 支付尝试总数（按结果）
	PaymentVolume       prometheus.Counter       // 支付累计金额
	PaymentDuration     *prometheus.HistogramVec // 支付处理耗时（按操作）
	RefundTotal         prometheus.Counter       // 退款总数

	// Webhook 相关指标
	WebhookReceivedTotal  *prometheus.CounterVec // webhook 接收总数（按结果）
	WebhookSignatureTotal *prometheus.CounterVec // webhook 签名校验总数（按结果）
	WebhookRetryTotal     prometheus.Counter     // webhook 重试总数
	WebhookDeadLetter     prometheus.Gauge       // 死信队列当前数量
	WebhookDuration       prometheus.Histogram   // webhook 处理耗时

	// 安全相关指标
	CsrfIssuedTotal    prometheus.Counter     // CSRF 令牌签发总数
	CsrfRejectedTotal  *prometheus.CounterVec // CSRF 拒绝总数（按原因）
	SignatureRejected  prometheus.Counter     // 请求签名拒绝总数
	RateLimitedTotal   prometheus.Counter     // 限流拒绝总数
	SanitizeDropsTotal prometheus.Counter     // 输入净化丢弃的订单项总数

	// 风控相关指标
	FraudCheckTotal  *prometheus.CounterVec // 风控检查总数（按风险等级）
	FraudBlockTotal  prometheus.Counter     // 风控拦截总数
	FraudReviewTotal prometheus.Counter     // 人工审核标记总数

	// 令牌保险库相关指标
	TokenIssuedTotal  prometheus.Counter // 支付令牌签发总数
	TokenExpiredTotal prometheus.Counter // 过期清理的令牌总数

	// 监控告警相关指标
	AnomalyTotal *prometheus.CounterVec // 异常告警总数（按类型、级别）

	// 分布式锁相关指标
	LockAcquireTotal    *prometheus.CounterVec // 锁获取总数（按结果）
	LockAcquireDuration prometheus.Histogram   // 锁获取耗时
}

// NewPaymentMetrics 创建支付服务指标
func NewPaymentMetrics() *PaymentMetrics {
	return &PaymentMetrics{
		// 订单指标
		OrderTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_order_total",
				Help: "Total number of orders",
			},
			[]string{"status"}, // status: pending/paid/cancelled/refunded
		),
		OrderAmount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_order_amount_total",
				Help: "Total order amount",
			},
			[]string{"status"},
		),
		OrderCreateDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "payment_order_create_duration_seconds",
				Help:    "Duration of order creation",
				Buckets: prometheus.DefBuckets,
			},
		),

		// 支付指标
		PaymentAttemptTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_attempt_total",
				Help: "Total number of payment attempts",
			},
			[]string{"result"}, // result: succeeded/failed
		),
		PaymentVolume: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "payment_volume_total",
				Help: "Cumulative payment volume",
			},
		),
		PaymentDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_duration_seconds",
				Help:    "Duration of payment operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"}, // operation: create_order/success/refund
		),
		RefundTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "payment_refund_total",
				Help: "Total number of refunds",
			},
		),

		// Webhook 指标
		WebhookReceivedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_webhook_received_total",
				Help: "Total number of webhooks received",
			},
			[]string{"result"}, // result: success/duplicate/failed/ignored
		),
		WebhookSignatureTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_webhook_signature_total",
				Help: "Total number of webhook signature verifications",
			},
			[]string{"result"}, // result: valid/invalid
		),
		WebhookRetryTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "payment_webhook_retry_total",
				Help: "Total number of webhook retry attempts",
			},
		),
		WebhookDeadLetter: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "payment_webhook_dead_letter",
				Help: "Current number of dead-lettered webhooks",
			},
		),
		WebhookDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "payment_webhook_duration_seconds",
				Help:    "Duration of webhook processing",
				Buckets: prometheus.DefBuckets,
			},
		),

		// 安全指标
		CsrfIssuedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "payment_csrf_issued_total",
				Help: "Total number of CSRF tokens issued",
			},
		),
		CsrfRejectedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_csrf_rejected_total",
				Help: "Total number of CSRF validations rejected",
			},
			[]string{"reason"}, // reason: invalid/expired/used/ip_mismatch
		),
		SignatureRejected: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "payment_signature_rejected_total",
				Help: "Total number of request signature rejections",
			},
		),
		RateLimitedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "payment_rate_limited_total",
				Help: "Total number of rate-limited requests",
			},
		),
		SanitizeDropsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "payment_sanitize_dropped_items_total",
				Help: "Total number of order items dropped by sanitization",
			},
		),

		// 风控指标
		FraudCheckTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_fraud_check_total",
				Help: "Total number of fraud risk checks",
			},
			[]string{"risk_level"}, // risk_level: low/medium/high/critical
		),
		FraudBlockTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "payment_fraud_block_total",
				Help: "Total number of payments blocked by fraud detection",
			},
		),
		FraudReviewTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "payment_fraud_review_total",
				Help: "Total number of payments flagged for manual review",
			},
		),

		// 保险库指标
		TokenIssuedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "payment_token_issued_total",
				Help: "Total number of payment tokens issued",
			},
		),
		TokenExpiredTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "payment_token_expired_total",
				Help: "Total number of payment tokens swept after expiry",
			},
		),

		// 监控告警指标
		AnomalyTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_anomaly_total",
				Help: "Total number of monitoring anomalies",
			},
			[]string{"type", "level"}, // type: high_volume/high_value/failure_rate/slow_response
		),

		// 分布式锁指标
		LockAcquireTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_lock_acquire_total",
				Help: "Total number of lock acquisition attempts",
			},
			[]string{"result"}, // result: success/failed
		),
		LockAcquireDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "payment_lock_acquire_duration_seconds",
				Help:    "Duration of lock acquisition",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0}, // 毫秒级
			},
		),
	}
}

// 全局指标实例
var defaultMetrics *PaymentMetrics

// InitMetrics 初始化全局指标
func InitMetrics() {
	defaultMetrics = NewPaymentMetrics()
}

// GetMetrics 获取全局指标实例
func GetMetrics() *PaymentMetrics {
	if defaultMetrics == nil {
		InitMetrics()
	}
	return defaultMetrics
}
