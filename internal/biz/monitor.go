package biz

import (
	"context"
	"sync"
	"time"

	"payment-service/internal/constants"
	"payment-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// PaymentAttempt 一次支付尝试的监控输入
type PaymentAttempt struct {
	Amount  float64
	Success bool
}

// MonitorAlert 监控告警
type MonitorAlert struct {
	Type    string                 `json:"type"` // high_volume/high_value/failure_rate/slow_response
	Level   string                 `json:"level"`
	Message string                 `json:"message"`
	Detail  map[string]interface{} `json:"detail,omitempty"`
}

// MonitorResult 监控结果
type MonitorResult struct {
	ResponseTime time.Duration   `json:"response_time"`
	Anomalies    []*MonitorAlert `json:"anomalies"`
}

// DashboardSnapshot 监控看板聚合
type DashboardSnapshot struct {
	TotalAttempts      int64         `json:"total_attempts"`
	SuccessfulAttempts int64         `json:"successful_attempts"`
	FailedAttempts     int64         `json:"failed_attempts"`
	TotalVolume        float64       `json:"total_volume"`
	FailureRate        float64       `json:"failure_rate"`
	AvgResponseTime    time.Duration `json:"avg_response_time"`
	AttemptsLastMinute int           `json:"attempts_last_minute"`
	DeadLetterCount    int64         `json:"dead_letter_count"`
	Thresholds         struct {
		VolumePerMinute      int     `json:"volume_per_minute"`
		MaxPaymentValue      float64 `json:"max_payment_value"`
		FailureRateThreshold float64 `json:"failure_rate_threshold"`
		SlowResponseTimeMs   int64   `json:"slow_response_time_ms"`
	} `json:"thresholds"`
	Status string `json:"status"` // healthy/warning/critical
}

// AlertSink 告警接收端
// critical -> 值班呼叫，warning -> 团队频道，info -> 日志。
// 路由区分必须保留，接收端可以是桩实现
type AlertSink interface {
	Notify(ctx context.Context, alert *MonitorAlert)
}

// logAlertSink 日志型告警接收端（按 channel 区分流）
type logAlertSink struct {
	channel string
	log     *log.Helper
}

func (s *logAlertSink) Notify(ctx context.Context, alert *MonitorAlert) {
	s.log.Warnf("[%s] %s alert: type=%s, message=%s", s.channel, alert.Level, alert.Type, alert.Message)
}

// MonitorUseCase 支付监控
// 进程级计数器（构造一次随 wire 注入全局复用，累计状态不丢失），
// 滚动均值在线更新：avg' = (avg*(n-1) + x) / n
type MonitorUseCase struct {
	mu sync.Mutex

	totalAttempts int64
	successCount  int64
	failCount     int64
	totalVolume   float64
	avgResponse   time.Duration
	// 近 60 秒滑动窗口内的尝试时间戳
	window []time.Time

	pagerSink   AlertSink
	channelSink AlertSink

	conf    *PaymentConfig
	log     *log.Helper
	metrics *metrics.PaymentMetrics
	now     func() time.Time
}

// NewMonitorUseCase 创建支付监控 UseCase
func NewMonitorUseCase(conf *PaymentConfig, logger log.Logger) *MonitorUseCase {
	helper := log.NewHelper(logger)
	return &MonitorUseCase{
		pagerSink:   &logAlertSink{channel: "pager", log: helper},
		channelSink: &logAlertSink{channel: "team-channel", log: helper},
		conf:        conf,
		log:         helper,
		metrics:     metrics.GetMetrics(),
		now:         time.Now,
	}
}

// MonitorPaymentAttempt 记录一次支付尝试并做异常检测
func (uc *MonitorUseCase) MonitorPaymentAttempt(ctx context.Context, attempt *PaymentAttempt, start time.Time) *MonitorResult {
	now := uc.now()
	elapsed := now.Sub(start)

	uc.mu.Lock()
	uc.totalAttempts++
	if attempt.Success {
		uc.successCount++
	} else {
		uc.failCount++
	}
	uc.totalVolume += attempt.Amount
	// 在线均值更新
	n := uc.totalAttempts
	uc.avgResponse = time.Duration((int64(uc.avgResponse)*(n-1) + int64(elapsed)) / n)

	// 滑动 60 秒窗口：剔除过期后重新计数
	uc.window = append(uc.window, now)
	cutoff := now.Add(-time.Minute)
	for len(uc.window) > 0 && uc.window[0].Before(cutoff) {
		uc.window = uc.window[1:]
	}
	perMinute := len(uc.window)
	failureRate := 0.0
	if uc.totalAttempts > 0 {
		failureRate = float64(uc.failCount) / float64(uc.totalAttempts)
	}
	uc.mu.Unlock()

	result := &MonitorResult{ResponseTime: elapsed}

	// 各检查项由阈值独立开关（阈值为 0 时跳过）
	if uc.conf.VolumePerMinute > 0 && perMinute > uc.conf.VolumePerMinute {
		result.Anomalies = append(result.Anomalies, &MonitorAlert{
			Type:    "high_volume",
			Level:   constants.AlertLevelWarning,
			Message: "payment attempt volume over threshold",
			Detail:  map[string]interface{}{"attempts_per_minute": perMinute},
		})
	}
	if uc.conf.MaxPaymentValue > 0 && attempt.Amount > uc.conf.MaxPaymentValue {
		result.Anomalies = append(result.Anomalies, &MonitorAlert{
			Type:    "high_value",
			Level:   constants.AlertLevelWarning,
			Message: "single payment value over threshold",
			Detail:  map[string]interface{}{"amount": attempt.Amount},
		})
	}
	if uc.conf.FailureRateThreshold > 0 && failureRate > uc.conf.FailureRateThreshold {
		result.Anomalies = append(result.Anomalies, &MonitorAlert{
			Type:    "failure_rate",
			Level:   constants.AlertLevelCritical,
			Message: "payment failure rate over threshold",
			Detail:  map[string]interface{}{"failure_rate": failureRate},
		})
	}
	if uc.conf.SlowResponseTime > 0 && elapsed > uc.conf.SlowResponseTime {
		result.Anomalies = append(result.Anomalies, &MonitorAlert{
			Type:    "slow_response",
			Level:   constants.AlertLevelInfo,
			Message: "slow payment processing",
			Detail:  map[string]interface{}{"elapsed_ms": elapsed.Milliseconds()},
		})
	}
	// TODO: rapid-succession 与 geographic-anomaly 检测需要按用户维度的历史，接入用户画像后补充

	for _, a := range result.Anomalies {
		uc.route(ctx, a)
		if uc.metrics != nil {
			uc.metrics.AnomalyTotal.WithLabelValues(a.Type, a.Level).Inc()
		}
	}
	return result
}

// route 告警分级路由
func (uc *MonitorUseCase) route(ctx context.Context, alert *MonitorAlert) {
	switch alert.Level {
	case constants.AlertLevelCritical:
		uc.pagerSink.Notify(ctx, alert)
	case constants.AlertLevelWarning:
		uc.channelSink.Notify(ctx, alert)
	default:
		uc.log.Infof("monitor info: type=%s, message=%s", alert.Type, alert.Message)
	}
}

// Dashboard 聚合当前指标、配置阈值与派生健康状态
func (uc *MonitorUseCase) Dashboard(deadLetterCount int64) *DashboardSnapshot {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	snap := &DashboardSnapshot{
		TotalAttempts:      uc.totalAttempts,
		SuccessfulAttempts: uc.successCount,
		FailedAttempts:     uc.failCount,
		TotalVolume:        Round2(uc.totalVolume),
		AvgResponseTime:    uc.avgResponse,
		AttemptsLastMinute: len(uc.window),
		DeadLetterCount:    deadLetterCount,
	}
	if uc.totalAttempts > 0 {
		snap.FailureRate = float64(uc.failCount) / float64(uc.totalAttempts)
	}
	snap.Thresholds.VolumePerMinute = uc.conf.VolumePerMinute
	snap.Thresholds.MaxPaymentValue = uc.conf.MaxPaymentValue
	snap.Thresholds.FailureRateThreshold = uc.conf.FailureRateThreshold
	snap.Thresholds.SlowResponseTimeMs = uc.conf.SlowResponseTime.Milliseconds()

	// 派生状态：失败率与时延共同决定
	switch {
	case snap.FailureRate > uc.conf.FailureRateThreshold*2:
		snap.Status = constants.MonitorStatusCritical
	case snap.FailureRate > uc.conf.FailureRateThreshold ||
		(uc.conf.SlowResponseTime > 0 && uc.avgResponse > uc.conf.SlowResponseTime):
		snap.Status = constants.MonitorStatusWarning
	default:
		snap.Status = constants.MonitorStatusHealthy
	}
	return snap
}
