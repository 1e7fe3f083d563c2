package biz

import (
	"context"
	"testing"
	"time"

	"payment-service/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMonitorTest() *MonitorUseCase {
	conf := &PaymentConfig{
		VolumePerMinute:      3,
		MaxPaymentValue:      100,
		FailureRateThreshold: 0.5,
		SlowResponseTime:     time.Second,
	}
	return NewMonitorUseCase(conf, log.DefaultLogger)
}

func anomalyTypes(result *MonitorResult) []string {
	var types []string
	for _, a := range result.Anomalies {
		types = append(types, a.Type)
	}
	return types
}

func TestMonitorNormalAttempt(t *testing.T) {
	uc := newMonitorTest()

	result := uc.MonitorPaymentAttempt(context.Background(), &PaymentAttempt{Amount: 49.99, Success: true}, time.Now())
	assert.Empty(t, result.Anomalies)
}

func TestMonitorHighValue(t *testing.T) {
	uc := newMonitorTest()

	result := uc.MonitorPaymentAttempt(context.Background(), &PaymentAttempt{Amount: 150, Success: true}, time.Now())
	assert.Contains(t, anomalyTypes(result), "high_value")
}

func TestMonitorHighVolume(t *testing.T) {
	uc := newMonitorTest()
	ctx := context.Background()

	var result *MonitorResult
	for i := 0; i < 4; i++ {
		result = uc.MonitorPaymentAttempt(ctx, &PaymentAttempt{Amount: 10, Success: true}, time.Now())
	}
	assert.Contains(t, anomalyTypes(result), "high_volume")
}

func TestMonitorFailureRate(t *testing.T) {
	uc := newMonitorTest()
	ctx := context.Background()

	uc.MonitorPaymentAttempt(ctx, &PaymentAttempt{Amount: 10, Success: false}, time.Now())
	result := uc.MonitorPaymentAttempt(ctx, &PaymentAttempt{Amount: 10, Success: false}, time.Now())

	types := anomalyTypes(result)
	require.Contains(t, types, "failure_rate")
	for _, a := range result.Anomalies {
		if a.Type == "failure_rate" {
			assert.Equal(t, constants.AlertLevelCritical, a.Level)
		}
	}
}

func TestMonitorSlowResponse(t *testing.T) {
	uc := newMonitorTest()

	result := uc.MonitorPaymentAttempt(context.Background(), &PaymentAttempt{Amount: 10, Success: true}, time.Now().Add(-2*time.Second))
	assert.Contains(t, anomalyTypes(result), "slow_response")
}

func TestDashboardHealthy(t *testing.T) {
	uc := newMonitorTest()
	ctx := context.Background()

	uc.MonitorPaymentAttempt(ctx, &PaymentAttempt{Amount: 20, Success: true}, time.Now())
	uc.MonitorPaymentAttempt(ctx, &PaymentAttempt{Amount: 30, Success: true}, time.Now())

	snap := uc.Dashboard(7)
	assert.Equal(t, int64(2), snap.TotalAttempts)
	assert.Equal(t, int64(2), snap.SuccessfulAttempts)
	assert.Equal(t, 50.0, snap.TotalVolume)
	assert.Equal(t, int64(7), snap.DeadLetterCount)
	assert.Equal(t, constants.MonitorStatusHealthy, snap.Status)
	assert.Equal(t, 100.0, snap.Thresholds.MaxPaymentValue)
}

func TestDashboardCritical(t *testing.T) {
	uc := NewMonitorUseCase(&PaymentConfig{FailureRateThreshold: 0.3}, log.DefaultLogger)
	ctx := context.Background()

	// 全部失败：失败率 1.0 > 阈值两倍
	uc.MonitorPaymentAttempt(ctx, &PaymentAttempt{Amount: 20, Success: false}, time.Now())
	uc.MonitorPaymentAttempt(ctx, &PaymentAttempt{Amount: 20, Success: false}, time.Now())

	snap := uc.Dashboard(0)
	assert.Equal(t, 1.0, snap.FailureRate)
	assert.Equal(t, constants.MonitorStatusCritical, snap.Status)
}

func TestDashboardWarningOnFailureRate(t *testing.T) {
	uc := newMonitorTest()
	ctx := context.Background()

	// 2/3 失败：0.67 介于阈值与两倍阈值之间
	uc.MonitorPaymentAttempt(ctx, &PaymentAttempt{Amount: 20, Success: false}, time.Now())
	uc.MonitorPaymentAttempt(ctx, &PaymentAttempt{Amount: 20, Success: false}, time.Now())
	uc.MonitorPaymentAttempt(ctx, &PaymentAttempt{Amount: 20, Success: true}, time.Now())

	snap := uc.Dashboard(0)
	assert.Equal(t, constants.MonitorStatusWarning, snap.Status)
}
