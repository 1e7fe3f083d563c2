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

func newSigningTest(t *testing.T, mode string) *SigningUseCase {
	t.Helper()
	conf := &PaymentConfig{
		Mode:             mode,
		SigningSecret:    "test-signing-secret",
		SigningTolerance: 5 * time.Minute,
	}
	return NewSigningUseCase(conf, newTestAudit(t), log.DefaultLogger)
}

func TestSignAndVerify(t *testing.T) {
	uc := newSigningTest(t, constants.ModeProduction)
	ctx := context.Background()

	data := map[string]interface{}{"customer_email": "buyer@example.com", "item_count": 2}
	ts := time.Now().Unix()

	sig, err := uc.Sign(data, ts)
	require.NoError(t, err)
	require.NotEmpty(t, sig)

	assert.NoError(t, uc.Verify(ctx, data, sig, ts))
}

func TestVerifyRejectsTamperedData(t *testing.T) {
	uc := newSigningTest(t, constants.ModeProduction)
	ctx := context.Background()

	ts := time.Now().Unix()
	sig, err := uc.Sign(map[string]interface{}{"customer_email": "buyer@example.com"}, ts)
	require.NoError(t, err)

	err = uc.Verify(ctx, map[string]interface{}{"customer_email": "attacker@example.com"}, sig, ts)
	assert.Error(t, err)
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	uc := newSigningTest(t, constants.ModeProduction)
	ctx := context.Background()

	data := map[string]interface{}{"customer_email": "buyer@example.com"}
	ts := time.Now().Add(-10 * time.Minute).Unix()
	sig, err := uc.Sign(data, ts)
	require.NoError(t, err)

	// 签名本身正确，但时间戳超窗仍然拒绝
	assert.Error(t, uc.Verify(ctx, data, sig, ts))
}

func TestVerifyRequestProductionBlocks(t *testing.T) {
	uc := newSigningTest(t, constants.ModeProduction)
	ctx := context.Background()

	err := uc.VerifyRequest(ctx, map[string]interface{}{"a": 1}, "bogus", time.Now().Unix(), "203.0.113.9")
	assert.Error(t, err)
}

func TestVerifyRequestDevelopmentLogsOnly(t *testing.T) {
	uc := newSigningTest(t, constants.ModeDevelopment)
	ctx := context.Background()

	err := uc.VerifyRequest(ctx, map[string]interface{}{"a": 1}, "bogus", time.Now().Unix(), "203.0.113.9")
	assert.NoError(t, err)
}
