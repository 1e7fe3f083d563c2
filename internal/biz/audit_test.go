package biz

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"payment-service/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestAudit 测试用审计实例，写入临时目录
func newTestAudit(t *testing.T) *AuditUseCase {
	t.Helper()
	audit, cleanup := NewAuditUseCase(&PaymentConfig{AuditDir: t.TempDir(), AuditMaxAgeDays: 1}, log.DefaultLogger)
	t.Cleanup(cleanup)
	return audit
}

func TestAuditRecordWritesJSONLine(t *testing.T) {
	dir := t.TempDir()
	audit, cleanup := NewAuditUseCase(&PaymentConfig{AuditDir: dir, AuditMaxAgeDays: 1}, log.DefaultLogger)
	defer cleanup()

	audit.Record(context.Background(), constants.AuditEventOrderCreated, constants.AuditOutcomeSuccess, map[string]interface{}{
		"order_number": "ord_123",
	})

	raw, err := os.ReadFile(filepath.Join(dir, "payment_audit.log"))
	require.NoError(t, err)

	var entry AuditEntry
	require.NoError(t, json.Unmarshal(raw, &entry))
	assert.NotEmpty(t, entry.EntryID)
	assert.Equal(t, constants.AuditEventOrderCreated, entry.EventType)
	assert.Equal(t, constants.AuditOutcomeSuccess, entry.Outcome)
	assert.Equal(t, "ord_123", entry.Payload["order_number"])
}

func TestAuditRedactsSensitiveFields(t *testing.T) {
	dir := t.TempDir()
	audit, cleanup := NewAuditUseCase(&PaymentConfig{AuditDir: dir, AuditMaxAgeDays: 1}, log.DefaultLogger)
	defer cleanup()

	audit.Record(context.Background(), constants.AuditEventTokenIssued, constants.AuditOutcomeSuccess, map[string]interface{}{
		"card_number": "4242424242424242",
		"cvv":         "123",
		"nested": map[string]interface{}{
			"api_key": "sk_live_secret",
			"safe":    "value",
		},
	})

	raw, err := os.ReadFile(filepath.Join(dir, "payment_audit.log"))
	require.NoError(t, err)

	content := string(raw)
	assert.NotContains(t, content, "4242424242424242")
	assert.NotContains(t, content, "sk_live_secret")
	assert.Contains(t, content, "[REDACTED]")
	assert.Contains(t, content, "value")
}
