package biz

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLogFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newComplianceTest(t *testing.T, globs ...string) *ComplianceUseCase {
	t.Helper()
	conf := &PaymentConfig{ComplianceLogGlobs: globs}
	return NewComplianceUseCase(conf, newTestAudit(t), log.DefaultLogger)
}

func TestScanLogsCleanFile(t *testing.T) {
	dir := t.TempDir()
	writeLogFile(t, dir, "app.log", "order created: ord_123 total=108.00\npayment succeeded\n")
	uc := newComplianceTest(t, filepath.Join(dir, "*.log"))

	report, err := uc.ScanLogs(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Compliant)
	assert.Equal(t, 1, report.ScannedFiles)
	assert.Empty(t, report.Findings)
}

func TestScanLogsFindsCardNumber(t *testing.T) {
	dir := t.TempDir()
	writeLogFile(t, dir, "app.log", "charging card 4242424242424242 now\n")
	uc := newComplianceTest(t, filepath.Join(dir, "*.log"))

	report, err := uc.ScanLogs(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Compliant)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, "card", report.Findings[0].Pattern)
	assert.Equal(t, 1, report.Findings[0].Line)
}

func TestScanLogsIgnoresNonLuhnDigits(t *testing.T) {
	dir := t.TempDir()
	// 13 位以上但 Luhn 不通过的数字串（如请求ID）不算卡号
	writeLogFile(t, dir, "app.log", "request_id 1234567890123456 handled\n")
	uc := newComplianceTest(t, filepath.Join(dir, "*.log"))

	report, err := uc.ScanLogs(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Compliant)
}

func TestScanLogsFindsSecretsAndEmail(t *testing.T) {
	dir := t.TempDir()
	writeLogFile(t, dir, "app.log", "login buyer@example.com\napi_key=sk_live_abc123\ncvv: 123\n")
	uc := newComplianceTest(t, filepath.Join(dir, "*.log"))

	report, err := uc.ScanLogs(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Compliant)
	patterns := make(map[string]bool)
	for _, f := range report.Findings {
		patterns[f.Pattern] = true
	}
	assert.True(t, patterns["email"])
	assert.True(t, patterns["secret"])
	assert.True(t, patterns["cvv"])
}

func TestScanLogsMissingGlob(t *testing.T) {
	uc := newComplianceTest(t, filepath.Join(t.TempDir(), "nothing", "*.log"))

	report, err := uc.ScanLogs(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Compliant)
	assert.Zero(t, report.ScannedFiles)
}
