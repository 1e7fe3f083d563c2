package biz

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"payment-service/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
)

// 日志中不应出现的敏感数据模式
var (
	panPattern    = regexp.MustCompile(`\b\d{13,19}\b`)
	cvvPattern    = regexp.MustCompile(`(?i)\bcvv2?\b\D{0,4}\d{3,4}`)
	ssnPattern    = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	emailLeak     = regexp.MustCompile(`[\w.+-]+@[\w.-]+\.\w{2,}`)
	secretPattern = regexp.MustCompile(`(?i)\b(password|passwd|api_key|apikey|secret|bearer)\b\s*[=:]\s*\S+`)
)

// ComplianceFinding 合规扫描发现项
type ComplianceFinding struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Pattern string `json:"pattern"` // card/cvv/ssn/email/secret
}

// ComplianceReport 合规扫描报告
type ComplianceReport struct {
	ScannedFiles int                 `json:"scanned_files"`
	Findings     []ComplianceFinding `json:"findings"`
	Compliant    bool                `json:"compliant"`
	ScannedAt    time.Time           `json:"scanned_at"`
}

// ComplianceUseCase PCI 合规自检
// 扫描日志文件中的卡号（Luhn 校验通过才算命中）、CVV、SSN、邮箱、密钥等模式，
// 任一命中即判不合规
type ComplianceUseCase struct {
	conf  *PaymentConfig
	audit *AuditUseCase
	log   *log.Helper
}

// NewComplianceUseCase 创建合规自检 UseCase
func NewComplianceUseCase(conf *PaymentConfig, audit *AuditUseCase, logger log.Logger) *ComplianceUseCase {
	return &ComplianceUseCase{
		conf:  conf,
		audit: audit,
		log:   log.NewHelper(logger),
	}
}

// ScanLogs 扫描配置的日志路径，返回合规报告
func (uc *ComplianceUseCase) ScanLogs(ctx context.Context) (*ComplianceReport, error) {
	report := &ComplianceReport{Compliant: true, ScannedAt: time.Now()}

	for _, pattern := range uc.conf.ComplianceLogGlobs {
		files, err := filepath.Glob(pattern)
		if err != nil {
			uc.log.Warnf("bad compliance glob %q: %v", pattern, err)
			continue
		}
		for _, file := range files {
			if err := uc.scanFile(file, report); err != nil {
				uc.log.Warnf("compliance scan failed for %s: %v", file, err)
			}
		}
	}

	if len(report.Findings) > 0 {
		report.Compliant = false
		for _, f := range report.Findings {
			uc.audit.Record(ctx, constants.AuditEventComplianceFinding, constants.AuditOutcomeFailure, map[string]interface{}{
				"file":    f.File,
				"line":    f.Line,
				"pattern": f.Pattern,
			})
		}
	}
	return report, nil
}

func (uc *ComplianceUseCase) scanFile(path string, report *ComplianceReport) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	report.ScannedFiles++

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		for _, m := range panPattern.FindAllString(line, -1) {
			if LuhnValid(m) {
				report.Findings = append(report.Findings, ComplianceFinding{File: path, Line: lineNo, Pattern: "card"})
				break
			}
		}
		if cvvPattern.MatchString(line) {
			report.Findings = append(report.Findings, ComplianceFinding{File: path, Line: lineNo, Pattern: "cvv"})
		}
		if ssnPattern.MatchString(line) {
			report.Findings = append(report.Findings, ComplianceFinding{File: path, Line: lineNo, Pattern: "ssn"})
		}
		if emailLeak.MatchString(line) {
			report.Findings = append(report.Findings, ComplianceFinding{File: path, Line: lineNo, Pattern: "email"})
		}
		if secretPattern.MatchString(line) {
			report.Findings = append(report.Findings, ComplianceFinding{File: path, Line: lineNo, Pattern: "secret"})
		}
	}
	return scanner.Err()
}
