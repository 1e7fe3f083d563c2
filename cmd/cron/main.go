package main

import (
	"context"
	"flag"
	"os"

	"payment-service/internal/biz"
	"payment-service/internal/conf"
	"payment-service/internal/metrics"

	"github.com/gaoyong06/go-pkg/logger"
	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"

	_ "go.uber.org/automaxprocs"
)

var (
	Name     = "payment-service-cron"
	Version  = "v1.0.0"
	flagconf string
	id, _    = os.Hostname()
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs", "config path, eg: -conf config.yaml")
}

// Jobs 定时任务依赖集合
type Jobs struct {
	vaultUC      *biz.VaultUseCase
	webhookUC    *biz.WebhookUseCase
	complianceUC *biz.ComplianceUseCase
	log          *log.Helper
}

func newJobs(
	vaultUC *biz.VaultUseCase,
	webhookUC *biz.WebhookUseCase,
	complianceUC *biz.ComplianceUseCase,
	logger log.Logger,
) *Jobs {
	return &Jobs{
		vaultUC:      vaultUC,
		webhookUC:    webhookUC,
		complianceUC: complianceUC,
		log:          log.NewHelper(logger),
	}
}

// sweepTokens 过期支付令牌清理
func (j *Jobs) sweepTokens() {
	n, err := j.vaultUC.CleanupExpiredTokens(context.Background())
	if err != nil {
		j.log.Errorf("token sweep failed: %v", err)
		return
	}
	j.log.Infof("token sweep done: removed=%d", n)
}

// cleanupLedger webhook 账本保留期清理（死信不删）
func (j *Jobs) cleanupLedger() {
	n, err := j.webhookUC.CleanupLedger(context.Background())
	if err != nil {
		j.log.Errorf("webhook ledger cleanup failed: %v", err)
		return
	}
	j.log.Infof("webhook ledger cleanup done: removed=%d", n)
}

// scanCompliance PCI 日志合规扫描
func (j *Jobs) scanCompliance() {
	report, err := j.complianceUC.ScanLogs(context.Background())
	if err != nil {
		j.log.Errorf("compliance scan failed: %v", err)
		return
	}
	if !report.Compliant {
		j.log.Errorf("compliance scan found %d sensitive data leaks", len(report.Findings))
		return
	}
	j.log.Infof("compliance scan clean: scanned_files=%d", report.ScannedFiles)
}

func main() {
	flag.Parse()

	c := config.New(
		config.WithSource(
			file.NewSource(flagconf),
		),
	)
	defer c.Close()

	if err := c.Load(); err != nil {
		panic(err)
	}

	var bc conf.Bootstrap
	if err := c.Scan(&bc); err != nil {
		panic(err)
	}

	logConfig := &logger.Config{
		Level:         "info",
		Format:        "json",
		Output:        "stdout",
		FilePath:      "logs/payment-service-cron.log",
		MaxSize:       100,
		MaxAge:        30,
		MaxBackups:    10,
		Compress:      true,
		EnableConsole: true,
	}

	loggerInstance := logger.NewLogger(logConfig)
	loggerInstance = log.With(loggerInstance,
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
		"service.id", id,
		"service.name", Name,
		"service.version", Version,
	)

	metrics.InitMetrics()

	jobs, cleanup, err := wireJobs(&bc, loggerInstance)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	runner := cron.New()
	// 每小时清理过期令牌
	if _, err := runner.AddFunc("0 * * * *", jobs.sweepTokens); err != nil {
		panic(err)
	}
	// 每天凌晨清理 webhook 账本
	if _, err := runner.AddFunc("30 3 * * *", jobs.cleanupLedger); err != nil {
		panic(err)
	}
	// 每天凌晨做 PCI 合规扫描
	if _, err := runner.AddFunc("0 4 * * *", jobs.scanCompliance); err != nil {
		panic(err)
	}

	log.NewHelper(loggerInstance).Infof("cron started: jobs=%d", len(runner.Entries()))
	runner.Run()
}
