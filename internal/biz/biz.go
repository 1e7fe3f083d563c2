package biz

import "github.com/google/wire"

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewPaymentConfig,
	NewAuditUseCase,
	NewCsrfUseCase,
	NewSanitizeUseCase,
	NewSigningUseCase,
	NewVaultUseCase,
	NewComplianceUseCase,
	NewFraudUseCase,
	NewMonitorUseCase,
	NewOrderUseCase,
	NewPaymentUseCase,
	NewWebhookUseCase, // 依赖 PaymentUseCase 作为事件处理器
	wire.Bind(new(WebhookEventHandler), new(*PaymentUseCase)),
)
