package errors

import (
	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	i18nPkg "github.com/gaoyong06/go-pkg/middleware/i18n"
)

func init() {
	// 初始化全局错误管理器（使用项目特定的配置）
	pkgErrors.InitGlobalErrorManager("i18n", i18nPkg.Language)
}

// Payment Service 错误码定义
// 错误码格式：SSMMEE (6位数字)
//   SS: 服务标识，Payment 固定为 21
//   MM: 模块标识，按业务划分
//   EE: 模块内错误序号
//
// 模块划分：
//   00: 通用模块（复用 go-pkg 通用错误码）
//   01: 订单模块
//   02: 支付模块
//   03: Webhook 模块
//   04: 安全模块（CSRF/签名/输入净化）
//   05: 令牌保险库模块
//   06: 风控模块
//   07: 促销/推荐模块
//   08: 订阅模块
//   09: 监控/审计模块
//   10-99: 预留扩展

// 订单模块错误码 (210100-210199)
const (
	// ErrCodeOrderNotFound 订单不存在
	ErrCodeOrderNotFound = 210101
	// ErrCodeOrderCreateFailed 订单创建失败
	ErrCodeOrderCreateFailed = 210102
	// ErrCodeOrderUpdateFailed 订单更新失败
	ErrCodeOrderUpdateFailed = 210103
	// ErrCodeOrderItemsEmpty 订单明细为空
	ErrCodeOrderItemsEmpty = 210104
	// ErrCodeOrderNotRefundable 订单状态不允许退款
	ErrCodeOrderNotRefundable = 210105
	// ErrCodeRefundAmountInvalid 退款金额非法
	ErrCodeRefundAmountInvalid = 210106
)

// 支付模块错误码 (210200-210299)
const (
	// ErrCodeProviderUnavailable 支付处理方不可用
	ErrCodeProviderUnavailable = 210201
	// ErrCodeIntentCreateFailed 创建支付意向失败
	ErrCodeIntentCreateFailed = 210202
	// ErrCodePaymentRecordFailed 支付流水写入失败
	ErrCodePaymentRecordFailed = 210203
	// ErrCodeUserNotResolved 无法定位购买用户
	ErrCodeUserNotResolved = 210204
	// ErrCodeCommitRetriesExhausted 提交重试次数耗尽
	ErrCodeCommitRetriesExhausted = 210205
	// ErrCodeRefundFailed 退款失败
	ErrCodeRefundFailed = 210206
)

// Webhook 模块错误码 (210300-210399)
const (
	// ErrCodeWebhookSignatureInvalid webhook 签名无效
	ErrCodeWebhookSignatureInvalid = 210301
	// ErrCodeWebhookTimestampStale webhook 时间戳超出容忍窗口
	ErrCodeWebhookTimestampStale = 210302
	// ErrCodeWebhookHeaderMalformed webhook 签名头格式错误
	ErrCodeWebhookHeaderMalformed = 210303
	// ErrCodeWebhookPayloadInvalid webhook 载荷非法
	ErrCodeWebhookPayloadInvalid = 210304
	// ErrCodeWebhookNotFound webhook 记录不存在
	ErrCodeWebhookNotFound = 210305
	// ErrCodeWebhookNotRetryable webhook 记录不处于可重试状态
	ErrCodeWebhookNotRetryable = 210306
	// ErrCodeWebhookLedgerFailed webhook 幂等账本写入失败
	ErrCodeWebhookLedgerFailed = 210307
)

// 安全模块错误码 (210400-210499)
const (
	// ErrCodeCsrfInvalid CSRF 令牌无效
	ErrCodeCsrfInvalid = 210401
	// ErrCodeCsrfExpired CSRF 令牌过期
	ErrCodeCsrfExpired = 210402
	// ErrCodeCsrfAlreadyUsed CSRF 令牌已使用（重放）
	ErrCodeCsrfAlreadyUsed = 210403
	// ErrCodeCsrfIpMismatch CSRF 令牌 IP 不匹配
	ErrCodeCsrfIpMismatch = 210404
	// ErrCodeSignatureInvalid 请求签名无效
	ErrCodeSignatureInvalid = 210405
	// ErrCodeSignatureStale 请求签名时间戳超窗
	ErrCodeSignatureStale = 210406
	// ErrCodeInvalidInput 输入校验失败
	ErrCodeInvalidInput = 210407
	// ErrCodeRateLimited 请求被限流
	ErrCodeRateLimited = 210408
)

// 令牌保险库模块错误码 (210500-210599)
const (
	// ErrCodeTokenNotFound 支付令牌不存在
	ErrCodeTokenNotFound = 210501
	// ErrCodeTokenExpired 支付令牌已过期
	ErrCodeTokenExpired = 210502
	// ErrCodeEncryptFailed 加密失败
	ErrCodeEncryptFailed = 210503
	// ErrCodeDecryptFailed 解密失败
	ErrCodeDecryptFailed = 210504
	// ErrCodeCardInvalid 卡号校验失败
	ErrCodeCardInvalid = 210505
	// ErrCodeCvvInvalid CVV 校验失败
	ErrCodeCvvInvalid = 210506
)

// 风控模块错误码 (210600-210699)
const (
	// ErrCodePaymentBlocked 支付被风控拦截
	ErrCodePaymentBlocked = 210601
)

// 促销/推荐模块错误码 (210700-210799)
const (
	// ErrCodePromotionNotFound 促销码不存在
	ErrCodePromotionNotFound = 210701
	// ErrCodePromotionInvalid 促销码不可用
	ErrCodePromotionInvalid = 210702
	// ErrCodeReferralNotFound 推荐码不存在
	ErrCodeReferralNotFound = 210703
	// ErrCodeReferralInvalid 推荐码不可用
	ErrCodeReferralInvalid = 210704
)

// 订阅模块错误码 (210800-210899)
const (
	// ErrCodePlanNotFound 订阅计划不存在
	ErrCodePlanNotFound = 210801
	// ErrCodeSubscriptionCreateFailed 订阅创建失败
	ErrCodeSubscriptionCreateFailed = 210802
)

// 监控/审计模块错误码 (210900-210999)
const (
	// ErrCodeAuditWriteFailed 审计日志写入失败（仅内部记录，不上抛）
	ErrCodeAuditWriteFailed = 210901
)
