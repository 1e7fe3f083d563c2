package service

import (
	"context"

	"payment-service/internal/biz"
	"payment-service/internal/constants"
	payErrors "payment-service/internal/errors"
	"payment-service/internal/metrics"

	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// CsrfTokenReply CSRF 令牌响应
type CsrfTokenReply struct {
	CsrfToken string `json:"csrf_token"`
	ExpiresIn int64  `json:"expires_in"`
}

// ValidateCodeRequest 促销/推荐码校验请求
type ValidateCodeRequest struct {
	Code     string  `json:"code"`
	Subtotal float64 `json:"subtotal"`
}

// SecurityService 安全辅助 HTTP 服务
// CSRF 令牌签发与公开的折扣码只读校验；
// 校验接口无需认证即可访问，必须按 IP 限流防枚举
type SecurityService struct {
	csrfUC    *biz.CsrfUseCase
	orderUC   *biz.OrderUseCase
	complyUC  *biz.ComplianceUseCase
	ratelimit biz.VelocityCounter
	conf      *biz.PaymentConfig
	log       *log.Helper
	metrics   *metrics.PaymentMetrics
}

// NewSecurityService 创建安全辅助服务
func NewSecurityService(
	csrfUC *biz.CsrfUseCase,
	orderUC *biz.OrderUseCase,
	complyUC *biz.ComplianceUseCase,
	ratelimit biz.VelocityCounter,
	conf *biz.PaymentConfig,
	logger log.Logger,
) *SecurityService {
	return &SecurityService{
		csrfUC:    csrfUC,
		orderUC:   orderUC,
		complyUC:  complyUC,
		ratelimit: ratelimit,
		conf:      conf,
		log:       log.NewHelper(logger),
		metrics:   metrics.GetMetrics(),
	}
}

// CsrfToken 为请求方签发 CSRF 令牌
func (s *SecurityService) CsrfToken(ctx context.Context, clientIP string) (*CsrfTokenReply, error) {
	token, err := s.csrfUC.GenerateToken(ctx, clientIP)
	if err != nil {
		return nil, err
	}
	return &CsrfTokenReply{
		CsrfToken: token,
		ExpiresIn: int64(s.conf.CsrfTTL.Seconds()),
	}, nil
}

// ValidatePromotion 促销码只读预览（限流）
func (s *SecurityService) ValidatePromotion(ctx context.Context, req *ValidateCodeRequest, clientIP string) (*biz.DiscountPreview, error) {
	if err := s.allow(ctx, clientIP); err != nil {
		return nil, err
	}
	return s.orderUC.ValidatePromotion(ctx, req.Code, req.Subtotal)
}

// ValidateReferral 推荐码只读预览（限流）
func (s *SecurityService) ValidateReferral(ctx context.Context, req *ValidateCodeRequest, clientIP string) (*biz.DiscountPreview, error) {
	if err := s.allow(ctx, clientIP); err != nil {
		return nil, err
	}
	return s.orderUC.ValidateReferral(ctx, req.Code, req.Subtotal)
}

// ComplianceScan 触发一次 PCI 日志合规扫描（运维端点）
func (s *SecurityService) ComplianceScan(ctx context.Context) (*biz.ComplianceReport, error) {
	return s.complyUC.ScanLogs(ctx)
}

// allow 固定窗口按 IP 限流
func (s *SecurityService) allow(ctx context.Context, clientIP string) error {
	n, err := s.ratelimit.Incr(ctx, constants.RedisKeyRateLimit+clientIP, s.conf.RatelimitWindow)
	if err != nil {
		// 限流器故障放行，公开接口可用性优先
		s.log.Warnf("rate limiter unavailable: %v", err)
		return nil
	}
	if int(n) > s.conf.RatelimitRequests {
		if s.metrics != nil {
			s.metrics.RateLimitedTotal.Inc()
		}
		return pkgErrors.NewBizErrorWithLang(ctx, payErrors.ErrCodeRateLimited)
	}
	return nil
}
