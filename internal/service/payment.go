package service

import (
	"context"
	"time"

	"payment-service/internal/biz"
	payErrors "payment-service/internal/errors"
	"payment-service/internal/metrics"

	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// CreateOrderRequest 下单请求
// card_data 可选：随单令牌化，原始卡数据不落任何存储
type CreateOrderRequest struct {
	CsrfToken string             `json:"csrf_token"`
	Signature string             `json:"signature"`
	Timestamp int64              `json:"timestamp"`
	Payment   biz.RawPaymentData `json:"payment"`
	CardData  *CardDataRequest   `json:"card_data,omitempty"`
	Country   string             `json:"country,omitempty"` // 账单国家（风控启发式用）
}

// CardDataRequest 原始卡数据（仅在请求生命周期内存在）
type CardDataRequest struct {
	CardNumber     string `json:"card_number"`
	CVV            string `json:"cvv"`
	ExpiryMonth    int    `json:"expiry_month"`
	ExpiryYear     int    `json:"expiry_year"`
	CardholderName string `json:"cardholder_name"`
}

// PaymentIntentReply 支付意向响应
type PaymentIntentReply struct {
	IntentID     string `json:"payment_intent_id"`
	ClientSecret string `json:"client_secret"`
}

// CreateOrderReply 下单响应
type CreateOrderReply struct {
	Order         *OrderReply         `json:"order"`
	PaymentIntent *PaymentIntentReply `json:"payment_intent"`
	PaymentToken  *biz.TokenizedCard  `json:"payment_token,omitempty"`
	Monitoring    *biz.MonitorResult  `json:"monitoring,omitempty"`
	FraudAnalysis *biz.RiskAssessment `json:"fraud_analysis,omitempty"`
}

// OrderReply 订单查询响应
type OrderReply struct {
	OrderID       string            `json:"order_id"`
	OrderNumber   string            `json:"order_number"`
	CustomerEmail string            `json:"customer_email"`
	Status        string            `json:"status"`
	PaymentStatus string            `json:"payment_status"`
	Subtotal      float64           `json:"subtotal"`
	Discount      float64           `json:"discount_amount"`
	Tax           float64           `json:"tax_amount"`
	Total         float64           `json:"total_amount"`
	Items         []OrderItemReply  `json:"items"`
	Payments      []PaymentTxnReply `json:"payments,omitempty"`
	PaidAt        *time.Time        `json:"paid_at,omitempty"`
}

// OrderItemReply 订单项响应
type OrderItemReply struct {
	Name       string  `json:"name"`
	UnitPrice  float64 `json:"unit_price"`
	Quantity   int     `json:"quantity"`
	TotalPrice float64 `json:"total_price"`
}

// PaymentTxnReply 支付流水响应
type PaymentTxnReply struct {
	PaymentID string  `json:"payment_id"`
	Amount    float64 `json:"amount"`
	Status    string  `json:"status"`
}

// PaymentSuccessRequest 前端支付完成确认请求
// order_id 与 payment_intent_id 至少传一个
type PaymentSuccessRequest struct {
	OrderID       string `json:"order_id,omitempty"`
	IntentID      string `json:"payment_intent_id,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
	Signature     string `json:"signature"`
	Timestamp     int64  `json:"timestamp"`
}

// PaymentSuccessReply 支付完成确认响应
type PaymentSuccessReply struct {
	Success             bool             `json:"success"`
	Order               *OrderReply      `json:"order"`
	Payment             *PaymentTxnReply `json:"payment,omitempty"`
	AlreadyProcessed    bool             `json:"already_processed,omitempty"`
	SubscriptionUpdated bool             `json:"subscription_updated"`
	UserActivated       bool             `json:"user_activated"`
	PlanName            string           `json:"plan_name,omitempty"`
}

// RefundRequest 退款请求
type RefundRequest struct {
	OrderID string  `json:"order_id"`
	Amount  float64 `json:"amount"` // <=0 表示全额
}

// AuthorizeRequest 卡授权（令牌化）请求
type AuthorizeRequest struct {
	CardNumber     string `json:"card_number"`
	CVV            string `json:"cvv"`
	ExpiryMonth    int    `json:"expiry_month"`
	ExpiryYear     int    `json:"expiry_year"`
	CardholderName string `json:"cardholder_name"`
}

// PaymentService 支付 HTTP 服务
// 安全链：输入净化 → CSRF → 请求签名 → 风控 → 业务；
// 任何一环失败都以笼统的错误响应返回，细节只进审计
type PaymentService struct {
	orderUC     *biz.OrderUseCase
	paymentUC   *biz.PaymentUseCase
	sanitizeUC  *biz.SanitizeUseCase
	csrfUC      *biz.CsrfUseCase
	signingUC   *biz.SigningUseCase
	fraudUC     *biz.FraudUseCase
	vaultUC     *biz.VaultUseCase
	monitorUC   *biz.MonitorUseCase
	webhookUC   *biz.WebhookUseCase
	paymentRepo biz.PaymentRepo
	orderRepo   biz.OrderRepo
	log         *log.Helper
	metrics     *metrics.PaymentMetrics
}

// NewPaymentService 创建支付服务
func NewPaymentService(
	orderUC *biz.OrderUseCase,
	paymentUC *biz.PaymentUseCase,
	sanitizeUC *biz.SanitizeUseCase,
	csrfUC *biz.CsrfUseCase,
	signingUC *biz.SigningUseCase,
	fraudUC *biz.FraudUseCase,
	vaultUC *biz.VaultUseCase,
	monitorUC *biz.MonitorUseCase,
	webhookUC *biz.WebhookUseCase,
	paymentRepo biz.PaymentRepo,
	orderRepo biz.OrderRepo,
	logger log.Logger,
) *PaymentService {
	return &PaymentService{
		orderUC:     orderUC,
		paymentUC:   paymentUC,
		sanitizeUC:  sanitizeUC,
		csrfUC:      csrfUC,
		signingUC:   signingUC,
		fraudUC:     fraudUC,
		vaultUC:     vaultUC,
		monitorUC:   monitorUC,
		webhookUC:   webhookUC,
		paymentRepo: paymentRepo,
		orderRepo:   orderRepo,
		log:         log.NewHelper(logger),
		metrics:     metrics.GetMetrics(),
	}
}

// CreateOrder 下单
func (s *PaymentService) CreateOrder(ctx context.Context, req *CreateOrderRequest, clientIP string) (*CreateOrderReply, error) {
	startTime := time.Now()

	// 1. CSRF 单次令牌
	if err := s.csrfUC.ValidateToken(ctx, req.CsrfToken, clientIP); err != nil {
		return nil, err
	}

	// 2. 请求签名（开发模式只记录不拦截）
	signed := map[string]interface{}{
		"customer_email": req.Payment.CustomerEmail,
		"item_count":     len(req.Payment.Items),
	}
	if err := s.signingUC.VerifyRequest(ctx, signed, req.Signature, req.Timestamp, clientIP); err != nil {
		return nil, err
	}

	// 3. 输入净化 + 闸门校验
	clean := s.sanitizeUC.SanitizePaymentData(&req.Payment)
	if err := s.sanitizeUC.ValidateSanitizedData(ctx, clean); err != nil {
		return nil, err
	}

	// 4. 风控：只有 critical 拦截，风控自身故障放行
	assessment := s.fraudUC.AnalyzePaymentRisk(ctx, clean, &biz.UserContext{
		ClientIP:    clientIP,
		CountryHint: req.Country,
	})
	if assessment.ShouldBlock {
		return nil, pkgErrors.NewBizErrorWithLang(ctx, payErrors.ErrCodePaymentBlocked)
	}

	// 5. 随单卡数据先令牌化，失败不留孤儿订单
	var token *biz.TokenizedCard
	if req.CardData != nil {
		var err error
		token, err = s.vaultUC.ProcessPaymentAuthorization(ctx, &biz.CardData{
			Number:         req.CardData.CardNumber,
			CVV:            req.CardData.CVV,
			ExpiryMonth:    req.CardData.ExpiryMonth,
			ExpiryYear:     req.CardData.ExpiryYear,
			CardholderName: req.CardData.CardholderName,
		})
		if err != nil {
			return nil, err
		}
	}

	// 6. 建单 + 申请支付意向
	order, intent, err := s.orderUC.CreateOrder(ctx, clean, clientIP)
	if err != nil {
		return nil, err
	}

	// 风控自身故障留痕到订单元数据
	if assessment.Error != "" {
		s.orderUC.RecordFraudCheckError(ctx, order.OrderID, assessment.Error)
	}

	monitoring := s.monitorUC.MonitorPaymentAttempt(ctx, &biz.PaymentAttempt{
		Amount:  order.TotalAmount,
		Success: true,
	}, startTime)

	return &CreateOrderReply{
		Order:         orderReply(order),
		PaymentIntent: &PaymentIntentReply{IntentID: intent.IntentID, ClientSecret: intent.ClientSecret},
		PaymentToken:  token,
		Monitoring:    monitoring,
		FraudAnalysis: assessment,
	}, nil
}

// PaymentSuccess 前端支付完成确认：webhook 之外的兜底路径
// 请求签名必须有效（开发模式只记录不拦截），幂等处理由 ProcessPaymentSuccess 保证
func (s *PaymentService) PaymentSuccess(ctx context.Context, req *PaymentSuccessRequest, clientIP string) (*PaymentSuccessReply, error) {
	if req.OrderID == "" && req.IntentID == "" {
		return nil, pkgErrors.NewBizErrorWithLang(ctx, payErrors.ErrCodeOrderNotFound)
	}

	signed := map[string]interface{}{
		"order_id":          req.OrderID,
		"payment_intent_id": req.IntentID,
		"customer_email":    req.CustomerEmail,
	}
	if err := s.signingUC.VerifyRequest(ctx, signed, req.Signature, req.Timestamp, clientIP); err != nil {
		return nil, err
	}

	result, err := s.paymentUC.ProcessPaymentSuccess(ctx, req.IntentID, &biz.SuccessHints{
		OrderID:       req.OrderID,
		CustomerEmail: req.CustomerEmail,
	})
	if err != nil {
		return nil, err
	}

	reply := &PaymentSuccessReply{
		Success:             true,
		AlreadyProcessed:    result.AlreadyProcessed,
		SubscriptionUpdated: result.SubscriptionUpdated,
		UserActivated:       result.UserActivated,
		PlanName:            result.PlanName,
	}
	if order, err := s.orderRepo.GetOrderByID(ctx, result.OrderID); err == nil && order != nil {
		reply.Order = orderReply(order)
	}
	if payments, err := s.paymentRepo.ListPaymentsByOrder(ctx, result.OrderID); err == nil && len(payments) > 0 {
		latest := payments[len(payments)-1]
		reply.Payment = &PaymentTxnReply{
			PaymentID: latest.PaymentID,
			Amount:    latest.Amount,
			Status:    latest.Status,
		}
	}
	return reply, nil
}

// orderReply 订单领域对象到响应体
func orderReply(order *biz.Order) *OrderReply {
	reply := &OrderReply{
		OrderID:       order.OrderID,
		OrderNumber:   order.OrderNumber,
		CustomerEmail: order.CustomerEmail,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		Subtotal:      order.Subtotal,
		Discount:      order.DiscountAmount,
		Tax:           order.TaxAmount,
		Total:         order.TotalAmount,
		PaidAt:        order.PaidAt,
	}
	for _, item := range order.Items {
		reply.Items = append(reply.Items, OrderItemReply{
			Name:       item.Name,
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			TotalPrice: item.TotalPrice,
		})
	}
	return reply
}

// GetOrder 订单查询（含流水）
func (s *PaymentService) GetOrder(ctx context.Context, orderID string) (*OrderReply, error) {
	order, err := s.orderRepo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgErrors.NewBizErrorWithLang(ctx, payErrors.ErrCodeOrderNotFound)
	}

	reply := orderReply(order)
	if payments, err := s.paymentRepo.ListPaymentsByOrder(ctx, orderID); err == nil {
		for _, p := range payments {
			reply.Payments = append(reply.Payments, PaymentTxnReply{
				PaymentID: p.PaymentID,
				Amount:    p.Amount,
				Status:    p.Status,
			})
		}
	}
	return reply, nil
}

// Refund 退款
func (s *PaymentService) Refund(ctx context.Context, req *RefundRequest) (*biz.RefundResult, error) {
	if req.OrderID == "" {
		return nil, pkgErrors.NewBizErrorWithLang(ctx, payErrors.ErrCodeOrderNotFound)
	}
	return s.paymentUC.RefundPayment(ctx, req.OrderID, req.Amount)
}

// Authorize 卡数据令牌化 + CVV 校验
// 原始卡号与 CVV 只在本次请求的生命周期内存在
func (s *PaymentService) Authorize(ctx context.Context, req *AuthorizeRequest) (*biz.TokenizedCard, error) {
	return s.vaultUC.ProcessPaymentAuthorization(ctx, &biz.CardData{
		Number:         req.CardNumber,
		CVV:            req.CVV,
		ExpiryMonth:    req.ExpiryMonth,
		ExpiryYear:     req.ExpiryYear,
		CardholderName: req.CardholderName,
	})
}

// Dashboard 支付监控看板
func (s *PaymentService) Dashboard(ctx context.Context) (*biz.DashboardSnapshot, error) {
	return s.monitorUC.Dashboard(s.webhookUC.DeadLetterCount(ctx)), nil
}
