package biz

import (
	"context"
	"strings"
	"time"

	"payment-service/internal/constants"
	payErrors "payment-service/internal/errors"
	"payment-service/internal/metrics"

	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// Payment 支付流水领域对象（退款记为负金额）
type Payment struct {
	PaymentID         string
	OrderID           string
	Amount            float64
	Currency          string
	Provider          string
	ProviderPaymentID string
	Status            string
	FailureReason     string
	Metadata          map[string]string
	ProcessedAt       *time.Time
	CreatedAt         time.Time
}

// User 用户领域对象
type User struct {
	UserID string
	Email  string
	Name   string
}

// SubscriptionPlan 订阅计划领域对象
type SubscriptionPlan struct {
	PlanID       string
	Name         string
	DurationDays int
}

// UserSubscription 用户订阅领域对象
type UserSubscription struct {
	SubscriptionID string
	UserID         string
	PlanID         string
	OrderID        string
	Status         string
	StartedAt      time.Time
	ExpiresAt      time.Time
}

// SuccessHints 成功回调携带的辅助定位信息（来自意向元数据）
type SuccessHints struct {
	OrderID       string
	UserID        string
	CustomerEmail string
	PlanID        string
	PlanName      string
}

// SuccessResult 支付成功处理结果
type SuccessResult struct {
	OrderID             string `json:"order_id"`
	OrderNumber         string `json:"order_number"`
	AlreadyProcessed    bool   `json:"already_processed"`
	SubscriptionUpdated bool   `json:"subscription_updated"`
	// UserActivated 首次开通（区别于续期延长）
	UserActivated bool   `json:"user_activated"`
	PlanName      string `json:"plan_name,omitempty"`
}

// RefundResult 退款结果
type RefundResult struct {
	OrderID        string  `json:"order_id"`
	RefundAmount   float64 `json:"refund_amount"`
	ProviderRefund string  `json:"provider_refund_id"`
}

// PaymentRepo 支付数据层接口（定义在 biz 层）
type PaymentRepo interface {
	// MarkOrderPaidWithPayment 事务内：锁订单行、置已支付、写支付流水
	// 订单已是 paid 时返回 changed=false（幂等无操作）
	MarkOrderPaidWithPayment(ctx context.Context, orderID string, payment *Payment) (changed bool, err error)
	MarkOrderPaymentFailed(ctx context.Context, orderID, reason string) error
	// CreateRefund 事务内：写负金额流水、订单置已退款
	CreateRefund(ctx context.Context, orderID string, refund *Payment) error
	ListPaymentsByOrder(ctx context.Context, orderID string) ([]*Payment, error)
}

// SubscriptionRepo 用户/订阅数据层接口（定义在 biz 层）
type SubscriptionRepo interface {
	GetUserByID(ctx context.Context, userID string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	// FindUserByFuzzyName 姓名模糊兜底，仅命中唯一一条时返回
	FindUserByFuzzyName(ctx context.Context, name string) (*User, error)
	GetPlanByID(ctx context.Context, planID string) (*SubscriptionPlan, error)
	GetPlanByName(ctx context.Context, name string) (*SubscriptionPlan, error)
	GetActiveSubscription(ctx context.Context, userID string) (*UserSubscription, error)
	CreateSubscription(ctx context.Context, sub *UserSubscription) error
	ExtendSubscription(ctx context.Context, subscriptionID string, newExpiry time.Time) error
}

// PaymentUseCase 支付结果编排
// webhook 层通过 WebhookEventHandler 接口调入，避免与 webhook 包互相依赖
type PaymentUseCase struct {
	orderRepo OrderRepo
	repo      PaymentRepo
	subRepo   SubscriptionRepo
	promoRepo PromotionRepo
	provider  PaymentProvider
	monitor   *MonitorUseCase
	conf      *PaymentConfig
	audit     *AuditUseCase
	log       *log.Helper
	metrics   *metrics.PaymentMetrics
}

// NewPaymentUseCase 创建支付编排 UseCase
func NewPaymentUseCase(
	orderRepo OrderRepo,
	repo PaymentRepo,
	subRepo SubscriptionRepo,
	promoRepo PromotionRepo,
	provider PaymentProvider,
	monitor *MonitorUseCase,
	conf *PaymentConfig,
	audit *AuditUseCase,
	logger log.Logger,
) *PaymentUseCase {
	return &PaymentUseCase{
		orderRepo: orderRepo,
		repo:      repo,
		subRepo:   subRepo,
		promoRepo: promoRepo,
		provider:  provider,
		monitor:   monitor,
		conf:      conf,
		audit:     audit,
		log:       log.NewHelper(logger),
		metrics:   metrics.GetMetrics(),
	}
}

// HandlePaymentIntentSucceeded 实现 WebhookEventHandler
func (uc *PaymentUseCase) HandlePaymentIntentSucceeded(ctx context.Context, intentID string, metadata map[string]string) error {
	hints := &SuccessHints{}
	if metadata != nil {
		hints.OrderID = metadata["order_id"]
		hints.UserID = metadata["user_id"]
		hints.CustomerEmail = metadata["customer_email"]
		hints.PlanID = metadata["plan_id"]
		hints.PlanName = metadata["plan_name"]
	}
	_, err := uc.ProcessPaymentSuccess(ctx, intentID, hints)
	return err
}

// HandlePaymentIntentFailed 实现 WebhookEventHandler
func (uc *PaymentUseCase) HandlePaymentIntentFailed(ctx context.Context, intentID, reason string) error {
	order, err := uc.resolveOrder(ctx, intentID, nil)
	if err != nil {
		return err
	}
	if err := uc.repo.MarkOrderPaymentFailed(ctx, order.OrderID, reason); err != nil {
		return pkgErrors.WrapErrorWithLang(ctx, err, payErrors.ErrCodePaymentRecordFailed)
	}
	if uc.metrics != nil {
		uc.metrics.PaymentAttemptTotal.WithLabelValues(constants.TxnStatusFailed).Inc()
	}
	if uc.monitor != nil {
		uc.monitor.MonitorPaymentAttempt(ctx, &PaymentAttempt{Amount: order.TotalAmount, Success: false}, time.Now())
	}
	uc.audit.Record(ctx, constants.AuditEventPaymentFailed, constants.AuditOutcomeFailure, map[string]interface{}{
		"order_number": order.OrderNumber,
		"intent_id":    intentID,
		"reason":       reason,
	})
	uc.log.Warnf("Payment failed: order_number=%s, intent=%s, reason=%s", order.OrderNumber, intentID, reason)
	return nil
}

// HandleChargeDispute 实现 WebhookEventHandler
// 拒付不改订单支付状态，只做标记、审计和升级告警
func (uc *PaymentUseCase) HandleChargeDispute(ctx context.Context, chargeID string, metadata map[string]string) error {
	detail := map[string]interface{}{"charge_id": chargeID}
	orderNumber := ""
	if metadata != nil {
		orderNumber = metadata["order_number"]
		detail["order_number"] = orderNumber
		if orderID := metadata["order_id"]; orderID != "" {
			meta := map[string]string{"dispute_charge_id": chargeID, "disputed_at": time.Now().UTC().Format(time.RFC3339)}
			if err := uc.orderRepo.UpdateOrderMetadata(ctx, orderID, meta); err != nil {
				uc.log.Warnf("annotate disputed order failed: order_id=%s, error=%v", orderID, err)
			}
		}
	}
	uc.audit.Record(ctx, constants.AuditEventDisputeOpened, constants.AuditOutcomeFailure, detail)
	if uc.monitor != nil {
		uc.monitor.route(ctx, &MonitorAlert{
			Type:    "charge_dispute",
			Level:   constants.AlertLevelCritical,
			Message: "chargeback dispute opened",
			Detail:  detail,
		})
	}
	uc.log.Errorf("Charge dispute opened: charge=%s, order_number=%s", chargeID, orderNumber)
	return nil
}

// ProcessPaymentSuccess 支付成功落账 + 订阅开通
// 已支付订单直接返回无操作；落账带重试；订单置付后不再回滚，
// 订阅开通失败记录后交由重试补偿
func (uc *PaymentUseCase) ProcessPaymentSuccess(ctx context.Context, intentID string, hints *SuccessHints) (*SuccessResult, error) {
	startTime := time.Now()

	order, err := uc.resolveOrder(ctx, intentID, hints)
	if err != nil {
		return nil, err
	}
	result := &SuccessResult{OrderID: order.OrderID, OrderNumber: order.OrderNumber}

	if order.Status == constants.OrderStatusPaid {
		result.AlreadyProcessed = true
		uc.log.Infof("Payment already processed: order_number=%s", order.OrderNumber)
		return result, nil
	}

	// 仅凭 order_id 确认时回退到订单上的意向号，流水不能丢提供方关联
	providerPaymentID := intentID
	if providerPaymentID == "" {
		providerPaymentID = order.PaymentIntentID
	}

	now := time.Now()
	payment := &Payment{
		PaymentID:         uuid.New().String(),
		OrderID:           order.OrderID,
		Amount:            order.TotalAmount,
		Currency:          uc.conf.Currency,
		Provider:          uc.conf.ProviderName,
		ProviderPaymentID: providerPaymentID,
		Status:            constants.TxnStatusSucceeded,
		ProcessedAt:       &now,
	}

	// 落账重试：短暂的锁竞争或连接抖动不应丢掉一次已收款
	changed := false
	var commitErr error
	for attempt := 1; attempt <= 3; attempt++ {
		changed, commitErr = uc.repo.MarkOrderPaidWithPayment(ctx, order.OrderID, payment)
		if commitErr == nil {
			break
		}
		uc.log.Warnf("mark order paid attempt %d failed: order_id=%s, error=%v", attempt, order.OrderID, commitErr)
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
	if commitErr != nil {
		if uc.metrics != nil {
			uc.metrics.PaymentAttemptTotal.WithLabelValues(constants.TxnStatusFailed).Inc()
		}
		return nil, pkgErrors.WrapErrorWithLang(ctx, commitErr, payErrors.ErrCodeCommitRetriesExhausted)
	}
	if !changed {
		// 并发回调竞争：另一次投递已落账
		result.AlreadyProcessed = true
		return result, nil
	}

	if uc.metrics != nil {
		uc.metrics.PaymentAttemptTotal.WithLabelValues(constants.TxnStatusSucceeded).Inc()
		uc.metrics.PaymentVolume.Add(order.TotalAmount)
		uc.metrics.PaymentDuration.WithLabelValues("success").Observe(time.Since(startTime).Seconds())
	}
	if uc.monitor != nil {
		uc.monitor.MonitorPaymentAttempt(ctx, &PaymentAttempt{Amount: order.TotalAmount, Success: true}, startTime)
	}
	uc.audit.Record(ctx, constants.AuditEventPaymentSucceeded, constants.AuditOutcomeSuccess, map[string]interface{}{
		"order_number": order.OrderNumber,
		"intent_id":    intentID,
		"amount":       order.TotalAmount,
	})

	// 首次成功转换才计入联盟成交
	if order.ReferralCode != "" {
		uc.recordConversion(ctx, order)
	}

	// 订阅开通：定位不到用户必须响亮失败（404），而不是静默跳过
	user, err := uc.resolveUser(ctx, order, hints)
	if err != nil {
		return nil, err
	}
	uc.activateSubscription(ctx, order, user, hints, result)

	uc.log.Infof("Payment succeeded: order_number=%s, amount=%.2f, subscription_updated=%v",
		order.OrderNumber, order.TotalAmount, result.SubscriptionUpdated)
	return result, nil
}

// RefundPayment 退款：写负金额流水、订单置已退款
// amount<=0 表示全额退款
func (uc *PaymentUseCase) RefundPayment(ctx context.Context, orderID string, amount float64) (*RefundResult, error) {
	order, err := uc.orderRepo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgErrors.NewBizErrorWithLang(ctx, payErrors.ErrCodeOrderNotFound)
	}
	if order.Status != constants.OrderStatusPaid {
		return nil, pkgErrors.NewBizErrorWithLang(ctx, payErrors.ErrCodeOrderNotRefundable)
	}
	if amount <= 0 {
		amount = order.TotalAmount
	}
	amount = Round2(amount)
	if amount > order.TotalAmount {
		return nil, pkgErrors.NewBizErrorWithLang(ctx, payErrors.ErrCodeRefundAmountInvalid)
	}

	if uc.provider == nil {
		return nil, pkgErrors.NewBizErrorWithLang(ctx, payErrors.ErrCodeProviderUnavailable)
	}
	reply, err := uc.provider.CreateRefund(ctx, &CreateRefundRequest{
		IntentID:    order.PaymentIntentID,
		AmountCents: int64(amount*100 + 0.5),
	})
	if err != nil {
		return nil, pkgErrors.WrapErrorWithLang(ctx, err, payErrors.ErrCodeRefundFailed)
	}

	now := time.Now()
	refund := &Payment{
		PaymentID:         uuid.New().String(),
		OrderID:           order.OrderID,
		Amount:            -amount,
		Currency:          uc.conf.Currency,
		Provider:          uc.conf.ProviderName,
		ProviderPaymentID: reply.RefundID,
		Status:            constants.TxnStatusSucceeded,
		ProcessedAt:       &now,
	}
	if err := uc.repo.CreateRefund(ctx, order.OrderID, refund); err != nil {
		return nil, pkgErrors.WrapErrorWithLang(ctx, err, payErrors.ErrCodePaymentRecordFailed)
	}

	if uc.metrics != nil {
		uc.metrics.RefundTotal.Inc()
	}
	uc.audit.Record(ctx, constants.AuditEventPaymentRefunded, constants.AuditOutcomeSuccess, map[string]interface{}{
		"order_number":  order.OrderNumber,
		"refund_amount": amount,
	})
	uc.log.Infof("Refund processed: order_number=%s, amount=%.2f", order.OrderNumber, amount)
	return &RefundResult{OrderID: order.OrderID, RefundAmount: amount, ProviderRefund: reply.RefundID}, nil
}

// resolveOrder 意向ID优先（走缓存），回调元数据里的订单ID兜底
func (uc *PaymentUseCase) resolveOrder(ctx context.Context, intentID string, hints *SuccessHints) (*Order, error) {
	order, err := uc.orderRepo.GetOrderByIntentID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if order == nil && hints != nil && hints.OrderID != "" {
		order, err = uc.orderRepo.GetOrderByID(ctx, hints.OrderID)
		if err != nil {
			return nil, err
		}
	}
	if order == nil {
		return nil, pkgErrors.NewBizErrorWithLang(ctx, payErrors.ErrCodeOrderNotFound)
	}
	return order, nil
}

// resolveUser 用户解析链：显式 user_id → 邮箱 → 订单归属 → 姓名模糊
// 每级显式有序，避免隐式兜底掩盖脏数据
func (uc *PaymentUseCase) resolveUser(ctx context.Context, order *Order, hints *SuccessHints) (*User, error) {
	if hints != nil && hints.UserID != "" {
		if user, err := uc.subRepo.GetUserByID(ctx, hints.UserID); err == nil && user != nil {
			return user, nil
		}
	}
	email := order.CustomerEmail
	if email == "" && hints != nil {
		email = hints.CustomerEmail
	}
	if email != "" {
		if user, err := uc.subRepo.GetUserByEmail(ctx, email); err == nil && user != nil {
			return user, nil
		}
	}
	if order.UserID != "" {
		if user, err := uc.subRepo.GetUserByID(ctx, order.UserID); err == nil && user != nil {
			return user, nil
		}
	}
	if order.CustomerName != "" {
		if user, err := uc.subRepo.FindUserByFuzzyName(ctx, order.CustomerName); err == nil && user != nil {
			uc.log.Warnf("user resolved by fuzzy name: order_number=%s, name=%s", order.OrderNumber, order.CustomerName)
			return user, nil
		}
	}
	uc.log.Errorf("cannot resolve user for paid order: order_number=%s, email=%s", order.OrderNumber, email)
	return nil, pkgErrors.NewBizErrorWithLang(ctx, payErrors.ErrCodeUserNotResolved)
}

// resolvePlan 计划解析链：元数据 plan_id → 计划名 → 订单项名模糊 → 默认 basic
func (uc *PaymentUseCase) resolvePlan(ctx context.Context, order *Order, hints *SuccessHints) *SubscriptionPlan {
	if hints != nil && hints.PlanID != "" {
		if plan, err := uc.subRepo.GetPlanByID(ctx, hints.PlanID); err == nil && plan != nil {
			return plan
		}
	}
	if hints != nil && hints.PlanName != "" {
		if plan, err := uc.subRepo.GetPlanByName(ctx, strings.ToLower(hints.PlanName)); err == nil && plan != nil {
			return plan
		}
	}
	// 订单项名称里找已知计划名（pro 是 professional 的常用简写）
	known := []struct{ keyword, plan string }{
		{constants.PlanNameEnterprise, constants.PlanNameEnterprise},
		{constants.PlanNameProfessional, constants.PlanNameProfessional},
		{"pro", constants.PlanNameProfessional},
		{constants.PlanNamePremium, constants.PlanNamePremium},
		{constants.PlanNameBasic, constants.PlanNameBasic},
	}
	for _, item := range order.Items {
		name := strings.ToLower(item.Name)
		for _, k := range known {
			if strings.Contains(name, k.keyword) {
				if plan, err := uc.subRepo.GetPlanByName(ctx, k.plan); err == nil && plan != nil {
					uc.log.Infof("plan resolved from item name: order_number=%s, plan=%s", order.OrderNumber, k.plan)
					return plan
				}
			}
		}
	}
	plan, err := uc.subRepo.GetPlanByName(ctx, constants.PlanNameBasic)
	if err != nil || plan == nil {
		return nil
	}
	uc.log.Warnf("plan fallback to basic: order_number=%s", order.OrderNumber)
	return plan
}

// activateSubscription 开通或顺延订阅
// 订单已置付，这里失败只记录不回滚，留给人工或重试补偿
func (uc *PaymentUseCase) activateSubscription(ctx context.Context, order *Order, user *User, hints *SuccessHints, result *SuccessResult) {
	plan := uc.resolvePlan(ctx, order, hints)
	if plan == nil {
		uc.log.Errorf("no subscription plan resolvable: order_number=%s", order.OrderNumber)
		return
	}
	result.PlanName = plan.Name

	duration := time.Duration(plan.DurationDays) * 24 * time.Hour
	if plan.DurationDays <= 0 {
		duration = 30 * 24 * time.Hour
	}

	existing, err := uc.subRepo.GetActiveSubscription(ctx, user.UserID)
	if err != nil {
		uc.log.Errorf("query active subscription failed: user_id=%s, error=%v", user.UserID, err)
		return
	}
	if existing != nil {
		// 同计划续费则顺延，不重复开通
		newExpiry := existing.ExpiresAt.Add(duration)
		if err := uc.subRepo.ExtendSubscription(ctx, existing.SubscriptionID, newExpiry); err != nil {
			uc.log.Errorf("extend subscription failed: subscription_id=%s, error=%v", existing.SubscriptionID, err)
			return
		}
		result.SubscriptionUpdated = true
	} else {
		now := time.Now()
		sub := &UserSubscription{
			SubscriptionID: uuid.New().String(),
			UserID:         user.UserID,
			PlanID:         plan.PlanID,
			OrderID:        order.OrderID,
			Status:         "active",
			StartedAt:      now,
			ExpiresAt:      now.Add(duration),
		}
		if err := uc.subRepo.CreateSubscription(ctx, sub); err != nil {
			uc.log.Errorf("create subscription failed: user_id=%s, error=%v", user.UserID, err)
			return
		}
		result.SubscriptionUpdated = true
		result.UserActivated = true
	}

	uc.audit.Record(ctx, constants.AuditEventSubscriptionActivated, constants.AuditOutcomeSuccess, map[string]interface{}{
		"order_number": order.OrderNumber,
		"user_id":      user.UserID,
		"plan":         plan.Name,
	})
}

// recordConversion 推荐成交：给联盟计佣
func (uc *PaymentUseCase) recordConversion(ctx context.Context, order *Order) {
	coupon, err := uc.promoRepo.GetCouponByCode(ctx, order.ReferralCode)
	if err != nil || coupon == nil {
		uc.log.Warnf("conversion lookup failed: code=%s, error=%v", order.ReferralCode, err)
		return
	}
	commission := Round2(order.TotalAmount * coupon.CommissionPercent / 100)
	if err := uc.promoRepo.RecordConversion(ctx, coupon.CouponID, commission); err != nil {
		uc.log.Errorf("record conversion failed: code=%s, error=%v", order.ReferralCode, err)
	}
}
