package biz

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"payment-service/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePaymentRepo struct {
	mu             sync.Mutex
	orders         *fakeOrderRepo
	payments       map[string][]*Payment
	failReasons    map[string]string
	commitFailures int
	forceUnchanged bool
}

func newFakePaymentRepo(orders *fakeOrderRepo) *fakePaymentRepo {
	return &fakePaymentRepo{
		orders:      orders,
		payments:    make(map[string][]*Payment),
		failReasons: make(map[string]string),
	}
}

func (r *fakePaymentRepo) MarkOrderPaidWithPayment(ctx context.Context, orderID string, payment *Payment) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commitFailures > 0 {
		r.commitFailures--
		return false, errors.New("lock contention")
	}
	if r.forceUnchanged {
		return false, nil
	}
	order := r.orders.orders[orderID]
	if order == nil {
		return false, errors.New("order not found")
	}
	if order.Status == constants.OrderStatusPaid {
		return false, nil
	}
	order.Status = constants.OrderStatusPaid
	order.PaymentStatus = constants.PaymentStatusPaid
	r.payments[orderID] = append(r.payments[orderID], payment)
	return true, nil
}

func (r *fakePaymentRepo) MarkOrderPaymentFailed(ctx context.Context, orderID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failReasons[orderID] = reason
	if order := r.orders.orders[orderID]; order != nil && order.Status != constants.OrderStatusPaid {
		order.PaymentStatus = constants.PaymentStatusFailed
	}
	return nil
}

func (r *fakePaymentRepo) CreateRefund(ctx context.Context, orderID string, refund *Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payments[orderID] = append(r.payments[orderID], refund)
	if order := r.orders.orders[orderID]; order != nil {
		order.Status = constants.OrderStatusRefunded
	}
	return nil
}

func (r *fakePaymentRepo) ListPaymentsByOrder(ctx context.Context, orderID string) ([]*Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.payments[orderID], nil
}

type fakeSubscriptionRepo struct {
	mu          sync.Mutex
	usersByID   map[string]*User
	usersByEmail map[string]*User
	fuzzy       map[string]*User
	plansByID   map[string]*SubscriptionPlan
	plansByName map[string]*SubscriptionPlan
	active      map[string]*UserSubscription
	created     []*UserSubscription
	extended    map[string]time.Time
}

func newFakeSubscriptionRepo() *fakeSubscriptionRepo {
	return &fakeSubscriptionRepo{
		usersByID:    make(map[string]*User),
		usersByEmail: make(map[string]*User),
		fuzzy:        make(map[string]*User),
		plansByID:    make(map[string]*SubscriptionPlan),
		plansByName:  make(map[string]*SubscriptionPlan),
		active:       make(map[string]*UserSubscription),
		extended:     make(map[string]time.Time),
	}
}

func (r *fakeSubscriptionRepo) addUser(u *User) {
	r.usersByID[u.UserID] = u
	r.usersByEmail[u.Email] = u
}

func (r *fakeSubscriptionRepo) addPlan(p *SubscriptionPlan) {
	r.plansByID[p.PlanID] = p
	r.plansByName[p.Name] = p
}

func (r *fakeSubscriptionRepo) GetUserByID(ctx context.Context, userID string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usersByID[userID], nil
}

func (r *fakeSubscriptionRepo) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usersByEmail[email], nil
}

func (r *fakeSubscriptionRepo) FindUserByFuzzyName(ctx context.Context, name string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fuzzy[name], nil
}

func (r *fakeSubscriptionRepo) GetPlanByID(ctx context.Context, planID string) (*SubscriptionPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.plansByID[planID], nil
}

func (r *fakeSubscriptionRepo) GetPlanByName(ctx context.Context, name string) (*SubscriptionPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.plansByName[name], nil
}

func (r *fakeSubscriptionRepo) GetActiveSubscription(ctx context.Context, userID string) (*UserSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[userID], nil
}

func (r *fakeSubscriptionRepo) CreateSubscription(ctx context.Context, sub *UserSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, sub)
	r.active[sub.UserID] = sub
	return nil
}

func (r *fakeSubscriptionRepo) ExtendSubscription(ctx context.Context, subscriptionID string, newExpiry time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extended[subscriptionID] = newExpiry
	return nil
}

type paymentTestEnv struct {
	uc        *PaymentUseCase
	orderRepo *fakeOrderRepo
	payRepo   *fakePaymentRepo
	subRepo   *fakeSubscriptionRepo
	promoRepo *fakePromotionRepo
	provider  *fakeProvider
}

func newPaymentTest(t *testing.T) *paymentTestEnv {
	t.Helper()
	conf := &PaymentConfig{TaxRate: 0.08, Currency: "usd", ProviderName: "stripe"}
	orderRepo := newFakeOrderRepo()
	payRepo := newFakePaymentRepo(orderRepo)
	subRepo := newFakeSubscriptionRepo()
	promoRepo := newFakePromotionRepo()
	provider := &fakeProvider{}
	monitor := NewMonitorUseCase(&PaymentConfig{}, log.DefaultLogger)
	uc := NewPaymentUseCase(orderRepo, payRepo, subRepo, promoRepo, provider, monitor, conf, newTestAudit(t), log.DefaultLogger)
	return &paymentTestEnv{uc: uc, orderRepo: orderRepo, payRepo: payRepo, subRepo: subRepo, promoRepo: promoRepo, provider: provider}
}

func (env *paymentTestEnv) seedOrder(orderID, intentID string, total float64) *Order {
	order := &Order{
		OrderID:         orderID,
		OrderNumber:     "ord_1000_" + orderID,
		CustomerEmail:   "buyer@example.com",
		CustomerName:    "Jane Buyer",
		Status:          constants.OrderStatusPending,
		PaymentStatus:   constants.PaymentStatusPending,
		TotalAmount:     total,
		PaymentIntentID: intentID,
		Items:           []OrderItem{{Name: "Basic Plan", UnitPrice: total, Quantity: 1, TotalPrice: total}},
	}
	env.orderRepo.orders[orderID] = order
	env.orderRepo.byIntent[intentID] = orderID
	return order
}

func TestProcessPaymentSuccessActivatesSubscription(t *testing.T) {
	env := newPaymentTest(t)
	env.seedOrder("order-1", "pi_1", 108)
	env.subRepo.addUser(&User{UserID: "user-1", Email: "buyer@example.com", Name: "Jane Buyer"})
	env.subRepo.addPlan(&SubscriptionPlan{PlanID: "plan-basic", Name: constants.PlanNameBasic, DurationDays: 30})

	result, err := env.uc.ProcessPaymentSuccess(context.Background(), "pi_1", nil)
	require.NoError(t, err)

	assert.False(t, result.AlreadyProcessed)
	assert.True(t, result.SubscriptionUpdated)
	assert.True(t, result.UserActivated)
	assert.Equal(t, constants.PlanNameBasic, result.PlanName)

	order := env.orderRepo.orders["order-1"]
	assert.Equal(t, constants.OrderStatusPaid, order.Status)

	rows := env.payRepo.payments["order-1"]
	require.Len(t, rows, 1)
	assert.Equal(t, 108.0, rows[0].Amount)
	assert.Equal(t, "pi_1", rows[0].ProviderPaymentID)

	require.Len(t, env.subRepo.created, 1)
	assert.Equal(t, "user-1", env.subRepo.created[0].UserID)
	assert.Equal(t, "plan-basic", env.subRepo.created[0].PlanID)
}

func TestProcessPaymentSuccessIdempotent(t *testing.T) {
	env := newPaymentTest(t)
	order := env.seedOrder("order-1", "pi_1", 108)
	order.Status = constants.OrderStatusPaid

	result, err := env.uc.ProcessPaymentSuccess(context.Background(), "pi_1", nil)
	require.NoError(t, err)

	assert.True(t, result.AlreadyProcessed)
	assert.Empty(t, env.payRepo.payments["order-1"])
}

func TestProcessPaymentSuccessConcurrentDelivery(t *testing.T) {
	env := newPaymentTest(t)
	env.seedOrder("order-1", "pi_1", 108)
	env.promoRepo.coupons["FRIEND10"] = &Coupon{CouponID: "coupon-1", Code: "FRIEND10", CommissionPercent: 5, Valid: true}
	env.orderRepo.orders["order-1"].ReferralCode = "FRIEND10"
	env.payRepo.forceUnchanged = true

	// 另一次并发投递已落账：本次视为无操作，且不再计佣
	result, err := env.uc.ProcessPaymentSuccess(context.Background(), "pi_1", nil)
	require.NoError(t, err)
	assert.True(t, result.AlreadyProcessed)
	assert.Zero(t, env.promoRepo.conversions["coupon-1"])
}

func TestProcessPaymentSuccessCommitRetry(t *testing.T) {
	env := newPaymentTest(t)
	env.seedOrder("order-1", "pi_1", 108)
	env.subRepo.addUser(&User{UserID: "user-1", Email: "buyer@example.com"})
	env.subRepo.addPlan(&SubscriptionPlan{PlanID: "plan-basic", Name: constants.PlanNameBasic, DurationDays: 30})
	env.payRepo.commitFailures = 1

	result, err := env.uc.ProcessPaymentSuccess(context.Background(), "pi_1", nil)
	require.NoError(t, err)
	assert.False(t, result.AlreadyProcessed)
	assert.Equal(t, constants.OrderStatusPaid, env.orderRepo.orders["order-1"].Status)
}

func TestProcessPaymentSuccessUnknownOrder(t *testing.T) {
	env := newPaymentTest(t)

	_, err := env.uc.ProcessPaymentSuccess(context.Background(), "pi_missing", nil)
	assert.Error(t, err)
}

func TestProcessPaymentSuccessOrderIDHintFallback(t *testing.T) {
	env := newPaymentTest(t)
	// 意向索引缺失，元数据里的 order_id 兜底
	order := env.seedOrder("order-1", "pi_other", 108)
	env.subRepo.addUser(&User{UserID: "user-1", Email: "buyer@example.com"})
	env.subRepo.addPlan(&SubscriptionPlan{PlanID: "plan-basic", Name: constants.PlanNameBasic, DurationDays: 30})

	result, err := env.uc.ProcessPaymentSuccess(context.Background(), "pi_unseen", &SuccessHints{OrderID: order.OrderID})
	require.NoError(t, err)
	assert.Equal(t, "order-1", result.OrderID)
}

func TestProcessPaymentSuccessOrderIDOnlyKeepsIntent(t *testing.T) {
	env := newPaymentTest(t)
	// 只带 order_id 的确认也不能丢提供方关联，流水回退到订单上的意向号
	order := env.seedOrder("order-1", "pi_123", 108)
	env.subRepo.addUser(&User{UserID: "user-1", Email: "buyer@example.com"})
	env.subRepo.addPlan(&SubscriptionPlan{PlanID: "plan-basic", Name: constants.PlanNameBasic, DurationDays: 30})

	_, err := env.uc.ProcessPaymentSuccess(context.Background(), "", &SuccessHints{OrderID: order.OrderID})
	require.NoError(t, err)

	payments := env.payRepo.payments["order-1"]
	require.Len(t, payments, 1)
	assert.Equal(t, "pi_123", payments[0].ProviderPaymentID)
}

func TestProcessPaymentSuccessUserNotResolved(t *testing.T) {
	env := newPaymentTest(t)
	env.seedOrder("order-1", "pi_1", 108)

	_, err := env.uc.ProcessPaymentSuccess(context.Background(), "pi_1", nil)
	assert.Error(t, err)
	// 订单置付不回滚，留给重试时补开订阅
	assert.Equal(t, constants.OrderStatusPaid, env.orderRepo.orders["order-1"].Status)
}

func TestResolveUserPrecedence(t *testing.T) {
	env := newPaymentTest(t)
	order := env.seedOrder("order-1", "pi_1", 108)
	env.subRepo.addUser(&User{UserID: "user-by-email", Email: "buyer@example.com"})
	env.subRepo.usersByID["user-explicit"] = &User{UserID: "user-explicit", Email: "other@example.com"}

	// 显式 user_id 优先于邮箱匹配
	user, err := env.uc.resolveUser(context.Background(), order, &SuccessHints{UserID: "user-explicit"})
	require.NoError(t, err)
	assert.Equal(t, "user-explicit", user.UserID)

	user, err = env.uc.resolveUser(context.Background(), order, nil)
	require.NoError(t, err)
	assert.Equal(t, "user-by-email", user.UserID)
}

func TestResolveUserFuzzyFallback(t *testing.T) {
	env := newPaymentTest(t)
	order := env.seedOrder("order-1", "pi_1", 108)
	env.subRepo.fuzzy["Jane Buyer"] = &User{UserID: "user-fuzzy", Name: "Jane Buyer"}

	user, err := env.uc.resolveUser(context.Background(), order, nil)
	require.NoError(t, err)
	assert.Equal(t, "user-fuzzy", user.UserID)
}

func TestResolvePlanFromItemName(t *testing.T) {
	env := newPaymentTest(t)
	order := env.seedOrder("order-1", "pi_1", 500)
	order.Items[0].Name = "Enterprise Plan (annual)"
	env.subRepo.addPlan(&SubscriptionPlan{PlanID: "plan-ent", Name: constants.PlanNameEnterprise, DurationDays: 365})
	env.subRepo.addPlan(&SubscriptionPlan{PlanID: "plan-basic", Name: constants.PlanNameBasic, DurationDays: 30})

	plan := env.uc.resolvePlan(context.Background(), order, nil)
	require.NotNil(t, plan)
	assert.Equal(t, "plan-ent", plan.PlanID)
}

func TestResolvePlanProAlias(t *testing.T) {
	env := newPaymentTest(t)
	order := env.seedOrder("order-1", "pi_1", 200)
	// pro 简写解析到 professional，不落到 basic 兜底
	order.Items[0].Name = "Pro Plan (monthly)"
	env.subRepo.addPlan(&SubscriptionPlan{PlanID: "plan-pro", Name: constants.PlanNameProfessional, DurationDays: 30})
	env.subRepo.addPlan(&SubscriptionPlan{PlanID: "plan-basic", Name: constants.PlanNameBasic, DurationDays: 30})

	plan := env.uc.resolvePlan(context.Background(), order, nil)
	require.NotNil(t, plan)
	assert.Equal(t, "plan-pro", plan.PlanID)
}

func TestSubscriptionExtension(t *testing.T) {
	env := newPaymentTest(t)
	env.seedOrder("order-1", "pi_1", 108)
	env.subRepo.addUser(&User{UserID: "user-1", Email: "buyer@example.com"})
	env.subRepo.addPlan(&SubscriptionPlan{PlanID: "plan-basic", Name: constants.PlanNameBasic, DurationDays: 30})
	expiry := time.Now().Add(10 * 24 * time.Hour).Truncate(time.Second)
	env.subRepo.active["user-1"] = &UserSubscription{SubscriptionID: "sub-1", UserID: "user-1", ExpiresAt: expiry}

	result, err := env.uc.ProcessPaymentSuccess(context.Background(), "pi_1", nil)
	require.NoError(t, err)

	assert.True(t, result.SubscriptionUpdated)
	assert.False(t, result.UserActivated)
	assert.Empty(t, env.subRepo.created)
	// 续费在现有到期时间上顺延
	assert.Equal(t, expiry.Add(30*24*time.Hour), env.subRepo.extended["sub-1"])
}

func TestProcessPaymentSuccessRecordsConversion(t *testing.T) {
	env := newPaymentTest(t)
	order := env.seedOrder("order-1", "pi_1", 108)
	order.ReferralCode = "FRIEND10"
	env.promoRepo.coupons["FRIEND10"] = &Coupon{CouponID: "coupon-1", Code: "FRIEND10", CommissionPercent: 5, Valid: true}
	env.subRepo.addUser(&User{UserID: "user-1", Email: "buyer@example.com"})
	env.subRepo.addPlan(&SubscriptionPlan{PlanID: "plan-basic", Name: constants.PlanNameBasic, DurationDays: 30})

	_, err := env.uc.ProcessPaymentSuccess(context.Background(), "pi_1", nil)
	require.NoError(t, err)

	assert.Equal(t, 5.4, env.promoRepo.conversions["coupon-1"])
}

func TestRefundPaymentFull(t *testing.T) {
	env := newPaymentTest(t)
	order := env.seedOrder("order-1", "pi_1", 108)
	order.Status = constants.OrderStatusPaid

	result, err := env.uc.RefundPayment(context.Background(), "order-1", 0)
	require.NoError(t, err)

	assert.Equal(t, 108.0, result.RefundAmount)
	assert.Equal(t, "re_test_1", result.ProviderRefund)
	assert.Equal(t, constants.OrderStatusRefunded, env.orderRepo.orders["order-1"].Status)

	rows := env.payRepo.payments["order-1"]
	require.Len(t, rows, 1)
	assert.Equal(t, -108.0, rows[0].Amount)

	require.Len(t, env.provider.refunds, 1)
	assert.Equal(t, int64(10800), env.provider.refunds[0].AmountCents)
}

func TestRefundPaymentPartial(t *testing.T) {
	env := newPaymentTest(t)
	order := env.seedOrder("order-1", "pi_1", 108)
	order.Status = constants.OrderStatusPaid

	result, err := env.uc.RefundPayment(context.Background(), "order-1", 50)
	require.NoError(t, err)
	assert.Equal(t, 50.0, result.RefundAmount)
}

func TestRefundPaymentValidation(t *testing.T) {
	env := newPaymentTest(t)
	order := env.seedOrder("order-1", "pi_1", 108)

	// 未支付不可退
	_, err := env.uc.RefundPayment(context.Background(), "order-1", 0)
	assert.Error(t, err)

	order.Status = constants.OrderStatusPaid
	// 超额不可退
	_, err = env.uc.RefundPayment(context.Background(), "order-1", 200)
	assert.Error(t, err)

	_, err = env.uc.RefundPayment(context.Background(), "order-missing", 0)
	assert.Error(t, err)
}

func TestHandlePaymentIntentFailed(t *testing.T) {
	env := newPaymentTest(t)
	env.seedOrder("order-1", "pi_1", 108)

	err := env.uc.HandlePaymentIntentFailed(context.Background(), "pi_1", "card_declined")
	require.NoError(t, err)

	assert.Equal(t, "card_declined", env.payRepo.failReasons["order-1"])
	assert.Equal(t, constants.PaymentStatusFailed, env.orderRepo.orders["order-1"].PaymentStatus)
}

func TestHandleChargeDisputeAnnotatesOrder(t *testing.T) {
	env := newPaymentTest(t)
	order := env.seedOrder("order-1", "pi_1", 108)
	order.Status = constants.OrderStatusPaid

	err := env.uc.HandleChargeDispute(context.Background(), "ch_1", map[string]string{
		"order_id":     "order-1",
		"order_number": order.OrderNumber,
	})
	require.NoError(t, err)

	// 拒付只做标记，不改支付状态
	assert.Equal(t, constants.OrderStatusPaid, order.Status)
	assert.Equal(t, "ch_1", order.Metadata["dispute_charge_id"])
	assert.NotEmpty(t, order.Metadata["disputed_at"])
}
