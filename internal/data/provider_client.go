package data

import (
	"context"
	"fmt"

	"payment-service/internal/biz"
	"payment-service/internal/conf"
	payErrors "payment-service/internal/errors"

	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
)

// paymentProviderClient 外部支付处理方 HTTP 客户端（实现 biz.PaymentProvider）
type paymentProviderClient struct {
	client *khttp.Client
	apiKey string
	log    *log.Helper
}

// NewPaymentProviderClient 创建支付处理方客户端
func NewPaymentProviderClient(c *conf.Bootstrap, logger log.Logger) (biz.PaymentProvider, error) {
	if c.Payment == nil || c.Payment.Provider == nil || c.Payment.Provider.Endpoint == "" {
		return nil, pkgErrors.NewBizErrorWithLang(context.Background(), payErrors.ErrCodeProviderUnavailable)
	}
	p := c.Payment.Provider

	client, err := khttp.NewClient(
		context.Background(),
		khttp.WithEndpoint(p.Endpoint),
		khttp.WithTimeout(p.Timeout.AsDuration()),
		khttp.WithMiddleware(
			recovery.Recovery(),
		),
	)
	if err != nil {
		return nil, pkgErrors.WrapErrorWithLang(context.Background(), err, payErrors.ErrCodeProviderUnavailable)
	}

	return &paymentProviderClient{
		client: client,
		apiKey: p.ApiKey,
		log:    log.NewHelper(logger),
	}, nil
}

// intentRequest 创建意向的线上请求体
type intentRequest struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata"`
	APIKey      string            `json:"api_key"`
}

// intentReply 创建意向的线上响应体
type intentReply struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

// CreateIntent 创建支付意向（实现 biz.PaymentProvider 接口）
func (c *paymentProviderClient) CreateIntent(ctx context.Context, req *biz.CreateIntentRequest) (*biz.CreateIntentReply, error) {
	var resp intentReply
	err := c.client.Invoke(ctx, "POST", "/v1/payment_intents", &intentRequest{
		Amount:      req.AmountCents,
		Currency:    req.Currency,
		Description: req.Description,
		Metadata:    req.Metadata,
		APIKey:      c.apiKey,
	}, &resp)
	if err != nil {
		c.log.Errorf("CreateIntent failed: %v", err)
		return nil, pkgErrors.WrapErrorWithLang(ctx, err, payErrors.ErrCodeIntentCreateFailed)
	}

	c.log.Infof("CreateIntent success: intent_id=%s, status=%s", resp.ID, resp.Status)
	return &biz.CreateIntentReply{
		IntentID:     resp.ID,
		ClientSecret: resp.ClientSecret,
		Status:       resp.Status,
	}, nil
}

// refundRequest 退款的线上请求体
type refundRequest struct {
	PaymentIntent string `json:"payment_intent"`
	Amount        int64  `json:"amount,omitempty"`
	Reason        string `json:"reason,omitempty"`
	APIKey        string `json:"api_key"`
}

// refundReply 退款的线上响应体
type refundReply struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CreateRefund 发起退款（实现 biz.PaymentProvider 接口）
func (c *paymentProviderClient) CreateRefund(ctx context.Context, req *biz.CreateRefundRequest) (*biz.CreateRefundReply, error) {
	var resp refundReply
	err := c.client.Invoke(ctx, "POST", "/v1/refunds", &refundRequest{
		PaymentIntent: req.IntentID,
		Amount:        req.AmountCents,
		Reason:        req.Reason,
		APIKey:        c.apiKey,
	}, &resp)
	if err != nil {
		c.log.Errorf("CreateRefund failed: intent=%s, error=%v", req.IntentID, err)
		return nil, fmt.Errorf("create refund: %w", err)
	}

	c.log.Infof("CreateRefund success: refund_id=%s, status=%s", resp.ID, resp.Status)
	return &biz.CreateRefundReply{
		RefundID: resp.ID,
		Status:   resp.Status,
	}, nil
}
