package biz

import "context"

// PaymentProvider 外部支付处理方客户端接口
type PaymentProvider interface {
	// CreateIntent 创建支付意向，金额以最小货币单位（分）计
	CreateIntent(ctx context.Context, req *CreateIntentRequest) (*CreateIntentReply, error)
	// CreateRefund 对一笔意向发起退款，金额以分计，0 表示全额
	CreateRefund(ctx context.Context, req *CreateRefundRequest) (*CreateRefundReply, error)
}

// CreateIntentRequest 创建支付意向请求
type CreateIntentRequest struct {
	AmountCents int64             // 金额（分）
	Currency    string
	Description string
	Metadata    map[string]string // 订单号等关联信息，回调时用于对账
}

// CreateIntentReply 创建支付意向响应
type CreateIntentReply struct {
	IntentID     string
	ClientSecret string
	Status       string
}

// CreateRefundRequest 退款请求
type CreateRefundRequest struct {
	IntentID    string
	AmountCents int64
	Reason      string
}

// CreateRefundReply 退款响应
type CreateRefundReply struct {
	RefundID string
	Status   string
}
