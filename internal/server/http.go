package server

import (
	"io"
	"net/http"
	"strconv"

	"payment-service/internal/conf"
	"payment-service/internal/service"

	"github.com/go-kratos/kratos/v2/middleware/recovery"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewHTTPServer 创建 HTTP 服务器并注册 /payments 路由
func NewHTTPServer(
	c *conf.Bootstrap,
	paymentSvc *service.PaymentService,
	webhookSvc *service.WebhookService,
	securitySvc *service.SecurityService,
) *khttp.Server {
	var opts = []khttp.ServerOption{
		khttp.Middleware(
			recovery.Recovery(),
		),
	}
	if c.Server != nil && c.Server.Http != nil {
		if c.Server.Http.Network != "" {
			opts = append(opts, khttp.Network(c.Server.Http.Network))
		}
		if c.Server.Http.Addr != "" {
			opts = append(opts, khttp.Address(c.Server.Http.Addr))
		}
		if d := c.Server.Http.Timeout.AsDuration(); d > 0 {
			opts = append(opts, khttp.Timeout(d))
		}
	}
	srv := khttp.NewServer(opts...)

	registerPaymentRoutes(srv, paymentSvc, webhookSvc, securitySvc)

	srv.Handle("/metrics", promhttp.Handler())
	srv.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return srv
}

// registerPaymentRoutes /payments 下的全部业务路由
func registerPaymentRoutes(
	srv *khttp.Server,
	paymentSvc *service.PaymentService,
	webhookSvc *service.WebhookService,
	securitySvc *service.SecurityService,
) {
	route := srv.Route("/payments")

	// CSRF 令牌签发
	route.GET("/csrf-token", func(ctx khttp.Context) error {
		reply, err := securitySvc.CsrfToken(ctx, clientIP(ctx))
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	// 下单
	route.POST("/create-order", func(ctx khttp.Context) error {
		var req service.CreateOrderRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		reply, err := paymentSvc.CreateOrder(ctx, &req, clientIP(ctx))
		if err != nil {
			return err
		}
		return ctx.Result(201, reply)
	})

	// 前端支付完成确认（签名校验）
	route.POST("/payment-success", func(ctx khttp.Context) error {
		var req service.PaymentSuccessRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		reply, err := paymentSvc.PaymentSuccess(ctx, &req, clientIP(ctx))
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	// 订单查询
	route.GET("/orders/{order_id}", func(ctx khttp.Context) error {
		var in struct {
			OrderID string `json:"order_id"`
		}
		if err := ctx.BindVars(&in); err != nil {
			return err
		}
		reply, err := paymentSvc.GetOrder(ctx, in.OrderID)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	// 退款
	route.POST("/refund", func(ctx khttp.Context) error {
		var req service.RefundRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		reply, err := paymentSvc.Refund(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	// 卡授权（令牌化）
	route.POST("/authorize", func(ctx khttp.Context) error {
		var req service.AuthorizeRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		reply, err := paymentSvc.Authorize(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	// 促销码校验（公开，限流）
	route.POST("/validate-promotion", func(ctx khttp.Context) error {
		var req service.ValidateCodeRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		reply, err := securitySvc.ValidatePromotion(ctx, &req, clientIP(ctx))
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	// 推荐码校验（公开，限流）
	route.POST("/validate-referral", func(ctx khttp.Context) error {
		var req service.ValidateCodeRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		reply, err := securitySvc.ValidateReferral(ctx, &req, clientIP(ctx))
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	// 入站 webhook：签名对原始请求体计算，必须在反序列化之前读取
	route.POST("/webhook", func(ctx khttp.Context) error {
		body, err := io.ReadAll(ctx.Request().Body)
		if err != nil {
			return err
		}
		sigHeader := ctx.Header().Get("X-Provider-Signature")
		reply, err := webhookSvc.HandleWebhook(ctx, body, sigHeader, clientIP(ctx), ctx.Header().Get("User-Agent"))
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	// 死信列表（运维）
	route.GET("/webhooks/dead-letter", func(ctx khttp.Context) error {
		limit, _ := strconv.Atoi(ctx.Query().Get("limit"))
		reply, err := webhookSvc.DeadLetters(ctx, limit)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	// 死信手工重试（运维）
	route.POST("/webhooks/{webhook_id}/retry", func(ctx khttp.Context) error {
		var req service.RetryWebhookRequest
		if err := ctx.BindVars(&req); err != nil {
			return err
		}
		reply, err := webhookSvc.RetryWebhook(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	// 监控看板（运维）
	route.GET("/monitoring/dashboard", func(ctx khttp.Context) error {
		reply, err := paymentSvc.Dashboard(ctx)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	// PCI 日志合规扫描（运维）
	route.POST("/compliance-scan", func(ctx khttp.Context) error {
		reply, err := securitySvc.ComplianceScan(ctx)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})
}

// clientIP 取客户端 IP：代理头优先，回退到连接对端地址
func clientIP(ctx khttp.Context) string {
	r := ctx.Request()
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		for i := 0; i < len(ip); i++ {
			if ip[i] == ',' {
				return ip[:i]
			}
		}
		return ip
	}
	return r.RemoteAddr
}
