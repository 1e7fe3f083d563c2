package biz

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"payment-service/internal/constants"
	payErrors "payment-service/internal/errors"
	"payment-service/internal/metrics"

	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// csrfEntry CSRF 令牌存储项
type csrfEntry struct {
	createdAt time.Time
	used      bool
	ip        string
}

// CsrfUseCase CSRF 防伪令牌服务
// 令牌格式：random(32字节hex):client_ip:unix_ts:hmac_sha256
// 单次使用；绑定签发 IP；进程内存储（令牌与签发进程绑定，跨进程状态走 Redis 的只有限流与幂等缓存）
type CsrfUseCase struct {
	mu      sync.Mutex
	store   map[string]*csrfEntry
	byIP    map[string][]string // 按签发顺序记录，用于按 IP 上限淘汰最旧令牌
	conf    *PaymentConfig
	audit   *AuditUseCase
	log     *log.Helper
	metrics *metrics.PaymentMetrics
	now     func() time.Time
}

// NewCsrfUseCase 创建 CSRF UseCase
func NewCsrfUseCase(conf *PaymentConfig, audit *AuditUseCase, logger log.Logger) *CsrfUseCase {
	return &CsrfUseCase{
		store:   make(map[string]*csrfEntry),
		byIP:    make(map[string][]string),
		conf:    conf,
		audit:   audit,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
		now:     time.Now,
	}
}

// GenerateToken 为客户端 IP 签发一个单次使用令牌
// 同一 IP 超过上限时淘汰最旧的存活令牌
func (uc *CsrfUseCase) GenerateToken(ctx context.Context, clientIP string) (string, error) {
	clientIP = normalizeIP(clientIP)

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", pkgErrors.WrapErrorWithLang(ctx, err, payErrors.ErrCodeCsrfInvalid)
	}

	now := uc.now()
	data := fmt.Sprintf("%s:%s:%d", hex.EncodeToString(buf), clientIP, now.Unix())
	sig := uc.sign(data)
	token := data + ":" + sig

	uc.mu.Lock()
	defer uc.mu.Unlock()

	// 按 IP 上限淘汰最旧令牌
	live := uc.byIP[clientIP]
	for len(live) >= uc.conf.CsrfPerIPLimit {
		oldest := live[0]
		live = live[1:]
		delete(uc.store, oldest)
	}
	uc.store[token] = &csrfEntry{createdAt: now, ip: clientIP}
	uc.byIP[clientIP] = append(live, token)

	if uc.metrics != nil {
		uc.metrics.CsrfIssuedTotal.Inc()
	}
	return token, nil
}

// ValidateToken 校验并消费令牌（单次使用）
// 失败原因各自独立编码便于精确审计，但调用方对客户端统一返回 403
func (uc *CsrfUseCase) ValidateToken(ctx context.Context, token, clientIP string) error {
	clientIP = normalizeIP(clientIP)

	// IPv6 地址自身含冒号，从右侧取签名与时间戳
	parts := strings.Split(token, ":")
	if len(parts) < 4 {
		return uc.reject(ctx, "invalid", clientIP, payErrors.ErrCodeCsrfInvalid)
	}
	sig := parts[len(parts)-1]
	data := strings.Join(parts[:len(parts)-1], ":")
	if !hmac.Equal([]byte(uc.sign(data)), []byte(sig)) {
		return uc.reject(ctx, "invalid", clientIP, payErrors.ErrCodeCsrfInvalid)
	}

	createdUnix, err := strconv.ParseInt(parts[len(parts)-2], 10, 64)
	if err != nil {
		return uc.reject(ctx, "invalid", clientIP, payErrors.ErrCodeCsrfInvalid)
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	entry, ok := uc.store[token]
	if !ok {
		return uc.reject(ctx, "invalid", clientIP, payErrors.ErrCodeCsrfInvalid)
	}

	if uc.now().Sub(time.Unix(createdUnix, 0)) > uc.conf.CsrfTTL {
		uc.purgeLocked(token, entry.ip)
		return uc.reject(ctx, "expired", clientIP, payErrors.ErrCodeCsrfExpired)
	}

	if entry.used {
		uc.purgeLocked(token, entry.ip)
		return uc.reject(ctx, "used", clientIP, payErrors.ErrCodeCsrfAlreadyUsed)
	}

	if entry.ip != clientIP && !(isLoopback(entry.ip) && isLoopback(clientIP)) {
		return uc.reject(ctx, "ip_mismatch", clientIP, payErrors.ErrCodeCsrfIpMismatch)
	}

	entry.used = true
	return nil
}

func (uc *CsrfUseCase) sign(data string) string {
	mac := hmac.New(sha256.New, []byte(uc.conf.ServerSecret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func (uc *CsrfUseCase) reject(ctx context.Context, reason, clientIP string, code int32) error {
	if uc.metrics != nil {
		uc.metrics.CsrfRejectedTotal.WithLabelValues(reason).Inc()
	}
	uc.audit.RecordRejection(ctx, constants.AuditEventCsrfRejected, reason, clientIP)
	return pkgErrors.NewBizErrorWithLang(ctx, code)
}

// purgeLocked 移除令牌（调用方需持有锁）
func (uc *CsrfUseCase) purgeLocked(token, ip string) {
	delete(uc.store, token)
	live := uc.byIP[ip]
	for i, t := range live {
		if t == token {
			uc.byIP[ip] = append(live[:i], live[i+1:]...)
			break
		}
	}
}

// normalizeIP 去掉端口与方括号，环回地址统一为 IPv4 环回
func normalizeIP(ip string) string {
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	ip = strings.Trim(ip, "[]")
	if parsed := net.ParseIP(ip); parsed != nil && parsed.IsLoopback() {
		return "127.0.0.1"
	}
	return ip
}

func isLoopback(ip string) bool {
	return ip == "127.0.0.1" || ip == "localhost"
}
