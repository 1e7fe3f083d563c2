package biz

import (
	"context"
	"html"
	"math"
	"regexp"
	"strings"

	payErrors "payment-service/internal/errors"
	"payment-service/internal/metrics"

	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	"github.com/go-kratos/kratos/v2/log"
)

var (
	emailPattern = regexp.MustCompile(`^[\w.+-]+@[\w.-]+\.\w{2,}$`)
	namePattern  = regexp.MustCompile(`^[\p{L}\d '.\-]{2,100}$`)
	phonePattern = regexp.MustCompile(`^\+?\d{10,15}$`)
	ctrlPattern  = regexp.MustCompile("[\x00-\x1f\x7f]")
)

// RawOrderItem 未净化的订单项输入
type RawOrderItem struct {
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Quantity    int     `json:"quantity"`
	Description string  `json:"description"`
}

// RawPaymentData 未净化的下单输入
type RawPaymentData struct {
	CustomerEmail   string         `json:"customer_email"`
	CustomerName    string         `json:"customer_name"`
	CustomerPhone   string         `json:"customer_phone"`
	Items           []RawOrderItem `json:"items"`
	PromotionCode   string         `json:"promotion_code"`
	ReferralCode    string         `json:"referral_code"`
	UserID          string         `json:"user_id"`
	PaymentMethodID string         `json:"payment_method_id"`
}

// CleanOrderItem 净化后的订单项
type CleanOrderItem struct {
	Name        string
	Price       float64
	Quantity    int
	Description string
}

// CleanPaymentData 净化后的下单数据，是进入业务逻辑前的唯一入口
type CleanPaymentData struct {
	CustomerEmail   string
	CustomerName    string
	CustomerPhone   string
	Items           []CleanOrderItem
	PromotionCode   string
	ReferralCode    string
	UserID          string
	PaymentMethodID string
}

// SanitizeUseCase 输入净化服务
// 所有支付字段必须先经 SanitizePaymentData + ValidateSanitizedData 再进业务
type SanitizeUseCase struct {
	log     *log.Helper
	metrics *metrics.PaymentMetrics
}

// NewSanitizeUseCase 创建输入净化 UseCase
func NewSanitizeUseCase(logger log.Logger) *SanitizeUseCase {
	return &SanitizeUseCase{
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
}

// SanitizeString 去控制字符、HTML 转义、去首尾空白并截断
func (uc *SanitizeUseCase) SanitizeString(s string, maxLen int) string {
	s = ctrlPattern.ReplaceAllString(s, "")
	s = strings.TrimSpace(html.EscapeString(s))
	if maxLen > 0 && len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// SanitizeEmail 校验并归一化邮箱（小写）
func (uc *SanitizeUseCase) SanitizeEmail(email string) (string, bool) {
	email = strings.ToLower(strings.TrimSpace(email))
	if len(email) > 255 || !emailPattern.MatchString(email) {
		return "", false
	}
	return email, true
}

// SanitizeName 校验姓名：字母/数字/空格/连字符/撇号/句点，2–100 字符
func (uc *SanitizeUseCase) SanitizeName(name string) (string, bool) {
	name = strings.TrimSpace(ctrlPattern.ReplaceAllString(name, ""))
	if !namePattern.MatchString(name) {
		return "", false
	}
	return name, true
}

// SanitizePhone 只保留数字与前导 +，要求 10–15 位数字
func (uc *SanitizeUseCase) SanitizePhone(phone string) (string, bool) {
	var b strings.Builder
	for i, r := range phone {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if !phonePattern.MatchString(cleaned) {
		return "", false
	}
	return cleaned, true
}

// SanitizeAmount 金额校验：[0, 100000]，四舍五入保留两位
func (uc *SanitizeUseCase) SanitizeAmount(amount float64) (float64, bool) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, false
	}
	if amount < 0 || amount > 100000 {
		return 0, false
	}
	return Round2(amount), true
}

// SanitizeInteger 带边界检查的整数校验
func (uc *SanitizeUseCase) SanitizeInteger(v, min, max int) (int, bool) {
	if v < min || v > max {
		return 0, false
	}
	return v, true
}

// SanitizePaymentData 净化下单输入
// 单个订单项名称/价格不合法时丢弃该项而不是整单失败
func (uc *SanitizeUseCase) SanitizePaymentData(raw *RawPaymentData) *CleanPaymentData {
	clean := &CleanPaymentData{}

	if email, ok := uc.SanitizeEmail(raw.CustomerEmail); ok {
		clean.CustomerEmail = email
	}
	if name, ok := uc.SanitizeName(raw.CustomerName); ok {
		clean.CustomerName = name
	}
	if raw.CustomerPhone != "" {
		if phone, ok := uc.SanitizePhone(raw.CustomerPhone); ok {
			clean.CustomerPhone = phone
		}
	}

	for _, item := range raw.Items {
		name := uc.SanitizeString(item.Name, 255)
		price, priceOK := uc.SanitizeAmount(item.Price)
		if name == "" || !priceOK {
			if uc.metrics != nil {
				uc.metrics.SanitizeDropsTotal.Inc()
			}
			uc.log.Warnf("dropping invalid order item: name=%q", item.Name)
			continue
		}
		qty, ok := uc.SanitizeInteger(item.Quantity, 1, 1000)
		if !ok {
			qty = 1
		}
		clean.Items = append(clean.Items, CleanOrderItem{
			Name:        name,
			Price:       price,
			Quantity:    qty,
			Description: uc.SanitizeString(item.Description, 500),
		})
	}

	// 可选字段只做长度截断
	clean.PromotionCode = uc.SanitizeString(raw.PromotionCode, 64)
	clean.ReferralCode = uc.SanitizeString(raw.ReferralCode, 64)
	clean.UserID = uc.SanitizeString(raw.UserID, 36)
	clean.PaymentMethodID = uc.SanitizeString(raw.PaymentMethodID, 64)

	return clean
}

// ValidateSanitizedData 业务前的唯一闸门：邮箱、姓名非空且至少一个正价订单项
func (uc *SanitizeUseCase) ValidateSanitizedData(ctx context.Context, clean *CleanPaymentData) error {
	if clean.CustomerEmail == "" || clean.CustomerName == "" {
		return pkgErrors.NewBizErrorWithLang(ctx, payErrors.ErrCodeInvalidInput)
	}
	for _, item := range clean.Items {
		if item.Price > 0 {
			return nil
		}
	}
	return pkgErrors.NewBizErrorWithLang(ctx, payErrors.ErrCodeOrderItemsEmpty)
}

// Round2 金额四舍五入到两位小数
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
