package biz

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"payment-service/internal/constants"
	payErrors "payment-service/internal/errors"
	"payment-service/internal/metrics"

	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/crypto/pbkdf2"
)

// vaultKeySalt 保险库密钥派生的应用盐（固定值，密钥来自配置的主密钥）
const vaultKeySalt = "payment-vault-v1"

// CardData 原始卡数据，仅在授权请求的生命周期内存在
// CVV 校验后即丢弃：不入库、不写日志
type CardData struct {
	Number         string
	CVV            string
	ExpiryMonth    int
	ExpiryYear     int
	CardholderName string
}

// TokenizedCard 令牌化结果，全部为非敏感字段
type TokenizedCard struct {
	CardToken      string `json:"card_token"`
	MaskedCard     string `json:"masked_card"`
	CardType       string `json:"card_type"`
	ExpiryMonth    int    `json:"expiry_month"`
	ExpiryYear     int    `json:"expiry_year"`
	CardholderName string `json:"cardholder_name"`
}

// PaymentTokenRecord 保险库条目领域对象
type PaymentTokenRecord struct {
	Token         string
	TokenType     string
	EncryptedData string
	MaskedValue   string
	CardType      string
	ExpiryMonth   int
	ExpiryYear    int
	Revoked       bool
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// TokenVaultRepo 保险库数据层接口（定义在 biz 层）
type TokenVaultRepo interface {
	SaveToken(ctx context.Context, rec *PaymentTokenRecord) error
	GetToken(ctx context.Context, token string) (*PaymentTokenRecord, error)
	RevokeToken(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// VaultUseCase PCI 令牌化服务
// 令牌为随机不透明串（与卡号无推导关系，防关联攻击）；
// 原文经 PBKDF2-HMAC-SHA256 派生密钥 + AES-GCM 加密后入库
type VaultUseCase struct {
	repo    TokenVaultRepo
	conf    *PaymentConfig
	audit   *AuditUseCase
	log     *log.Helper
	metrics *metrics.PaymentMetrics
	aead    cipher.AEAD
}

// NewVaultUseCase 创建保险库 UseCase
func NewVaultUseCase(repo TokenVaultRepo, conf *PaymentConfig, audit *AuditUseCase, logger log.Logger) (*VaultUseCase, error) {
	key := pbkdf2.Key([]byte(conf.VaultMasterKey), []byte(vaultKeySalt), conf.Pbkdf2Iterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &VaultUseCase{
		repo:    repo,
		conf:    conf,
		audit:   audit,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
		aead:    aead,
	}, nil
}

// Tokenize 将卡数据转换为非敏感令牌，保险库保留加密原文
func (uc *VaultUseCase) Tokenize(ctx context.Context, card *CardData) (*TokenizedCard, error) {
	number := strings.ReplaceAll(card.Number, " ", "")
	if len(number) < 13 || len(number) > 19 || !LuhnValid(number) {
		return nil, pkgErrors.NewBizErrorWithLang(ctx, payErrors.ErrCodeCardInvalid)
	}

	cardType := DetectCardType(number)

	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return nil, pkgErrors.WrapErrorWithLang(ctx, err, payErrors.ErrCodeEncryptFailed)
	}
	token := constants.CardTokenPrefix + hex.EncodeToString(buf)

	encrypted, err := uc.encrypt(number)
	if err != nil {
		return nil, pkgErrors.WrapErrorWithLang(ctx, err, payErrors.ErrCodeEncryptFailed)
	}

	now := time.Now()
	rec := &PaymentTokenRecord{
		Token:         token,
		TokenType:     constants.TokenTypeCard,
		EncryptedData: encrypted,
		MaskedValue:   "****" + number[len(number)-4:],
		CardType:      cardType,
		ExpiryMonth:   card.ExpiryMonth,
		ExpiryYear:    card.ExpiryYear,
		CreatedAt:     now,
		ExpiresAt:     now.Add(uc.conf.TokenTTL),
	}
	if err := uc.repo.SaveToken(ctx, rec); err != nil {
		return nil, pkgErrors.WrapErrorWithLang(ctx, err, payErrors.ErrCodeEncryptFailed)
	}

	if uc.metrics != nil {
		uc.metrics.TokenIssuedTotal.Inc()
	}
	uc.audit.Record(ctx, constants.AuditEventTokenIssued, constants.AuditOutcomeSuccess, map[string]interface{}{
		"token_type":  constants.TokenTypeCard,
		"card_type":   cardType,
		"masked_card": rec.MaskedValue,
	})

	return &TokenizedCard{
		CardToken:      token,
		MaskedCard:     rec.MaskedValue,
		CardType:       cardType,
		ExpiryMonth:    card.ExpiryMonth,
		ExpiryYear:     card.ExpiryYear,
		CardholderName: card.CardholderName,
	}, nil
}

// ProcessPaymentAuthorization 令牌化 + CVV 校验
// CVV 只参与校验，随后随请求一起被丢弃
func (uc *VaultUseCase) ProcessPaymentAuthorization(ctx context.Context, card *CardData) (*TokenizedCard, error) {
	tokenized, err := uc.Tokenize(ctx, card)
	if err != nil {
		return nil, err
	}
	if !uc.ValidateCVV(card.CVV, tokenized.CardType) {
		return nil, pkgErrors.NewBizErrorWithLang(ctx, payErrors.ErrCodeCvvInvalid)
	}
	return tokenized, nil
}

// GetTokenData 取回令牌对应的原文；过期则吊销并返回空
func (uc *VaultUseCase) GetTokenData(ctx context.Context, token string) (string, error) {
	rec, err := uc.repo.GetToken(ctx, token)
	if err != nil {
		return "", err
	}
	if rec == nil || rec.Revoked {
		return "", pkgErrors.NewBizErrorWithLang(ctx, payErrors.ErrCodeTokenNotFound)
	}
	if time.Now().After(rec.ExpiresAt) {
		if err := uc.repo.RevokeToken(ctx, token); err != nil {
			uc.log.Warnf("revoke expired token failed: %v", err)
		}
		return "", pkgErrors.NewBizErrorWithLang(ctx, payErrors.ErrCodeTokenExpired)
	}
	plain, err := uc.decrypt(rec.EncryptedData)
	if err != nil {
		return "", pkgErrors.WrapErrorWithLang(ctx, err, payErrors.ErrCodeDecryptFailed)
	}
	return plain, nil
}

// ValidateCVV 校验 CVV：Amex 4 位，其余 3 位，纯数字
func (uc *VaultUseCase) ValidateCVV(cvv, cardType string) bool {
	want := 3
	if cardType == constants.CardTypeAmex {
		want = 4
	}
	if len(cvv) != want {
		return false
	}
	for _, r := range cvv {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// CleanupExpiredTokens 清理过期令牌（cron 定时调用）
func (uc *VaultUseCase) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	n, err := uc.repo.DeleteExpired(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 && uc.metrics != nil {
		uc.metrics.TokenExpiredTotal.Add(float64(n))
	}
	return n, nil
}

// encrypt AES-GCM 加密，返回 base64(nonce || ciphertext)
func (uc *VaultUseCase) encrypt(plain string) (string, error) {
	nonce := make([]byte, uc.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := uc.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// decrypt encrypt 的逆操作
func (uc *VaultUseCase) decrypt(blob string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", err
	}
	ns := uc.aead.NonceSize()
	if len(raw) < ns {
		return "", fmt.Errorf("ciphertext too short")
	}
	plain, err := uc.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// DetectCardType 按 BIN 前缀识别卡品牌
// Visa 4, Mastercard 51–55, Amex 34/37, Discover 6
func DetectCardType(number string) string {
	if number == "" {
		return constants.CardTypeUnknown
	}
	switch {
	case number[0] == '4':
		return constants.CardTypeVisa
	case len(number) >= 2 && number[0] == '5' && number[1] >= '1' && number[1] <= '5':
		return constants.CardTypeMastercard
	case len(number) >= 2 && number[0] == '3' && (number[1] == '4' || number[1] == '7'):
		return constants.CardTypeAmex
	case number[0] == '6':
		return constants.CardTypeDiscover
	default:
		return constants.CardTypeUnknown
	}
}

// LuhnValid Luhn 校验
func LuhnValid(number string) bool {
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		c := number[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
