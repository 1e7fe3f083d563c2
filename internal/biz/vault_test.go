package biz

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"payment-service/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokenVaultRepo struct {
	mu      sync.Mutex
	records map[string]*PaymentTokenRecord
	expired int64
}

func newFakeTokenVaultRepo() *fakeTokenVaultRepo {
	return &fakeTokenVaultRepo{records: make(map[string]*PaymentTokenRecord)}
}

func (r *fakeTokenVaultRepo) SaveToken(ctx context.Context, rec *PaymentTokenRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.records[rec.Token] = &cp
	return nil
}

func (r *fakeTokenVaultRepo) GetToken(ctx context.Context, token string) (*PaymentTokenRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[token]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (r *fakeTokenVaultRepo) RevokeToken(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[token]; ok {
		rec.Revoked = true
	}
	return nil
}

func (r *fakeTokenVaultRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for token, rec := range r.records {
		if now.After(rec.ExpiresAt) {
			delete(r.records, token)
			n++
		}
	}
	r.expired += n
	return n, nil
}

func newVaultTest(t *testing.T) (*VaultUseCase, *fakeTokenVaultRepo) {
	t.Helper()
	conf := &PaymentConfig{
		VaultMasterKey:   "test-master-key",
		TokenTTL:         time.Hour,
		Pbkdf2Iterations: 1000, // 测试用低迭代数
	}
	repo := newFakeTokenVaultRepo()
	uc, err := NewVaultUseCase(repo, conf, newTestAudit(t), log.DefaultLogger)
	require.NoError(t, err)
	return uc, repo
}

func TestTokenizeRoundTrip(t *testing.T) {
	uc, repo := newVaultTest(t)
	ctx := context.Background()

	card := &CardData{Number: "4242 4242 4242 4242", CVV: "123", ExpiryMonth: 12, ExpiryYear: 2030, CardholderName: "Jane Buyer"}
	tokenized, err := uc.Tokenize(ctx, card)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(tokenized.CardToken, constants.CardTokenPrefix))
	assert.Equal(t, "****4242", tokenized.MaskedCard)
	assert.Equal(t, constants.CardTypeVisa, tokenized.CardType)

	// 库中不存在明文卡号
	rec := repo.records[tokenized.CardToken]
	require.NotNil(t, rec)
	assert.NotContains(t, rec.EncryptedData, "4242424242424242")

	plain, err := uc.GetTokenData(ctx, tokenized.CardToken)
	require.NoError(t, err)
	assert.Equal(t, "4242424242424242", plain)
}

func TestTokenizeRejectsInvalidCard(t *testing.T) {
	uc, _ := newVaultTest(t)
	ctx := context.Background()

	_, err := uc.Tokenize(ctx, &CardData{Number: "4242424242424241"}) // Luhn 不通过
	assert.Error(t, err)

	_, err = uc.Tokenize(ctx, &CardData{Number: "42"})
	assert.Error(t, err)
}

func TestTokensAreOpaque(t *testing.T) {
	uc, _ := newVaultTest(t)
	ctx := context.Background()

	card := &CardData{Number: "4242424242424242", ExpiryMonth: 12, ExpiryYear: 2030}
	a, err := uc.Tokenize(ctx, card)
	require.NoError(t, err)
	b, err := uc.Tokenize(ctx, card)
	require.NoError(t, err)

	// 同一张卡两次令牌化产生不同令牌，令牌与卡号无推导关系
	assert.NotEqual(t, a.CardToken, b.CardToken)
}

func TestGetTokenDataExpiredRevokes(t *testing.T) {
	uc, repo := newVaultTest(t)
	ctx := context.Background()

	tokenized, err := uc.Tokenize(ctx, &CardData{Number: "4242424242424242"})
	require.NoError(t, err)

	repo.mu.Lock()
	repo.records[tokenized.CardToken].ExpiresAt = time.Now().Add(-time.Minute)
	repo.mu.Unlock()

	_, err = uc.GetTokenData(ctx, tokenized.CardToken)
	assert.Error(t, err)
	assert.True(t, repo.records[tokenized.CardToken].Revoked)

	// 吊销后即使重置过期时间也取不回
	_, err = uc.GetTokenData(ctx, tokenized.CardToken)
	assert.Error(t, err)
}

func TestProcessPaymentAuthorizationCVV(t *testing.T) {
	uc, _ := newVaultTest(t)
	ctx := context.Background()

	_, err := uc.ProcessPaymentAuthorization(ctx, &CardData{Number: "4242424242424242", CVV: "123"})
	assert.NoError(t, err)

	_, err = uc.ProcessPaymentAuthorization(ctx, &CardData{Number: "4242424242424242", CVV: "12"})
	assert.Error(t, err)

	// Amex 要求 4 位
	_, err = uc.ProcessPaymentAuthorization(ctx, &CardData{Number: "378282246310005", CVV: "123"})
	assert.Error(t, err)
	_, err = uc.ProcessPaymentAuthorization(ctx, &CardData{Number: "378282246310005", CVV: "1234"})
	assert.NoError(t, err)
}

func TestValidateCVV(t *testing.T) {
	uc, _ := newVaultTest(t)

	assert.True(t, uc.ValidateCVV("123", constants.CardTypeVisa))
	assert.True(t, uc.ValidateCVV("1234", constants.CardTypeAmex))
	assert.False(t, uc.ValidateCVV("1234", constants.CardTypeVisa))
	assert.False(t, uc.ValidateCVV("123", constants.CardTypeAmex))
	assert.False(t, uc.ValidateCVV("12a", constants.CardTypeVisa))
}

func TestDetectCardType(t *testing.T) {
	cases := []struct {
		number string
		want   string
	}{
		{"4242424242424242", constants.CardTypeVisa},
		{"5555555555554444", constants.CardTypeMastercard},
		{"378282246310005", constants.CardTypeAmex},
		{"6011111111111117", constants.CardTypeDiscover},
		{"9999999999999999", constants.CardTypeUnknown},
		{"", constants.CardTypeUnknown},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, DetectCardType(c.number), c.number)
	}
}

func TestLuhnValid(t *testing.T) {
	assert.True(t, LuhnValid("4242424242424242"))
	assert.True(t, LuhnValid("378282246310005"))
	assert.False(t, LuhnValid("4242424242424241"))
	assert.False(t, LuhnValid("42424242424242ab"))
}

func TestCleanupExpiredTokens(t *testing.T) {
	uc, repo := newVaultTest(t)
	ctx := context.Background()

	live, err := uc.Tokenize(ctx, &CardData{Number: "4242424242424242"})
	require.NoError(t, err)
	dead, err := uc.Tokenize(ctx, &CardData{Number: "5555555555554444"})
	require.NoError(t, err)

	repo.mu.Lock()
	repo.records[dead.CardToken].ExpiresAt = time.Now().Add(-time.Minute)
	repo.mu.Unlock()

	n, err := uc.CleanupExpiredTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Contains(t, repo.records, live.CardToken)
	assert.NotContains(t, repo.records, dead.CardToken)
}
