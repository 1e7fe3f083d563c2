package biz

import (
	"context"
	"strings"
	"testing"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSanitizeTest() *SanitizeUseCase {
	return NewSanitizeUseCase(log.DefaultLogger)
}

func TestSanitizeEmail(t *testing.T) {
	uc := newSanitizeTest()

	email, ok := uc.SanitizeEmail("  User@Example.COM ")
	require.True(t, ok)
	assert.Equal(t, "user@example.com", email)

	_, ok = uc.SanitizeEmail("not-an-email")
	assert.False(t, ok)

	_, ok = uc.SanitizeEmail("a@b")
	assert.False(t, ok)

	_, ok = uc.SanitizeEmail(strings.Repeat("a", 250) + "@example.com")
	assert.False(t, ok)
}

func TestSanitizeName(t *testing.T) {
	uc := newSanitizeTest()

	name, ok := uc.SanitizeName("  O'Brien-Smith Jr. ")
	require.True(t, ok)
	assert.Equal(t, "O'Brien-Smith Jr.", name)

	_, ok = uc.SanitizeName("x")
	assert.False(t, ok)

	_, ok = uc.SanitizeName("<script>alert(1)</script>")
	assert.False(t, ok)
}

func TestSanitizePhone(t *testing.T) {
	uc := newSanitizeTest()

	phone, ok := uc.SanitizePhone("+1 (415) 555-0199")
	require.True(t, ok)
	assert.Equal(t, "+14155550199", phone)

	_, ok = uc.SanitizePhone("12345")
	assert.False(t, ok)
}

func TestSanitizeString(t *testing.T) {
	uc := newSanitizeTest()

	assert.Equal(t, "&lt;b&gt;bold&lt;/b&gt;", uc.SanitizeString("<b>bold</b>", 0))
	assert.Equal(t, "abc", uc.SanitizeString("a\x00b\x1fc", 0))
	assert.Equal(t, "abc", uc.SanitizeString("abcdef", 3))
}

func TestSanitizeAmount(t *testing.T) {
	uc := newSanitizeTest()

	v, ok := uc.SanitizeAmount(19.999)
	require.True(t, ok)
	assert.Equal(t, 20.0, v)

	_, ok = uc.SanitizeAmount(-1)
	assert.False(t, ok)

	_, ok = uc.SanitizeAmount(100001)
	assert.False(t, ok)
}

func TestSanitizePaymentDataDropsInvalidItems(t *testing.T) {
	uc := newSanitizeTest()

	clean := uc.SanitizePaymentData(&RawPaymentData{
		CustomerEmail: "buyer@example.com",
		CustomerName:  "Jane Buyer",
		Items: []RawOrderItem{
			{Name: "Pro Plan", Price: 49.99, Quantity: 1},
			{Name: "", Price: 10},
			{Name: "Bad Price", Price: -5},
			{Name: "Weird Qty", Price: 5, Quantity: 9999},
		},
	})

	require.Len(t, clean.Items, 2)
	assert.Equal(t, "Pro Plan", clean.Items[0].Name)
	// 数量越界回退为 1，而不是丢弃整个订单项
	assert.Equal(t, 1, clean.Items[1].Quantity)
}

func TestValidateSanitizedData(t *testing.T) {
	uc := newSanitizeTest()
	ctx := context.Background()

	err := uc.ValidateSanitizedData(ctx, &CleanPaymentData{CustomerName: "Jane"})
	assert.Error(t, err)

	err = uc.ValidateSanitizedData(ctx, &CleanPaymentData{
		CustomerEmail: "buyer@example.com",
		CustomerName:  "Jane",
		Items:         []CleanOrderItem{{Name: "Free", Price: 0}},
	})
	assert.Error(t, err)

	err = uc.ValidateSanitizedData(ctx, &CleanPaymentData{
		CustomerEmail: "buyer@example.com",
		CustomerName:  "Jane",
		Items:         []CleanOrderItem{{Name: "Pro Plan", Price: 49.99}},
	})
	assert.NoError(t, err)
}
