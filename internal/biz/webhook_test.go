package biz

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"payment-service/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWebhookRepo struct {
	mu      sync.Mutex
	records map[string]*WebhookRecord
	cutoff  time.Time
}

func newFakeWebhookRepo() *fakeWebhookRepo {
	return &fakeWebhookRepo{records: make(map[string]*WebhookRecord)}
}

func (r *fakeWebhookRepo) InsertProcessing(ctx context.Context, rec *WebhookRecord) (bool, *WebhookRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.records[rec.WebhookID]; ok {
		cp := *existing
		return false, &cp, nil
	}
	cp := *rec
	r.records[rec.WebhookID] = &cp
	return true, nil, nil
}

func (r *fakeWebhookRepo) GetRecord(ctx context.Context, webhookID string) (*WebhookRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[webhookID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (r *fakeWebhookRepo) MarkCompleted(ctx context.Context, webhookID, result string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[webhookID]; ok {
		rec.Status = constants.WebhookStatusCompleted
		rec.Result = result
	}
	return nil
}

func (r *fakeWebhookRepo) MarkFailed(ctx context.Context, webhookID, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[webhookID]; ok {
		rec.Status = constants.WebhookStatusFailed
		rec.ProcessingError = processingError
	}
	return nil
}

func (r *fakeWebhookRepo) UpdateRetryCount(ctx context.Context, webhookID string, retryCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[webhookID]; ok {
		rec.RetryCount = retryCount
	}
	return nil
}

func (r *fakeWebhookRepo) ResetForRetry(ctx context.Context, webhookID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[webhookID]
	if !ok || rec.Status != constants.WebhookStatusFailed {
		return errors.New("not retryable")
	}
	rec.Status = constants.WebhookStatusProcessing
	rec.ProcessingError = ""
	return nil
}

func (r *fakeWebhookRepo) ListDeadLetters(ctx context.Context, limit int) ([]*WebhookRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*WebhookRecord
	for _, rec := range r.records {
		if rec.Status == constants.WebhookStatusFailed {
			cp := *rec
			out = append(out, &cp)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakeWebhookRepo) CountDeadLetters(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, rec := range r.records {
		if rec.Status == constants.WebhookStatusFailed {
			n++
		}
	}
	return n, nil
}

func (r *fakeWebhookRepo) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cutoff = cutoff
	var n int64
	for id, rec := range r.records {
		if rec.Status == constants.WebhookStatusCompleted && rec.CreatedAt.Before(cutoff) {
			delete(r.records, id)
			n++
		}
	}
	return n, nil
}

type fakeRetryQueue struct {
	mu       sync.Mutex
	enabled  bool
	messages []*WebhookRetryMessage
	delays   []time.Duration
}

func (q *fakeRetryQueue) Enqueue(ctx context.Context, msg *WebhookRetryMessage, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, msg)
	q.delays = append(q.delays, delay)
	return nil
}

func (q *fakeRetryQueue) Enabled() bool { return q.enabled }

type fakeEventHandler struct {
	mu            sync.Mutex
	succeededErr  error
	failedErr     error
	disputeErr    error
	succeededMeta map[string]string
	succeeded     int
	failed        int
	disputes      int
}

func (h *fakeEventHandler) HandlePaymentIntentSucceeded(ctx context.Context, intentID string, metadata map[string]string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.succeeded++
	h.succeededMeta = metadata
	return h.succeededErr
}

func (h *fakeEventHandler) HandlePaymentIntentFailed(ctx context.Context, intentID, reason string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failed++
	return h.failedErr
}

func (h *fakeEventHandler) HandleChargeDispute(ctx context.Context, chargeID string, metadata map[string]string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disputes++
	return h.disputeErr
}

type fakeLocker struct {
	denied bool
}

func (l *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if l.denied {
		return nil, errors.New("lock held")
	}
	return func() {}, nil
}

type webhookTestEnv struct {
	uc      *WebhookUseCase
	repo    *fakeWebhookRepo
	queue   *fakeRetryQueue
	handler *fakeEventHandler
	locker  *fakeLocker
}

func newWebhookTest(t *testing.T) *webhookTestEnv {
	t.Helper()
	conf := &PaymentConfig{
		WebhookSecrets:   []string{"whsec_primary"},
		WebhookTolerance: 5 * time.Minute,
		MaxRetryAttempts: 3,
		BackoffSeconds:   []int{1, 5, 15},
		LedgerRetention:  30 * 24 * time.Hour,
	}
	repo := newFakeWebhookRepo()
	queue := &fakeRetryQueue{enabled: true}
	handler := &fakeEventHandler{}
	locker := &fakeLocker{}
	uc := NewWebhookUseCase(repo, queue, handler, locker, conf, newTestAudit(t), log.DefaultLogger)
	return &webhookTestEnv{uc: uc, repo: repo, queue: queue, handler: handler, locker: locker}
}

func signWebhook(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", timestamp, body)
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func successEvent(id string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"type": "payment_intent.succeeded",
		"data": {"object": {"id": "pi_1", "amount": 10800, "currency": "usd",
			"metadata": {"order_id": "order-1"}}}
	}`, id))
}

func TestVerifySignatureValid(t *testing.T) {
	env := newWebhookTest(t)
	body := []byte(`{"id":"evt_1"}`)

	header := signWebhook("whsec_primary", time.Now().Unix(), body)
	assert.NoError(t, env.uc.VerifySignature(header, body))
}

func TestVerifySignatureWrongSecret(t *testing.T) {
	env := newWebhookTest(t)
	body := []byte(`{"id":"evt_1"}`)

	header := signWebhook("whsec_wrong", time.Now().Unix(), body)
	assert.Error(t, env.uc.VerifySignature(header, body))
}

func TestVerifySignatureStaleTimestamp(t *testing.T) {
	env := newWebhookTest(t)
	body := []byte(`{"id":"evt_1"}`)

	// 签名正确但时间戳超窗
	ts := time.Now().Add(-10 * time.Minute).Unix()
	header := signWebhook("whsec_primary", ts, body)
	assert.Error(t, env.uc.VerifySignature(header, body))
}

func TestVerifySignatureMalformedHeader(t *testing.T) {
	env := newWebhookTest(t)
	body := []byte(`{"id":"evt_1"}`)

	assert.Error(t, env.uc.VerifySignature("", body))
	assert.Error(t, env.uc.VerifySignature("t=abc,v1=def", body))
	assert.Error(t, env.uc.VerifySignature("v1=deadbeef", body))
	assert.Error(t, env.uc.VerifySignature(fmt.Sprintf("t=%d", time.Now().Unix()), body))
}

func TestVerifySignatureSecretRotation(t *testing.T) {
	env := newWebhookTest(t)
	env.uc.conf.WebhookSecrets = []string{"whsec_new", "whsec_old"}
	body := []byte(`{"id":"evt_1"}`)

	// 轮换期内新旧密钥都接受
	assert.NoError(t, env.uc.VerifySignature(signWebhook("whsec_new", time.Now().Unix(), body), body))
	assert.NoError(t, env.uc.VerifySignature(signWebhook("whsec_old", time.Now().Unix(), body), body))
}

func TestVerifySignatureMultipleV1Entries(t *testing.T) {
	env := newWebhookTest(t)
	body := []byte(`{"id":"evt_1"}`)
	ts := time.Now().Unix()

	good := signWebhook("whsec_primary", ts, body)
	header := fmt.Sprintf("%s,v1=%s", good, "deadbeef")
	assert.NoError(t, env.uc.VerifySignature(header, body))
}

func TestHandleWebhookSuccess(t *testing.T) {
	env := newWebhookTest(t)
	body := successEvent("evt_1")
	header := signWebhook("whsec_primary", time.Now().Unix(), body)

	outcome, err := env.uc.HandleWebhook(context.Background(), body, header, &WebhookRequestMeta{ClientIP: "203.0.113.9"})
	require.NoError(t, err)

	assert.Equal(t, constants.WebhookResultSuccess, outcome.Status)
	assert.Equal(t, "evt_1", outcome.WebhookID)
	assert.Equal(t, 1, env.handler.succeeded)
	assert.Equal(t, "order-1", env.handler.succeededMeta["order_id"])

	rec := env.repo.records["evt_1"]
	require.NotNil(t, rec)
	assert.Equal(t, constants.WebhookStatusCompleted, rec.Status)
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	env := newWebhookTest(t)
	body := successEvent("evt_1")

	_, err := env.uc.HandleWebhook(context.Background(), body, signWebhook("whsec_wrong", time.Now().Unix(), body), nil)
	assert.Error(t, err)
	assert.Zero(t, env.handler.succeeded)
	assert.Empty(t, env.repo.records)
}

func TestHandleWebhookRejectsBadPayload(t *testing.T) {
	env := newWebhookTest(t)

	for _, body := range [][]byte{
		[]byte(`not json`),
		[]byte(`{"type":"payment_intent.succeeded"}`),
		[]byte(`{"id":"evt_1"}`),
	} {
		header := signWebhook("whsec_primary", time.Now().Unix(), body)
		_, err := env.uc.HandleWebhook(context.Background(), body, header, nil)
		assert.Error(t, err)
	}
}

func TestHandleWebhookDuplicate(t *testing.T) {
	env := newWebhookTest(t)
	body := successEvent("evt_1")
	header := signWebhook("whsec_primary", time.Now().Unix(), body)
	ctx := context.Background()

	_, err := env.uc.HandleWebhook(ctx, body, header, nil)
	require.NoError(t, err)

	outcome, err := env.uc.HandleWebhook(ctx, body, header, nil)
	require.NoError(t, err)
	assert.Equal(t, constants.WebhookResultDuplicate, outcome.Status)
	// 处理器只被调过一次
	assert.Equal(t, 1, env.handler.succeeded)
}

func TestHandleWebhookIgnoresUnknownType(t *testing.T) {
	env := newWebhookTest(t)
	body := []byte(`{"id":"evt_1","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)
	header := signWebhook("whsec_primary", time.Now().Unix(), body)

	outcome, err := env.uc.HandleWebhook(context.Background(), body, header, nil)
	require.NoError(t, err)

	assert.Equal(t, constants.WebhookResultIgnored, outcome.Status)
	assert.Equal(t, constants.WebhookStatusCompleted, env.repo.records["evt_1"].Status)
	assert.Equal(t, constants.WebhookResultIgnored, env.repo.records["evt_1"].Result)
}

func TestHandleWebhookFirstFailureSchedulesRetry(t *testing.T) {
	env := newWebhookTest(t)
	env.handler.succeededErr = errors.New("db down")
	body := successEvent("evt_1")
	header := signWebhook("whsec_primary", time.Now().Unix(), body)

	outcome, err := env.uc.HandleWebhook(context.Background(), body, header, nil)
	require.NoError(t, err)

	// 对提供方返回 accepted，重试由自有队列接管
	assert.Equal(t, "accepted", outcome.Status)
	require.Len(t, env.queue.messages, 1)
	assert.Equal(t, 2, env.queue.messages[0].Attempt)
	assert.Equal(t, 3, env.queue.messages[0].MaxAttempts)
	assert.Equal(t, time.Second, env.queue.delays[0])
	assert.Equal(t, constants.WebhookStatusProcessing, env.repo.records["evt_1"].Status)
}

func TestHandleRetryMessageSucceeds(t *testing.T) {
	env := newWebhookTest(t)
	env.repo.records["evt_1"] = &WebhookRecord{
		WebhookID: "evt_1",
		EventType: constants.EventPaymentIntentSucceeded,
		Status:    constants.WebhookStatusProcessing,
		Payload:   string(successEvent("evt_1")),
	}

	err := env.uc.HandleRetryMessage(context.Background(), &WebhookRetryMessage{WebhookID: "evt_1", Attempt: 2, MaxAttempts: 3})
	require.NoError(t, err)

	assert.Equal(t, constants.WebhookStatusCompleted, env.repo.records["evt_1"].Status)
	assert.Equal(t, 1, env.repo.records["evt_1"].RetryCount)
}

func TestHandleRetryMessageExhaustsToDeadLetter(t *testing.T) {
	env := newWebhookTest(t)
	env.handler.succeededErr = errors.New("db down")
	env.repo.records["evt_1"] = &WebhookRecord{
		WebhookID: "evt_1",
		EventType: constants.EventPaymentIntentSucceeded,
		Status:    constants.WebhookStatusProcessing,
		Payload:   string(successEvent("evt_1")),
	}
	ctx := context.Background()

	// 第 2 次失败：还有预算，安排第 3 次
	require.NoError(t, env.uc.HandleRetryMessage(ctx, &WebhookRetryMessage{WebhookID: "evt_1", Attempt: 2, MaxAttempts: 3}))
	require.Len(t, env.queue.messages, 1)
	assert.Equal(t, 3, env.queue.messages[0].Attempt)
	assert.Equal(t, 5*time.Second, env.queue.delays[0])

	// 第 3 次失败：预算耗尽，进入死信
	require.NoError(t, env.uc.HandleRetryMessage(ctx, env.queue.messages[0]))
	assert.Equal(t, constants.WebhookStatusFailed, env.repo.records["evt_1"].Status)
	assert.Len(t, env.queue.messages, 1)
}

func TestHandleRetryMessageDiscardsCompleted(t *testing.T) {
	env := newWebhookTest(t)
	env.repo.records["evt_1"] = &WebhookRecord{
		WebhookID: "evt_1",
		Status:    constants.WebhookStatusCompleted,
		Payload:   string(successEvent("evt_1")),
	}

	require.NoError(t, env.uc.HandleRetryMessage(context.Background(), &WebhookRetryMessage{WebhookID: "evt_1", Attempt: 2, MaxAttempts: 3}))
	assert.Zero(t, env.handler.succeeded)
}

func TestHandleRetryMessageCorruptPayloadDeadLetters(t *testing.T) {
	env := newWebhookTest(t)
	env.repo.records["evt_1"] = &WebhookRecord{
		WebhookID: "evt_1",
		Status:    constants.WebhookStatusProcessing,
		Payload:   "not json",
	}

	require.NoError(t, env.uc.HandleRetryMessage(context.Background(), &WebhookRetryMessage{WebhookID: "evt_1", Attempt: 2, MaxAttempts: 3}))
	assert.Equal(t, constants.WebhookStatusFailed, env.repo.records["evt_1"].Status)
}

func TestRetryFailedWebhook(t *testing.T) {
	env := newWebhookTest(t)
	env.repo.records["evt_1"] = &WebhookRecord{
		WebhookID: "evt_1",
		EventType: constants.EventPaymentIntentSucceeded,
		Status:    constants.WebhookStatusFailed,
		Payload:   string(successEvent("evt_1")),
	}

	outcome, err := env.uc.RetryFailedWebhook(context.Background(), "evt_1")
	require.NoError(t, err)

	assert.Equal(t, constants.WebhookStatusCompleted, outcome.Status)
	assert.Equal(t, 1, env.handler.succeeded)
}

func TestRetryFailedWebhookRequiresFailedState(t *testing.T) {
	env := newWebhookTest(t)
	env.repo.records["evt_1"] = &WebhookRecord{
		WebhookID: "evt_1",
		Status:    constants.WebhookStatusCompleted,
		Payload:   string(successEvent("evt_1")),
	}

	_, err := env.uc.RetryFailedWebhook(context.Background(), "evt_1")
	assert.Error(t, err)

	_, err = env.uc.RetryFailedWebhook(context.Background(), "evt_missing")
	assert.Error(t, err)
}

func TestRetryFailedWebhookLockedOut(t *testing.T) {
	env := newWebhookTest(t)
	env.locker.denied = true
	env.repo.records["evt_1"] = &WebhookRecord{
		WebhookID: "evt_1",
		Status:    constants.WebhookStatusFailed,
		Payload:   string(successEvent("evt_1")),
	}

	_, err := env.uc.RetryFailedWebhook(context.Background(), "evt_1")
	assert.Error(t, err)
	assert.Zero(t, env.handler.succeeded)
}

func TestRetryFailedWebhookHalfBudget(t *testing.T) {
	env := newWebhookTest(t)
	env.handler.succeededErr = errors.New("still down")
	env.repo.records["evt_1"] = &WebhookRecord{
		WebhookID: "evt_1",
		EventType: constants.EventPaymentIntentSucceeded,
		Status:    constants.WebhookStatusFailed,
		Payload:   string(successEvent("evt_1")),
	}

	// MaxRetryAttempts=3，手工重试预算为 1：第 1 次失败即回到死信
	outcome, err := env.uc.RetryFailedWebhook(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.Equal(t, constants.WebhookStatusFailed, outcome.Status)
	assert.Empty(t, env.queue.messages)
}

func TestDeadLettersAndCount(t *testing.T) {
	env := newWebhookTest(t)
	env.repo.records["evt_1"] = &WebhookRecord{WebhookID: "evt_1", Status: constants.WebhookStatusFailed}
	env.repo.records["evt_2"] = &WebhookRecord{WebhookID: "evt_2", Status: constants.WebhookStatusCompleted}

	letters, err := env.uc.DeadLetters(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "evt_1", letters[0].WebhookID)

	assert.Equal(t, int64(1), env.uc.DeadLetterCount(context.Background()))
}

func TestCleanupLedgerKeepsDeadLetters(t *testing.T) {
	env := newWebhookTest(t)
	old := time.Now().Add(-60 * 24 * time.Hour)
	env.repo.records["evt_old"] = &WebhookRecord{WebhookID: "evt_old", Status: constants.WebhookStatusCompleted, CreatedAt: old}
	env.repo.records["evt_dead"] = &WebhookRecord{WebhookID: "evt_dead", Status: constants.WebhookStatusFailed, CreatedAt: old}
	env.repo.records["evt_new"] = &WebhookRecord{WebhookID: "evt_new", Status: constants.WebhookStatusCompleted, CreatedAt: time.Now()}

	n, err := env.uc.CleanupLedger(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), n)
	assert.NotContains(t, env.repo.records, "evt_old")
	// 死信不在清理范围内
	assert.Contains(t, env.repo.records, "evt_dead")
	assert.Contains(t, env.repo.records, "evt_new")
}
