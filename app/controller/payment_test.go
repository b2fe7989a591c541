package controller

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/lock"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/provider"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/service"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/types"
	"github.com/vibast-solutions/ms-go-payment-gateway/config"
)

type controllerPaymentRepo struct {
	createFn                 func(ctx context.Context, payment *entity.Payment) error
	updateFn                 func(ctx context.Context, payment *entity.Payment, expected entity.PaymentStatus) error
	findByIDFn               func(ctx context.Context, id uint64) (*entity.Payment, error)
	findByShopOrderIDFn      func(ctx context.Context, shopID uint64, orderID string) (*entity.Payment, error)
	findByGatewayReferenceFn func(ctx context.Context, gateway, reference string) (*entity.Payment, error)
}

func (r *controllerPaymentRepo) Create(ctx context.Context, payment *entity.Payment) error {
	if r.createFn != nil {
		return r.createFn(ctx, payment)
	}
	return nil
}

func (r *controllerPaymentRepo) Update(ctx context.Context, payment *entity.Payment, expected entity.PaymentStatus) error {
	if r.updateFn != nil {
		return r.updateFn(ctx, payment, expected)
	}
	return nil
}

func (r *controllerPaymentRepo) FindByID(ctx context.Context, id uint64) (*entity.Payment, error) {
	if r.findByIDFn != nil {
		return r.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (r *controllerPaymentRepo) FindByShopOrderID(ctx context.Context, shopID uint64, orderID string) (*entity.Payment, error) {
	if r.findByShopOrderIDFn != nil {
		return r.findByShopOrderIDFn(ctx, shopID, orderID)
	}
	return nil, nil
}

func (r *controllerPaymentRepo) FindByGatewayReference(ctx context.Context, gateway, reference string) (*entity.Payment, error) {
	if r.findByGatewayReferenceFn != nil {
		return r.findByGatewayReferenceFn(ctx, gateway, reference)
	}
	return nil, nil
}

func (r *controllerPaymentRepo) ListForReconcile(context.Context, time.Time, int32) ([]*entity.Payment, error) {
	return []*entity.Payment{}, nil
}

type controllerWebhookLogRepo struct{}

func (r *controllerWebhookLogRepo) Create(context.Context, *entity.WebhookLog) error {
	return nil
}

type controllerProbeJobRepo struct{}

func (r *controllerProbeJobRepo) ListUnreported(context.Context, int32) ([]*entity.ProbeJob, error) {
	return nil, nil
}

func (r *controllerProbeJobRepo) MarkReported(context.Context, uint64, time.Time) error {
	return nil
}

type controllerDispatcher struct {
	calls int
}

func (d *controllerDispatcher) Dispatch(context.Context, *entity.Payment, entity.PaymentStatus) {
	d.calls++
}

func newControllerForTest(repo *controllerPaymentRepo) (*PaymentController, *controllerDispatcher) {
	dispatcher := &controllerDispatcher{}
	paymentService := service.NewPaymentService(
		repo,
		&controllerWebhookLogRepo{},
		&controllerProbeJobRepo{},
		provider.NewRegistry(provider.NewSandboxProvider(provider.SandboxConfig{WebhookSecret: sandboxSecret})),
		lock.NewKeyed(),
		dispatcher,
		nil,
		nil,
		config.PaymentsConfig{ReconcileStaleAfter: time.Minute, JobBatchSize: 100},
	)
	return NewPaymentController(paymentService), dispatcher
}

const sandboxSecret = "sandbox-secret"

func sandboxEventRequest(body string, signed bool) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/providers/sandbox", bytes.NewBufferString(body))
	if signed {
		mac := hmac.New(sha256.New, []byte(sandboxSecret))
		_, _ = mac.Write([]byte(body))
		req.Header.Set("X-Provider-Signature", hex.EncodeToString(mac.Sum(nil)))
	}
	return req
}

func paidPayment(id uint64) *entity.Payment {
	now := time.Now().UTC()
	return &entity.Payment{
		ID:        id,
		ShopID:    1,
		OrderID:   "order-1",
		Gateway:   "sandbox",
		Amount:    decimal.RequireFromString("10.00"),
		Currency:  "USD",
		Status:    entity.PaymentStatusPaid,
		CreatedAt: now,
		UpdatedAt: now,
		PaidAt:    &now,
	}
}

func TestCreatePaymentBadBody(t *testing.T) {
	ctrl, _ := newControllerForTest(&controllerPaymentRepo{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/payments", bytes.NewBufferString("{bad"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	if err := ctrl.CreatePayment(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreatePaymentValidationError(t *testing.T) {
	ctrl, _ := newControllerForTest(&controllerPaymentRepo{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/payments", bytes.NewBufferString(`{"shop_id":1,"order_id":"o-1","gateway":"sandbox","amount":"0","currency":"USD"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderXRequestID, "req-1")
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	_ = ctrl.CreatePayment(ctx)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var payload types.ErrorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &payload)
	if payload.Error != "amount must be > 0" {
		t.Fatalf("unexpected error message %q", payload.Error)
	}
}

func TestCreatePaymentSandboxSuccess(t *testing.T) {
	repo := &controllerPaymentRepo{createFn: func(_ context.Context, payment *entity.Payment) error {
		payment.ID = 22
		return nil
	}}
	ctrl, dispatcher := newControllerForTest(repo)
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/payments", bytes.NewBufferString(`{"shop_id":1,"order_id":"o-22","gateway":"sandbox","amount":"10.00","currency":"usd","card":{"number":"4242424242424242","exp_month":"12","exp_year":"2030","cvv":"123"}}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderXRequestID, "req-22")
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	_ = ctrl.CreatePayment(ctx)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rec.Code, rec.Body.String())
	}

	var payload types.PaymentEnvelopeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if payload.Payment == nil || payload.Payment.Id != 22 || payload.Payment.Status != "PAID" {
		t.Fatalf("unexpected payment payload: %+v", payload.Payment)
	}
	if payload.Payment.CardLast4 != "4242" || payload.Payment.Currency != "USD" {
		t.Fatalf("unexpected payment payload: %+v", payload.Payment)
	}
	if dispatcher.calls != 1 {
		t.Fatalf("expected one dispatch, got %d", dispatcher.calls)
	}
}

func TestCreatePaymentUnsupportedGateway(t *testing.T) {
	ctrl, _ := newControllerForTest(&controllerPaymentRepo{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/payments", bytes.NewBufferString(`{"shop_id":1,"order_id":"o-1","gateway":"paypal","amount":"10","currency":"USD"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderXRequestID, "req-1")
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	_ = ctrl.CreatePayment(ctx)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetPaymentNotFound(t *testing.T) {
	ctrl, _ := newControllerForTest(&controllerPaymentRepo{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/payments/9", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("9")

	_ = ctrl.GetPayment(ctx)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRefundPaidPayment(t *testing.T) {
	var updatedExpected entity.PaymentStatus
	repo := &controllerPaymentRepo{
		findByIDFn: func(_ context.Context, id uint64) (*entity.Payment, error) {
			return paidPayment(id), nil
		},
		updateFn: func(_ context.Context, _ *entity.Payment, expected entity.PaymentStatus) error {
			updatedExpected = expected
			return nil
		},
	}
	ctrl, dispatcher := newControllerForTest(repo)
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/payments/5/refund", bytes.NewBufferString(`{"reason":"duplicate"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("5")

	_ = ctrl.Refund(ctx)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if updatedExpected != entity.PaymentStatusPaid {
		t.Fatalf("expected conditional update on PAID, got %s", updatedExpected)
	}
	if dispatcher.calls != 1 {
		t.Fatalf("expected one dispatch, got %d", dispatcher.calls)
	}
}

func TestChargebackPendingPaymentConflict(t *testing.T) {
	repo := &controllerPaymentRepo{findByIDFn: func(_ context.Context, id uint64) (*entity.Payment, error) {
		payment := paidPayment(id)
		payment.Status = entity.PaymentStatusPending
		payment.PaidAt = nil
		return payment, nil
	}}
	ctrl, _ := newControllerForTest(repo)
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/payments/5/chargeback", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("5")

	_ = ctrl.Chargeback(ctx)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandleProviderEvent(t *testing.T) {
	pending := paidPayment(7)
	pending.Status = entity.PaymentStatusPending
	pending.PaidAt = nil
	repo := &controllerPaymentRepo{
		findByIDFn: func(_ context.Context, id uint64) (*entity.Payment, error) {
			if id != 7 {
				return nil, nil
			}
			copyItem := *pending
			return &copyItem, nil
		},
	}
	ctrl, dispatcher := newControllerForTest(repo)
	e := echo.New()

	rec := httptest.NewRecorder()
	ctx := e.NewContext(sandboxEventRequest(`{"payment_id":"7","status":"paid","final":true}`, false), rec)
	ctx.SetParamNames("provider")
	ctx.SetParamValues("sandbox")

	_ = ctrl.HandleProviderEvent(ctx)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unsigned event, got %d", rec.Code)
	}
	if dispatcher.calls != 0 {
		t.Fatalf("unsigned event must not dispatch, got %d", dispatcher.calls)
	}

	rec = httptest.NewRecorder()
	ctx = e.NewContext(sandboxEventRequest(`{"payment_id":"7","status":"paid","final":true}`, true), rec)
	ctx.SetParamNames("provider")
	ctx.SetParamValues("sandbox")

	_ = ctrl.HandleProviderEvent(ctx)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if dispatcher.calls != 1 {
		t.Fatalf("expected one dispatch, got %d", dispatcher.calls)
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/providers/unknown", bytes.NewBufferString(`{}`))
	rec = httptest.NewRecorder()
	ctx = e.NewContext(req, rec)
	ctx.SetParamNames("provider")
	ctx.SetParamValues("unknown")

	_ = ctrl.HandleProviderEvent(ctx)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	ctx = e.NewContext(sandboxEventRequest(`{"payment_id":"99","status":"paid","final":true}`, true), rec)
	ctx.SetParamNames("provider")
	ctx.SetParamValues("sandbox")

	_ = ctrl.HandleProviderEvent(ctx)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	ctrl, _ := newControllerForTest(&controllerPaymentRepo{})
	e := echo.New()
	rec := httptest.NewRecorder()
	ctx := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)

	_ = ctrl.Health(ctx)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
