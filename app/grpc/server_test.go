package grpc

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/lock"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/provider"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/service"
	"github.com/vibast-solutions/ms-go-payment-gateway/config"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type grpcPaymentRepo struct {
	createFn            func(ctx context.Context, payment *entity.Payment) error
	updateFn            func(ctx context.Context, payment *entity.Payment, expected entity.PaymentStatus) error
	findByIDFn          func(ctx context.Context, id uint64) (*entity.Payment, error)
	findByShopOrderIDFn func(ctx context.Context, shopID uint64, orderID string) (*entity.Payment, error)
}

func (r *grpcPaymentRepo) Create(ctx context.Context, payment *entity.Payment) error {
	if r.createFn != nil {
		return r.createFn(ctx, payment)
	}
	return nil
}

func (r *grpcPaymentRepo) Update(ctx context.Context, payment *entity.Payment, expected entity.PaymentStatus) error {
	if r.updateFn != nil {
		return r.updateFn(ctx, payment, expected)
	}
	return nil
}

func (r *grpcPaymentRepo) FindByID(ctx context.Context, id uint64) (*entity.Payment, error) {
	if r.findByIDFn != nil {
		return r.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (r *grpcPaymentRepo) FindByShopOrderID(ctx context.Context, shopID uint64, orderID string) (*entity.Payment, error) {
	if r.findByShopOrderIDFn != nil {
		return r.findByShopOrderIDFn(ctx, shopID, orderID)
	}
	return nil, nil
}

func (r *grpcPaymentRepo) FindByGatewayReference(context.Context, string, string) (*entity.Payment, error) {
	return nil, nil
}

func (r *grpcPaymentRepo) ListForReconcile(context.Context, time.Time, int32) ([]*entity.Payment, error) {
	return []*entity.Payment{}, nil
}

type grpcWebhookLogRepo struct{}

func (r *grpcWebhookLogRepo) Create(context.Context, *entity.WebhookLog) error {
	return nil
}

type grpcProbeJobRepo struct{}

func (r *grpcProbeJobRepo) ListUnreported(context.Context, int32) ([]*entity.ProbeJob, error) {
	return nil, nil
}

func (r *grpcProbeJobRepo) MarkReported(context.Context, uint64, time.Time) error {
	return nil
}

type grpcDispatcher struct {
	calls int
}

func (d *grpcDispatcher) Dispatch(context.Context, *entity.Payment, entity.PaymentStatus) {
	d.calls++
}

func newServerForTest(repo *grpcPaymentRepo) (*Server, *grpcDispatcher) {
	dispatcher := &grpcDispatcher{}
	paymentService := service.NewPaymentService(
		repo,
		&grpcWebhookLogRepo{},
		&grpcProbeJobRepo{},
		provider.NewRegistry(provider.NewSandboxProvider(provider.SandboxConfig{WebhookSecret: "sandbox-secret"})),
		lock.NewKeyed(),
		dispatcher,
		nil,
		nil,
		config.PaymentsConfig{ReconcileStaleAfter: time.Minute, JobBatchSize: 100},
	)
	return NewServer(paymentService), dispatcher
}

func mustStruct(t *testing.T, fields map[string]interface{}) *structpb.Struct {
	t.Helper()
	out, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("build struct: %v", err)
	}
	return out
}

func withRequestID(requestID string) context.Context {
	return context.WithValue(context.Background(), requestIDContextKey{}, requestID)
}

func paidPayment(id uint64) *entity.Payment {
	now := time.Now().UTC()
	return &entity.Payment{
		ID:        id,
		ShopID:    1,
		OrderID:   "order-1",
		Gateway:   provider.GatewaySandbox,
		Amount:    decimal.RequireFromString("10.00"),
		Currency:  "USD",
		Status:    entity.PaymentStatusPaid,
		CreatedAt: now,
		UpdatedAt: now,
		PaidAt:    &now,
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newServerForTest(&grpcPaymentRepo{})
	resp, err := srv.Health(context.Background(), &structpb.Struct{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.GetFields()["status"].GetStringValue() != "ok" {
		t.Fatalf("unexpected health response: %v", resp)
	}
}

func TestCreatePaymentInvalidArgument(t *testing.T) {
	srv, _ := newServerForTest(&grpcPaymentRepo{})
	_, err := srv.CreatePayment(withRequestID("req-1"), mustStruct(t, map[string]interface{}{
		"shop_id":  1,
		"order_id": "o-1",
		"gateway":  "sandbox",
		"amount":   0,
		"currency": "USD",
	}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestCreatePaymentSandboxSuccess(t *testing.T) {
	repo := &grpcPaymentRepo{createFn: func(_ context.Context, payment *entity.Payment) error {
		payment.ID = 31
		return nil
	}}
	srv, dispatcher := newServerForTest(repo)

	resp, err := srv.CreatePayment(withRequestID("req-31"), mustStruct(t, map[string]interface{}{
		"shop_id":  1,
		"order_id": "o-31",
		"gateway":  "sandbox",
		"amount":   "25.50",
		"currency": "eur",
		"card": map[string]interface{}{
			"number":    "4242424242424242",
			"exp_month": "01",
			"exp_year":  "2031",
			"cvv":       "321",
		},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payment := resp.GetFields()["payment"].GetStructValue().GetFields()
	if payment["id"].GetNumberValue() != 31 || payment["status"].GetStringValue() != "PAID" {
		t.Fatalf("unexpected payment: %v", payment)
	}
	if payment["amount"].GetStringValue() != "25.50" || payment["currency"].GetStringValue() != "EUR" {
		t.Fatalf("unexpected payment: %v", payment)
	}
	if _, ok := payment["card_number"]; ok {
		t.Fatal("card number must never be returned")
	}
	if dispatcher.calls != 1 {
		t.Fatalf("expected one dispatch, got %d", dispatcher.calls)
	}
}

func TestCreatePaymentUnsupportedGateway(t *testing.T) {
	srv, _ := newServerForTest(&grpcPaymentRepo{})
	_, err := srv.CreatePayment(withRequestID("req-1"), mustStruct(t, map[string]interface{}{
		"shop_id":  1,
		"order_id": "o-1",
		"gateway":  "paypal",
		"amount":   "10",
		"currency": "USD",
	}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestGetPaymentCodes(t *testing.T) {
	repo := &grpcPaymentRepo{findByIDFn: func(_ context.Context, id uint64) (*entity.Payment, error) {
		if id == 4 {
			return paidPayment(id), nil
		}
		return nil, nil
	}}
	srv, _ := newServerForTest(repo)

	if _, err := srv.GetPayment(context.Background(), mustStruct(t, map[string]interface{}{"id": 0})); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	if _, err := srv.GetPayment(context.Background(), mustStruct(t, map[string]interface{}{"id": 9})); status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}

	resp, err := srv.GetPayment(context.Background(), mustStruct(t, map[string]interface{}{"id": 4}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.GetFields()["payment"].GetStructValue().GetFields()["status"].GetStringValue() != "PAID" {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestChargebackRequiresPaid(t *testing.T) {
	repo := &grpcPaymentRepo{findByIDFn: func(_ context.Context, id uint64) (*entity.Payment, error) {
		payment := paidPayment(id)
		payment.Status = entity.PaymentStatusFailed
		payment.PaidAt = nil
		return payment, nil
	}}
	srv, dispatcher := newServerForTest(repo)

	_, err := srv.Chargeback(context.Background(), mustStruct(t, map[string]interface{}{"id": 3, "reason": "fraud"}))
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition, got %v", err)
	}
	if dispatcher.calls != 0 {
		t.Fatalf("expected no dispatch, got %d", dispatcher.calls)
	}
}

func TestRefundPaidPayment(t *testing.T) {
	repo := &grpcPaymentRepo{findByIDFn: func(_ context.Context, id uint64) (*entity.Payment, error) {
		return paidPayment(id), nil
	}}
	srv, dispatcher := newServerForTest(repo)

	resp, err := srv.Refund(context.Background(), mustStruct(t, map[string]interface{}{"id": 3, "actor": "ops"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.GetFields()["payment"].GetStructValue().GetFields()["status"].GetStringValue() != "REFUND" {
		t.Fatalf("unexpected response: %v", resp)
	}
	if dispatcher.calls != 1 {
		t.Fatalf("expected one dispatch, got %d", dispatcher.calls)
	}
}

func TestHandleProviderEventCodes(t *testing.T) {
	srv, _ := newServerForTest(&grpcPaymentRepo{})

	_, err := srv.HandleProviderEvent(withRequestID("req-1"), mustStruct(t, map[string]interface{}{
		"provider": "unknown",
		"payload":  "{}",
	}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}

	payload := `{"payment_id":"77","status":"paid","final":true}`
	_, err = srv.HandleProviderEvent(withRequestID("req-2"), mustStruct(t, map[string]interface{}{
		"provider": "sandbox",
		"payload":  payload,
	}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument for an unsigned event, got %v", err)
	}

	mac := hmac.New(sha256.New, []byte("sandbox-secret"))
	_, _ = mac.Write([]byte(payload))
	_, err = srv.HandleProviderEvent(withRequestID("req-3"), mustStruct(t, map[string]interface{}{
		"provider":  "sandbox",
		"signature": hex.EncodeToString(mac.Sum(nil)),
		"payload":   payload,
	}))
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestServiceDescRoutesThroughInterceptor(t *testing.T) {
	srv, _ := newServerForTest(&grpcPaymentRepo{})

	var handler grpc.MethodHandler
	for _, method := range ServiceDesc.Methods {
		if method.MethodName == "Health" {
			handler = method.Handler
		}
	}
	if handler == nil {
		t.Fatal("Health method not registered")
	}

	var seen string
	interceptor := func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (interface{}, error) {
		seen = info.FullMethod
		return next(ctx, req)
	}
	dec := func(v interface{}) error { return nil }

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(requestIDHeader, "req-1"))
	resp, err := handler(srv, ctx, dec, interceptor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != "/gateway.PaymentGateway/Health" {
		t.Fatalf("unexpected full method %q", seen)
	}
	if resp.(*structpb.Struct).GetFields()["status"].GetStringValue() != "ok" {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestServiceDescMatchesProtoContract(t *testing.T) {
	contract, err := os.ReadFile("../../proto/payment_gateway.proto")
	if err != nil {
		t.Fatalf("read contract: %v", err)
	}

	pkg := regexp.MustCompile(`(?m)^package (\w+);`).FindSubmatch(contract)
	svc := regexp.MustCompile(`(?m)^service (\w+) \{`).FindSubmatch(contract)
	if pkg == nil || svc == nil {
		t.Fatal("contract is missing package or service")
	}
	if name := string(pkg[1]) + "." + string(svc[1]); name != ServiceDesc.ServiceName {
		t.Fatalf("contract names %q, ServiceDesc names %q", name, ServiceDesc.ServiceName)
	}

	rpcs := regexp.MustCompile(`rpc (\w+)\(google\.protobuf\.Struct\) returns \(google\.protobuf\.Struct\);`).FindAllSubmatch(contract, -1)
	if len(rpcs) != len(ServiceDesc.Methods) {
		t.Fatalf("contract declares %d rpcs, ServiceDesc has %d methods", len(rpcs), len(ServiceDesc.Methods))
	}
	for i, rpc := range rpcs {
		if got := ServiceDesc.Methods[i].MethodName; got != string(rpc[1]) {
			t.Fatalf("method %d: contract %q, ServiceDesc %q", i, rpc[1], got)
		}
	}
}
