package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/provider"
)

func TestRunReconcileBatchSettlesStalePayments(t *testing.T) {
	f := newServiceFixture()

	first, err := f.svc.CreatePayment(context.Background(), createRequest("fakegate", "order-r1", "4242424242424242"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Sandbox payments settle immediately and have no status check.
	if _, err := f.svc.CreatePayment(context.Background(), createRequest("sandbox", "order-r2", "4242424242424242")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.gateway.checkFn = func(reference string) (*provider.Outcome, error) {
		if reference != "ref-1" {
			t.Errorf("unexpected reference %s", reference)
		}
		return &provider.Outcome{Status: entity.PaymentStatusExpired, Final: true}, nil
	}

	if err := f.svc.RunReconcileBatch(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.payments.status(first.ID) != entity.PaymentStatusExpired {
		t.Fatalf("expected EXPIRED, got %s", f.payments.status(first.ID))
	}
	if f.gateway.checks != 1 {
		t.Fatalf("expected one status check, got %d", f.gateway.checks)
	}
}

func TestRunReconcileBatchKeepsFirstError(t *testing.T) {
	f := newServiceFixture()
	for _, order := range []string{"order-e1", "order-e2"} {
		if _, err := f.svc.CreatePayment(context.Background(), createRequest("fakegate", order, "4242424242424242")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	f.gateway.checkFn = func(string) (*provider.Outcome, error) {
		return nil, provider.ErrTransport
	}

	err := f.svc.RunReconcileBatch(context.Background())
	if !errors.Is(err, ErrGatewayCommunication) {
		t.Fatalf("expected ErrGatewayCommunication, got %v", err)
	}
	if f.gateway.checks != 2 {
		t.Fatalf("expected every payment to be checked, got %d", f.gateway.checks)
	}
}

func TestProbePaymentReportsErrorsWithoutSettling(t *testing.T) {
	f := newServiceFixture()
	payment, err := f.svc.CreatePayment(context.Background(), createRequest("fakegate", "order-p1", "4242424242424242"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.gateway.checkFn = func(string) (*provider.Outcome, error) {
		return nil, errors.New("timeout")
	}
	final, err := f.svc.ProbePayment(context.Background(), entity.ProbeJob{PaymentID: payment.ID, Gateway: "fakegate", Reference: "ref-1"})
	if final || !errors.Is(err, ErrGatewayCommunication) {
		t.Fatalf("expected non-final gateway error, got %v %v", final, err)
	}

	final, err = f.svc.ProbePayment(context.Background(), entity.ProbeJob{PaymentID: 999, Gateway: "fakegate", Reference: "ref-x"})
	if err != nil || !final {
		t.Fatalf("missing payment should end probing, got %v %v", final, err)
	}
}

func TestReportExhaustedProbes(t *testing.T) {
	f := newServiceFixture()
	f.probeJobs.jobs = []*entity.ProbeJob{
		{PaymentID: 1, Gateway: "cardgate", Reference: "555", Attempts: 24, Exhausted: true, ArmedAt: time.Now()},
		{PaymentID: 2, Gateway: "cardgate", Reference: "556", Attempts: 24, Exhausted: true, ArmedAt: time.Now()},
	}

	if err := f.svc.ReportExhaustedProbes(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.alerter.texts) != 2 {
		t.Fatalf("expected two alerts, got %d", len(f.alerter.texts))
	}
	if len(f.probeJobs.reported) != 2 {
		t.Fatalf("expected two jobs marked reported, got %v", f.probeJobs.reported)
	}
}

func TestReportExhaustedProbesRetriesFailedAlerts(t *testing.T) {
	f := newServiceFixture()
	f.alerter.err = errors.New("telegram down")
	f.probeJobs.jobs = []*entity.ProbeJob{{PaymentID: 1, Gateway: "cardgate", Attempts: 24, Exhausted: true}}

	if err := f.svc.ReportExhaustedProbes(context.Background()); err == nil {
		t.Fatal("expected alert error")
	}
	if len(f.probeJobs.reported) != 0 {
		t.Fatal("job must stay unreported when the alert fails")
	}
}

func TestReportExhaustedProbesSkipsSettledPayments(t *testing.T) {
	f := newServiceFixture()
	settled := &entity.Payment{ShopID: 1, OrderID: "order-settled", Gateway: "cardgate", Status: entity.PaymentStatusPaid}
	_ = f.payments.Create(context.Background(), settled)
	pending := &entity.Payment{ShopID: 1, OrderID: "order-pending", Gateway: "cardgate", Status: entity.PaymentStatusPending}
	_ = f.payments.Create(context.Background(), pending)
	f.probeJobs.jobs = []*entity.ProbeJob{
		{PaymentID: settled.ID, Gateway: "cardgate", Attempts: 24, Exhausted: true},
		{PaymentID: pending.ID, Gateway: "cardgate", Attempts: 24, Exhausted: true},
	}

	if err := f.svc.ReportExhaustedProbes(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.alerter.texts) != 1 {
		t.Fatalf("expected one alert for the pending payment, got %d", len(f.alerter.texts))
	}
	if len(f.probeJobs.reported) != 2 {
		t.Fatalf("expected both jobs marked reported, got %v", f.probeJobs.reported)
	}
}
