package repository

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open(DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	if err := EnsureSchema(context.Background(), db, DriverSQLite); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return db
}

func strPtr(v string) *string { return &v }

func newPayment(shopID uint64, orderID string) *entity.Payment {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &entity.Payment{
		ShopID:        shopID,
		OrderID:       orderID,
		Gateway:       "cardgate",
		Amount:        decimal.RequireFromString("25.50"),
		Currency:      "USD",
		Status:        entity.PaymentStatusPending,
		PaymentMethod: "card",
		CardLast4:     strPtr("4242"),
		CustomerEmail: strPtr("buyer@example.com"),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestPaymentCreateAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewPaymentRepository(openTestDB(t))

	payment := newPayment(1, "order-1")
	if err := repo.Create(ctx, payment); err != nil {
		t.Fatalf("create: %v", err)
	}
	if payment.ID == 0 {
		t.Fatal("expected id to be assigned")
	}

	found, err := repo.FindByID(ctx, payment.ID)
	if err != nil || found == nil {
		t.Fatalf("find: %v %v", found, err)
	}
	if !found.Amount.Equal(decimal.RequireFromString("25.5")) {
		t.Fatalf("unexpected amount %s", found.Amount)
	}
	if found.Status != entity.PaymentStatusPending || *found.CardLast4 != "4242" || found.GatewayPaymentID != nil {
		t.Fatalf("unexpected payment %+v", found)
	}

	byOrder, err := repo.FindByShopOrderID(ctx, 1, "order-1")
	if err != nil || byOrder == nil || byOrder.ID != payment.ID {
		t.Fatalf("find by order: %v %v", byOrder, err)
	}

	missing, err := repo.FindByID(ctx, 999)
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing payment, got %v %v", missing, err)
	}
}

func TestPaymentCreateDuplicateOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewPaymentRepository(openTestDB(t))

	if err := repo.Create(ctx, newPayment(1, "order-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, newPayment(1, "order-1")); !errors.Is(err, ErrPaymentAlreadyExists) {
		t.Fatalf("expected ErrPaymentAlreadyExists, got %v", err)
	}
	if err := repo.Create(ctx, newPayment(2, "order-1")); err != nil {
		t.Fatalf("same order id on another shop should be allowed: %v", err)
	}
}

func TestPaymentConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewPaymentRepository(openTestDB(t))

	payment := newPayment(1, "order-1")
	if err := repo.Create(ctx, payment); err != nil {
		t.Fatalf("create: %v", err)
	}

	paid := *payment
	paid.Status = entity.PaymentStatusPaid
	paid.GatewayPaymentID = strPtr("cg-1")
	now := time.Now().UTC()
	paid.PaidAt = &now
	if err := repo.Update(ctx, &paid, entity.PaymentStatusPending); err != nil {
		t.Fatalf("update: %v", err)
	}

	failed := *payment
	failed.Status = entity.PaymentStatusFailed
	if err := repo.Update(ctx, &failed, entity.PaymentStatusPending); !errors.Is(err, ErrStaleWrite) {
		t.Fatalf("expected ErrStaleWrite, got %v", err)
	}

	stored, _ := repo.FindByID(ctx, payment.ID)
	if stored.Status != entity.PaymentStatusPaid || stored.PaidAt == nil {
		t.Fatalf("expected the first write to win, got %+v", stored)
	}

	byRef, err := repo.FindByGatewayReference(ctx, "cardgate", "cg-1")
	if err != nil || byRef == nil || byRef.ID != payment.ID {
		t.Fatalf("find by reference: %v %v", byRef, err)
	}

	ghost := *payment
	ghost.ID = 999
	if err := repo.Update(ctx, &ghost, entity.PaymentStatusPending); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}

func TestListForReconcileSkipsProbedPayments(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	payments := NewPaymentRepository(db)
	jobs := NewProbeJobRepository(db)

	old := time.Now().UTC().Add(-time.Hour)
	create := func(order string, status entity.PaymentStatus, ref *string) *entity.Payment {
		p := newPayment(1, order)
		p.Status = status
		p.GatewayPaymentID = ref
		p.UpdatedAt = old
		if err := payments.Create(ctx, p); err != nil {
			t.Fatalf("create %s: %v", order, err)
		}
		return p
	}

	stale := create("stale", entity.PaymentStatusPending, strPtr("a"))
	probed := create("probed", entity.PaymentStatusPending, strPtr("b"))
	create("no-ref", entity.PaymentStatusPending, nil)
	create("paid", entity.PaymentStatusPaid, strPtr("c"))

	if err := jobs.Save(ctx, &entity.ProbeJob{PaymentID: probed.ID, Gateway: "cardgate", Reference: "b", NextFireAt: old, ArmedAt: old}); err != nil {
		t.Fatalf("save job: %v", err)
	}

	items, err := payments.ListForReconcile(ctx, time.Now().UTC().Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].ID != stale.ID {
		t.Fatalf("expected only the stale payment, got %d items", len(items))
	}
}

func TestPaymentLinkIncrementMulti(t *testing.T) {
	ctx := context.Background()
	repo := NewPaymentLinkRepository(openTestDB(t))

	now := time.Now().UTC()
	link := &entity.PaymentLink{ShopID: 1, Type: entity.PaymentLinkTypeMulti, Status: entity.PaymentLinkStatusActive, CurrentPayments: 3, CreatedAt: now, UpdatedAt: now}
	if err := repo.Create(ctx, link); err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repo.IncrementUsage(ctx, link.ID, time.Now().UTC()); err != nil {
				t.Errorf("increment: %v", err)
			}
		}()
	}
	wg.Wait()

	stored, err := repo.FindByID(ctx, link.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.CurrentPayments != 5 || stored.Status != entity.PaymentLinkStatusActive {
		t.Fatalf("expected 5 payments and ACTIVE, got %d %s", stored.CurrentPayments, stored.Status)
	}
}

func TestPaymentLinkIncrementSingleCompletes(t *testing.T) {
	ctx := context.Background()
	repo := NewPaymentLinkRepository(openTestDB(t))

	now := time.Now().UTC()
	link := &entity.PaymentLink{ShopID: 1, Type: entity.PaymentLinkTypeSingle, Status: entity.PaymentLinkStatusActive, CreatedAt: now, UpdatedAt: now}
	if err := repo.Create(ctx, link); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.IncrementUsage(ctx, link.ID, now); err != nil {
		t.Fatalf("increment: %v", err)
	}

	stored, _ := repo.FindByID(ctx, link.ID)
	if stored.CurrentPayments != 1 || stored.Status != entity.PaymentLinkStatusCompleted {
		t.Fatalf("expected 1 payment and COMPLETED, got %d %s", stored.CurrentPayments, stored.Status)
	}

	if err := repo.IncrementUsage(ctx, 999, now); !errors.Is(err, ErrPaymentLinkNotFound) {
		t.Fatalf("expected ErrPaymentLinkNotFound, got %v", err)
	}
}

func TestShopEvents(t *testing.T) {
	ctx := context.Background()
	repo := NewShopRepository(openTestDB(t))

	shop := &entity.Shop{Name: "Demo", WebhookURL: "https://shop.example.com/hook", WebhookSecret: "s", WebhookEvents: []string{"payment.success"}}
	if err := repo.Create(ctx, shop); err != nil {
		t.Fatalf("create: %v", err)
	}

	stored, err := repo.FindByID(ctx, shop.ID)
	if err != nil || stored == nil {
		t.Fatalf("find: %v %v", stored, err)
	}
	if !stored.EventEnabled("payment.success") || stored.EventEnabled("payment.failed") {
		t.Fatalf("unexpected events %v", stored.WebhookEvents)
	}
}

func TestWebhookLogAppend(t *testing.T) {
	ctx := context.Background()
	repo := NewWebhookLogRepository(openTestDB(t))

	code := int32(200)
	entries := []*entity.WebhookLog{
		{PaymentID: 1, ShopID: 1, Event: "payment.success", Direction: entity.WebhookDirectionInternal, CreatedAt: time.Now().UTC()},
		{PaymentID: 1, ShopID: 1, Event: "payment.success", Direction: entity.WebhookDirectionOutbound, ResponseCode: &code, ResponseBody: strPtr("ok"), CreatedAt: time.Now().UTC()},
	}
	for _, entry := range entries {
		if err := repo.Create(ctx, entry); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	logs, err := repo.ListByPayment(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 2 || logs[0].ResponseCode != nil || *logs[1].ResponseCode != 200 {
		t.Fatalf("unexpected logs %+v", logs)
	}
}

func TestProbeJobLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewProbeJobRepository(openTestDB(t))

	now := time.Now().UTC()
	job := &entity.ProbeJob{PaymentID: 7, Gateway: "cardgate", Reference: "cg-7", NextFireAt: now.Add(5 * time.Minute), ArmedAt: now}
	if err := repo.Save(ctx, job); err != nil {
		t.Fatalf("save: %v", err)
	}
	job.Attempts = 3
	if err := repo.Save(ctx, job); err != nil {
		t.Fatalf("save again: %v", err)
	}

	active, err := repo.ListActive(ctx)
	if err != nil || len(active) != 1 || active[0].Attempts != 3 || active[0].Exhausted {
		t.Fatalf("unexpected active jobs %+v %v", active, err)
	}

	if err := repo.MarkExhausted(ctx, 7); err != nil {
		t.Fatalf("exhaust: %v", err)
	}
	if active, _ := repo.ListActive(ctx); len(active) != 0 {
		t.Fatalf("expected no active jobs, got %d", len(active))
	}

	unreported, err := repo.ListUnreported(ctx, 10)
	if err != nil || len(unreported) != 1 || !unreported[0].Exhausted {
		t.Fatalf("unexpected unreported jobs %+v %v", unreported, err)
	}
	if err := repo.MarkReported(ctx, 7, now); err != nil {
		t.Fatalf("report: %v", err)
	}
	if unreported, _ := repo.ListUnreported(ctx, 10); len(unreported) != 0 {
		t.Fatalf("expected report to be recorded, got %d", len(unreported))
	}

	if err := repo.Delete(ctx, 7); err != nil {
		t.Fatalf("delete: %v", err)
	}
}
