package purchase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/teachniche/api/internal/lesson"
)

// fakeGateway implements Gateway with canned session details.
type fakeGateway struct {
	mu       sync.Mutex
	sessions map[string]*SessionDetails
	created  int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{sessions: make(map[string]*SessionDetails)}
}

func (f *fakeGateway) CreateCheckoutSession(_ context.Context, params *CheckoutParams) (*CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	id := fmt.Sprintf("cs_test_%d", f.created)
	f.sessions[id] = &SessionDetails{
		ID:                id,
		PaymentStatus:     "unpaid",
		AmountTotalCents:  params.PriceCents,
		ClientReferenceID: ClientReferenceID(params.LessonID, params.UserID),
		Metadata: map[string]string{
			MetadataLessonID: params.LessonID,
			MetadataUserID:   params.UserID,
		},
	}
	return &CheckoutSession{ID: id, URL: "https://checkout.stripe.test/" + id}, nil
}

func (f *fakeGateway) RetrieveSession(_ context.Context, sessionID string, _ bool) (*SessionDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	details, ok := f.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	copied := *details
	return &copied, nil
}

func (f *fakeGateway) markPaid(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sessionID].PaymentStatus = "paid"
}

// countingRepository wraps a Repository and counts status writes.
type countingRepository struct {
	Repository
	statusWrites int
}

func (c *countingRepository) UpdateStatus(ctx context.Context, id, status string) error {
	c.statusWrites++
	return c.Repository.UpdateStatus(ctx, id, status)
}

func newTestService(t *testing.T) (*Service, *InMemoryRepository, *lesson.InMemoryRepository, *fakeGateway) {
	t.Helper()
	purchases := NewInMemoryRepository()
	lessons := lesson.NewInMemoryRepository()
	gateway := newFakeGateway()
	svc := NewService(purchases, lessons, gateway, 15.0, nil, nil)
	return svc, purchases, lessons, gateway
}

func seedLesson(t *testing.T, lessons *lesson.InMemoryRepository, id, creatorID string, priceCents int64) {
	t.Helper()
	err := lessons.Insert(context.Background(), &lesson.Lesson{
		ID:         id,
		CreatorID:  creatorID,
		Title:      "Pivot to Backside Flip",
		PriceCents: priceCents,
	})
	if err != nil {
		t.Fatalf("seed lesson: %v", err)
	}
}

// TestCreatePurchase_IdempotentCompletion verifies that creating the same
// completed purchase twice returns the same ID and inserts exactly one row.
func TestCreatePurchase_IdempotentCompletion(t *testing.T) {
	svc, purchases, lessons, _ := newTestService(t)
	seedLesson(t, lessons, "lesson-1", "creator-1", 1999)
	ctx := context.Background()

	in := CreateInput{
		LessonID:        "lesson-1",
		UserID:          "user-1",
		AmountCents:     1999,
		StripeSessionID: "cs_1",
	}

	first, err := svc.CreatePurchase(ctx, in)
	if err != nil {
		t.Fatalf("first CreatePurchase failed: %v", err)
	}
	second, err := svc.CreatePurchase(ctx, in)
	if err != nil {
		t.Fatalf("second CreatePurchase failed: %v", err)
	}

	if first != second {
		t.Errorf("expected same purchase ID, got %s and %s", first, second)
	}
	if got := purchases.Count(); got != 1 {
		t.Errorf("expected exactly 1 row, got %d", got)
	}
}

// TestCreatePurchase_CompletesPendingRow verifies the checkout-time pending
// row is confirmed in place instead of duplicated.
func TestCreatePurchase_CompletesPendingRow(t *testing.T) {
	svc, purchases, lessons, _ := newTestService(t)
	seedLesson(t, lessons, "lesson-1", "creator-1", 1999)
	ctx := context.Background()

	pendingID, err := svc.CreatePurchase(ctx, CreateInput{
		LessonID:        "lesson-1",
		UserID:          "user-1",
		StripeSessionID: "cs_1",
		Pending:         true,
	})
	if err != nil {
		t.Fatalf("pending create failed: %v", err)
	}

	stored, err := purchases.GetBySessionID(ctx, "cs_1")
	if err != nil {
		t.Fatalf("GetBySessionID failed: %v", err)
	}
	if stored.Status != StatusPending {
		t.Fatalf("expected pending status, got %s", stored.Status)
	}
	// Canonical price backfilled from the lesson.
	if stored.AmountCents != 1999 {
		t.Errorf("expected amount 1999, got %d", stored.AmountCents)
	}

	confirmedID, err := svc.CreatePurchase(ctx, CreateInput{
		LessonID:        "lesson-1",
		UserID:          "user-1",
		AmountCents:     1999,
		StripeSessionID: "cs_1",
	})
	if err != nil {
		t.Fatalf("confirming create failed: %v", err)
	}

	if confirmedID != pendingID {
		t.Errorf("expected confirmation to reuse row %s, got %s", pendingID, confirmedID)
	}
	stored, err = purchases.GetBySessionID(ctx, "cs_1")
	if err != nil {
		t.Fatalf("GetBySessionID failed: %v", err)
	}
	if stored.Status != StatusCompleted {
		t.Errorf("expected completed status, got %s", stored.Status)
	}
	if got := purchases.Count(); got != 1 {
		t.Errorf("expected exactly 1 row, got %d", got)
	}
}

// TestCreatePurchase_RequiresExternalKey verifies that a purchase without
// any Stripe correlation key is rejected.
func TestCreatePurchase_RequiresExternalKey(t *testing.T) {
	svc, _, lessons, _ := newTestService(t)
	seedLesson(t, lessons, "lesson-1", "creator-1", 1999)

	_, err := svc.CreatePurchase(context.Background(), CreateInput{
		LessonID: "lesson-1",
		UserID:   "user-1",
	})
	if err == nil {
		t.Fatal("expected error for purchase without external key")
	}
}

// TestCreatePurchase_FeeBreakdown verifies the monetary breakdown stored on
// a new row uses the configured platform rate.
func TestCreatePurchase_FeeBreakdown(t *testing.T) {
	purchases := NewInMemoryRepository()
	lessons := lesson.NewInMemoryRepository()
	svc := NewService(purchases, lessons, newFakeGateway(), 10.0, nil, nil)
	seedLesson(t, lessons, "lesson-1", "creator-1", 1999)
	ctx := context.Background()

	id, err := svc.CreatePurchase(ctx, CreateInput{
		LessonID:        "lesson-1",
		UserID:          "user-1",
		AmountCents:     1999,
		StripeSessionID: "cs_1",
	})
	if err != nil {
		t.Fatalf("CreatePurchase failed: %v", err)
	}

	stored, err := purchases.GetBySessionID(ctx, "cs_1")
	if err != nil {
		t.Fatalf("GetBySessionID failed: %v", err)
	}
	if stored.ID != id {
		t.Errorf("expected id %s, got %s", id, stored.ID)
	}
	if stored.PlatformFeeCents != 200 {
		t.Errorf("expected platform fee 200, got %d", stored.PlatformFeeCents)
	}
	if stored.CreatorEarningsCents != 1799 {
		t.Errorf("expected creator earnings 1799, got %d", stored.CreatorEarningsCents)
	}
	if stored.CreatorID != "creator-1" {
		t.Errorf("expected creator from lesson, got %s", stored.CreatorID)
	}
}

// TestUpdatePurchaseStatus_NotFound verifies the distinct not-found outcome
// callers use to fall back to a create.
func TestUpdatePurchaseStatus_NotFound(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.UpdatePurchaseStatus(context.Background(), "cs_missing", StatusCompleted)
	if !errors.Is(err, ErrPurchaseNotFound) {
		t.Fatalf("expected ErrPurchaseNotFound, got %v", err)
	}
}

// TestUpdatePurchaseStatus_AlreadyCompletedNoOp verifies that completing an
// already-completed purchase returns its ID without issuing a write.
func TestUpdatePurchaseStatus_AlreadyCompletedNoOp(t *testing.T) {
	purchases := NewInMemoryRepository()
	counting := &countingRepository{Repository: purchases}
	lessons := lesson.NewInMemoryRepository()
	svc := NewService(counting, lessons, newFakeGateway(), 15.0, nil, nil)
	seedLesson(t, lessons, "lesson-1", "creator-1", 1999)
	ctx := context.Background()

	id, err := svc.CreatePurchase(ctx, CreateInput{
		LessonID:        "lesson-1",
		UserID:          "user-1",
		AmountCents:     1999,
		StripeSessionID: "cs_2",
	})
	if err != nil {
		t.Fatalf("CreatePurchase failed: %v", err)
	}
	writesBefore := counting.statusWrites

	got, err := svc.UpdatePurchaseStatus(ctx, "cs_2", StatusCompleted)
	if err != nil {
		t.Fatalf("UpdatePurchaseStatus failed: %v", err)
	}
	if got != id {
		t.Errorf("expected id %s, got %s", id, got)
	}
	if counting.statusWrites != writesBefore {
		t.Errorf("expected no status write, got %d", counting.statusWrites-writesBefore)
	}
}

// TestUpdatePurchaseStatus_NoRegression verifies a completed purchase is
// never moved back to pending.
func TestUpdatePurchaseStatus_NoRegression(t *testing.T) {
	svc, purchases, lessons, _ := newTestService(t)
	seedLesson(t, lessons, "lesson-1", "creator-1", 1999)
	ctx := context.Background()

	id, err := svc.CreatePurchase(ctx, CreateInput{
		LessonID:        "lesson-1",
		UserID:          "user-1",
		AmountCents:     1999,
		StripeSessionID: "cs_3",
	})
	if err != nil {
		t.Fatalf("CreatePurchase failed: %v", err)
	}

	got, err := svc.UpdatePurchaseStatus(ctx, "cs_3", StatusPending)
	if err != nil {
		t.Fatalf("UpdatePurchaseStatus failed: %v", err)
	}
	if got != id {
		t.Errorf("expected id %s, got %s", id, got)
	}

	stored, err := purchases.GetBySessionID(ctx, "cs_3")
	if err != nil {
		t.Fatalf("GetBySessionID failed: %v", err)
	}
	if stored.Status != StatusCompleted {
		t.Errorf("expected status to remain completed, got %s", stored.Status)
	}
}

// TestUpdatePurchaseStatus_ByPaymentIntent verifies the payment intent ID
// works as the fallback lookup key.
func TestUpdatePurchaseStatus_ByPaymentIntent(t *testing.T) {
	svc, purchases, lessons, _ := newTestService(t)
	seedLesson(t, lessons, "lesson-1", "creator-1", 1999)
	ctx := context.Background()

	id, err := svc.CreatePurchase(ctx, CreateInput{
		LessonID:        "lesson-1",
		UserID:          "user-1",
		PaymentIntentID: "pi_1",
		Pending:         true,
	})
	if err != nil {
		t.Fatalf("CreatePurchase failed: %v", err)
	}

	got, err := svc.UpdatePurchaseStatus(ctx, "pi_1", StatusCompleted)
	if err != nil {
		t.Fatalf("UpdatePurchaseStatus failed: %v", err)
	}
	if got != id {
		t.Errorf("expected id %s, got %s", id, got)
	}

	stored, err := purchases.GetByPaymentIntentID(ctx, "pi_1")
	if err != nil {
		t.Fatalf("GetByPaymentIntentID failed: %v", err)
	}
	if stored.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", stored.Status)
	}
}

// TestUpdateThenCreate_Convergence verifies that update-then-create and
// create-then-update both leave exactly one completed row per session.
func TestUpdateThenCreate_Convergence(t *testing.T) {
	// Order 1: webhook creates first (no pending row), client verifies after.
	svc, purchases, lessons, _ := newTestService(t)
	seedLesson(t, lessons, "lesson-1", "creator-1", 1999)
	ctx := context.Background()

	_, err := svc.UpdatePurchaseStatus(ctx, "cs_1", StatusCompleted)
	if !errors.Is(err, ErrPurchaseNotFound) {
		t.Fatalf("expected ErrPurchaseNotFound before any row exists, got %v", err)
	}

	webhookID, err := svc.CreatePurchase(ctx, CreateInput{
		LessonID:        "lesson-1",
		UserID:          "user-1",
		AmountCents:     1999,
		StripeSessionID: "cs_1",
		FromWebhook:     true,
	})
	if err != nil {
		t.Fatalf("webhook create failed: %v", err)
	}

	clientID, err := svc.CreatePurchase(ctx, CreateInput{
		LessonID:        "lesson-1",
		UserID:          "user-1",
		AmountCents:     1999,
		StripeSessionID: "cs_1",
	})
	if err != nil {
		t.Fatalf("client create failed: %v", err)
	}
	if clientID != webhookID {
		t.Errorf("expected client path to observe webhook row %s, got %s", webhookID, clientID)
	}
	if got := purchases.Count(); got != 1 {
		t.Errorf("expected exactly 1 row, got %d", got)
	}

	// Order 2: pending row exists, webhook update wins, later create no-ops.
	svc2, purchases2, lessons2, _ := newTestService(t)
	seedLesson(t, lessons2, "lesson-1", "creator-1", 1999)

	pendingID, err := svc2.CreatePurchase(ctx, CreateInput{
		LessonID:        "lesson-1",
		UserID:          "user-2",
		StripeSessionID: "cs_9",
		Pending:         true,
	})
	if err != nil {
		t.Fatalf("pending create failed: %v", err)
	}
	updatedID, err := svc2.UpdatePurchaseStatus(ctx, "cs_9", StatusCompleted)
	if err != nil {
		t.Fatalf("UpdatePurchaseStatus failed: %v", err)
	}
	if updatedID != pendingID {
		t.Errorf("expected update to reuse row %s, got %s", pendingID, updatedID)
	}
	createdID, err := svc2.CreatePurchase(ctx, CreateInput{
		LessonID:        "lesson-1",
		UserID:          "user-2",
		AmountCents:     1999,
		StripeSessionID: "cs_9",
	})
	if err != nil {
		t.Fatalf("create after update failed: %v", err)
	}
	if createdID != pendingID {
		t.Errorf("expected create to observe completed row %s, got %s", pendingID, createdID)
	}
	if got := purchases2.Count(); got != 1 {
		t.Errorf("expected exactly 1 row, got %d", got)
	}
}

// TestVerifySession_MetadataFallback verifies identifiers are recovered
// from the client reference ID when metadata is empty.
func TestVerifySession_MetadataFallback(t *testing.T) {
	svc, _, _, gateway := newTestService(t)
	gateway.sessions["cs_ref"] = &SessionDetails{
		ID:                "cs_ref",
		PaymentStatus:     "paid",
		AmountTotalCents:  1999,
		ClientReferenceID: "lesson_lesson-123_user_user-456",
	}

	v, err := svc.VerifySession(context.Background(), "cs_ref")
	if err != nil {
		t.Fatalf("VerifySession failed: %v", err)
	}
	if !v.Paid {
		t.Error("expected session to be paid")
	}
	if v.LessonID != "lesson-123" {
		t.Errorf("expected lesson-123, got %q", v.LessonID)
	}
	if v.UserID != "user-456" {
		t.Errorf("expected user-456, got %q", v.UserID)
	}
	if v.AmountCents != 1999 {
		t.Errorf("expected 1999 cents, got %d", v.AmountCents)
	}
}

// TestVerifySession_NoPaymentRequired verifies zero-amount sessions count
// as paid.
func TestVerifySession_NoPaymentRequired(t *testing.T) {
	svc, _, _, gateway := newTestService(t)
	gateway.sessions["cs_free"] = &SessionDetails{
		ID:            "cs_free",
		PaymentStatus: "no_payment_required",
		Metadata: map[string]string{
			MetadataLessonID: "lesson-1",
			MetadataUserID:   "user-1",
		},
	}

	v, err := svc.VerifySession(context.Background(), "cs_free")
	if err != nil {
		t.Fatalf("VerifySession failed: %v", err)
	}
	if !v.Paid {
		t.Error("expected no_payment_required to count as paid")
	}
}

// TestVerifySession_NotFound verifies the session-not-found outcome.
func TestVerifySession_NotFound(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.VerifySession(context.Background(), "cs_missing")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

// TestReconcilePending completes pending rows whose sessions show paid and
// leaves unpaid ones alone.
func TestReconcilePending(t *testing.T) {
	svc, purchases, lessons, gateway := newTestService(t)
	seedLesson(t, lessons, "lesson-1", "creator-1", 1999)
	ctx := context.Background()

	sess, err := gateway.CreateCheckoutSession(ctx, &CheckoutParams{
		LessonID: "lesson-1", UserID: "user-1", PriceCents: 1999,
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession failed: %v", err)
	}
	if _, err := svc.CreatePurchase(ctx, CreateInput{
		LessonID:        "lesson-1",
		UserID:          "user-1",
		StripeSessionID: sess.ID,
		Pending:         true,
	}); err != nil {
		t.Fatalf("pending create failed: %v", err)
	}

	// Still unpaid: reconcile leaves the row pending.
	if err := svc.ReconcilePending(ctx, "user-1", "lesson-1"); err != nil {
		t.Fatalf("ReconcilePending failed: %v", err)
	}
	stored, err := purchases.GetBySessionID(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetBySessionID failed: %v", err)
	}
	if stored.Status != StatusPending {
		t.Fatalf("expected pending before payment, got %s", stored.Status)
	}

	gateway.markPaid(sess.ID)
	if err := svc.ReconcilePending(ctx, "user-1", "lesson-1"); err != nil {
		t.Fatalf("ReconcilePending failed: %v", err)
	}
	stored, err = purchases.GetBySessionID(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetBySessionID failed: %v", err)
	}
	if stored.Status != StatusCompleted {
		t.Errorf("expected completed after payment, got %s", stored.Status)
	}
}
