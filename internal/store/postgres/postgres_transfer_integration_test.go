package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"dukalink/backend/internal/domain"
	appstore "dukalink/backend/internal/store"
)

func TestApproveTransferMovesStockAtomically(t *testing.T) {
	databaseURL := os.Getenv("DUKALINK_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set DUKALINK_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("prod-trf-it-%d", stamp)
	fromStore := fmt.Sprintf("store-src-it-%d", stamp)
	toStore := fmt.Sprintf("store-dst-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM transfers WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_records WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stores WHERE id IN ($1, $2)`, fromStore, toStore)
	})

	for _, st := range []domain.Store{
		{ID: fromStore, Name: "Source " + fromStore, Region: "Dar es Salaam"},
		{ID: toStore, Name: "Dest " + toStore, Region: "Arusha"},
	} {
		if _, err := s.CreateStore(ctx, st); err != nil {
			t.Fatalf("create store %s: %v", st.ID, err)
		}
	}

	if _, err := s.AddStock(ctx, domain.AddStockRequest{
		StoreID:   fromStore,
		ProductID: productID,
		Quantity:  10,
	}); err != nil {
		t.Fatalf("seed stock: %v", err)
	}

	transfer, err := s.CreateTransfer(ctx, domain.Transfer{
		ProductID:   productID,
		FromStore:   fromStore,
		ToStore:     toStore,
		Quantity:    4,
		InitiatedBy: "staff",
	})
	if err != nil {
		t.Fatalf("create transfer: %v", err)
	}

	approved, err := s.ApproveTransfer(ctx, transfer.ID, "admin")
	if err != nil {
		t.Fatalf("approve transfer: %v", err)
	}
	if approved.Status != domain.TransferStatusApproved || approved.ApprovedBy != "admin" {
		t.Fatalf("approved = %+v", approved)
	}

	source, err := s.GetStock(ctx, fromStore, productID)
	if err != nil {
		t.Fatalf("source stock: %v", err)
	}
	if source.Quantity != 6 {
		t.Fatalf("source quantity = %d, want 6", source.Quantity)
	}

	// Destination row is created by the approval upsert.
	dest, err := s.GetStock(ctx, toStore, productID)
	if err != nil {
		t.Fatalf("destination stock: %v", err)
	}
	if dest.Quantity != 4 {
		t.Fatalf("destination quantity = %d, want 4", dest.Quantity)
	}

	// A settled transfer cannot be approved twice.
	if _, err := s.ApproveTransfer(ctx, transfer.ID, "admin"); !errors.Is(err, appstore.ErrInvalidState) {
		t.Fatalf("double approve: got %v, want invalid state", err)
	}

	// An oversized transfer fails and reports what is left.
	oversized, err := s.CreateTransfer(ctx, domain.Transfer{
		ProductID:   productID,
		FromStore:   fromStore,
		ToStore:     toStore,
		Quantity:    100,
		InitiatedBy: "staff",
	})
	if err != nil {
		t.Fatalf("create oversized transfer: %v", err)
	}
	_, err = s.ApproveTransfer(ctx, oversized.ID, "admin")
	var short *appstore.InsufficientStockError
	if !errors.As(err, &short) {
		t.Fatalf("oversized approve: got %v, want insufficient stock", err)
	}
	if short.Available != 6 {
		t.Fatalf("available = %d, want 6", short.Available)
	}

	after, err := s.GetStock(ctx, fromStore, productID)
	if err != nil {
		t.Fatalf("source stock after failed approve: %v", err)
	}
	if after.Quantity != 6 {
		t.Fatalf("failed approve mutated stock: %d", after.Quantity)
	}
}
