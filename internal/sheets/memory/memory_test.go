package memory

import (
	"context"
	"testing"
	"time"

	"ainopay/internal/core"

	"github.com/google/uuid"
)

func TestMemoryStoreUpsertAndRemove(t *testing.T) {
	ctx := context.Background()
	s := New()

	p := core.Payment{
		ID:              uuid.New(),
		Amount:          core.Money{Cents: 123},
		Status:          core.StatusPending,
		Description:     "t",
		TransactionDate: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	ref, err := s.Upsert(ctx, p)
	if err != nil || ref != "mem:1" {
		t.Fatalf("unexpected upsert: ref=%q err=%v", ref, err)
	}

	other := p
	other.ID = uuid.New()
	if ref, _ := s.Upsert(ctx, other); ref != "mem:2" {
		t.Fatalf("unexpected ref for second row: %q", ref)
	}

	p.Description = "updated"
	if ref, _ := s.Upsert(ctx, p); ref != "mem:1" {
		t.Fatalf("update should keep the row, got %q", ref)
	}
	rows := s.Rows()
	if len(rows) != 2 || rows[0][2] != "updated" || rows[0][3] != "1.23" {
		t.Fatalf("unexpected rows: %v", rows)
	}

	if err := s.Remove(ctx, p.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.Remove(ctx, uuid.New()); err != nil {
		t.Fatalf("remove unknown: %v", err)
	}
	rows = s.Rows()
	if len(rows) != 1 || rows[0][0] != other.ID.String() {
		t.Fatalf("unexpected rows after remove: %v", rows)
	}
}

func TestMemoryStoreRejectsNilID(t *testing.T) {
	if _, err := New().Upsert(context.Background(), core.Payment{}); err == nil {
		t.Fatal("expected error for nil id")
	}
}
