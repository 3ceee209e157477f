package records

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	s := New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

func TestCreateDerivesStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		fields     Fields
		wantStatus Status
		wantRemain float64
		paidDate   bool
	}{
		{"unpaid", Fields{Name: ptr("Rent"), Amount: ptr(100.0)}, StatusPending, 100, false},
		{"partial", Fields{Name: ptr("Phone"), Amount: ptr(100.0), PaidAmount: ptr(40.0)}, StatusPartial, 60, false},
		{"paid", Fields{Name: ptr("Gym"), Amount: ptr(50.0), PaidAmount: ptr(50.0)}, StatusPaid, 0, true},
		{"explicit overdue", Fields{Name: ptr("Tax"), Amount: ptr(10.0), Status: ptr(StatusOverdue)}, StatusOverdue, 10, false},
		{"payment beats status", Fields{Name: ptr("Car"), Amount: ptr(10.0), PaidAmount: ptr(1.0), Status: ptr(StatusOverdue)}, StatusPartial, 9, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := s.Create(ctx, tt.fields)
			if err != nil {
				t.Fatal(err)
			}
			if r.Status != tt.wantStatus || r.RemainingAmount != tt.wantRemain || (r.PaidDate != nil) != tt.paidDate {
				t.Fatalf("got status=%s remaining=%v paidDate=%v", r.Status, r.RemainingAmount, r.PaidDate)
			}
			got, err := s.Get(ctx, r.ID)
			if err != nil || got.Name != r.Name {
				t.Fatalf("Get: %+v %v", got, err)
			}
		})
	}
}

func TestCreateValidation(t *testing.T) {
	s := newTestStore(t)
	cases := []Fields{
		{Amount: ptr(10.0)},
		{Name: ptr("  "), Amount: ptr(10.0)},
		{Name: ptr("x")},
		{Name: ptr("x"), Amount: ptr(0.0)},
		{Name: ptr("x"), Amount: ptr(5.0), Status: ptr(Status("lost"))},
		{Name: ptr("x"), Amount: ptr(5.0), DueDate: ptr("31/12/2024")},
	}
	for i, f := range cases {
		var ve *ValidationError
		if _, err := s.Create(context.Background(), f); !errors.As(err, &ve) {
			t.Errorf("case %d: expected ValidationError, got %v", i, err)
		}
	}
}

func TestListFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day1 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return day1 }
	s.Create(ctx, Fields{Name: ptr("Electricity"), Amount: ptr(30.0), DueDate: ptr("2024-04-01")})
	s.now = func() time.Time { return day2 }
	s.Create(ctx, Fields{Name: ptr("Water bill"), Amount: ptr(20.0), PaidAmount: ptr(5.0)})
	s.now = func() time.Time { return day2.Add(time.Minute) }
	s.Create(ctx, Fields{Name: ptr("electric scooter"), Amount: ptr(900.0)})

	tests := []struct {
		name string
		f    Filters
		want []string
	}{
		{"all newest first", Filters{}, []string{"electric scooter", "Water bill", "Electricity"}},
		{"name ilike", Filters{Name: "ELECTRIC"}, []string{"electric scooter", "Electricity"}},
		{"status", Filters{Status: StatusPartial}, []string{"Water bill"}},
		{"created on", Filters{CreatedOn: "2024-03-01"}, []string{"Electricity"}},
		{"due on", Filters{DueOn: "2024-04-01"}, []string{"Electricity"}},
		{"no match", Filters{Name: "rent"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, tt.f)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d records, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].Name != tt.want[i] {
					t.Errorf("[%d] = %q, want %q", i, got[i].Name, tt.want[i])
				}
			}
		})
	}
}

func TestUpdateRecomputes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r, _ := s.Create(ctx, Fields{Name: ptr("Loan"), Amount: ptr(100.0)})

	up, err := s.Update(ctx, r.ID, Fields{PaidAmount: ptr(100.0)})
	if err != nil {
		t.Fatal(err)
	}
	if up.Status != StatusPaid || up.PaidDate == nil || up.RemainingAmount != 0 {
		t.Fatalf("after full payment: %+v", up)
	}
	up, err = s.Update(ctx, r.ID, Fields{Amount: ptr(150.0)})
	if err != nil {
		t.Fatal(err)
	}
	if up.Status != StatusPartial || up.RemainingAmount != 50 || up.PaidDate != nil {
		t.Fatalf("after raising amount: %+v", up)
	}
	if _, err := s.Update(ctx, "missing", Fields{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing: %v", err)
	}
}

func TestRecordPayment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r, _ := s.Create(ctx, Fields{Name: ptr("Invoice"), Amount: ptr(80.0)})

	var ve *ValidationError
	if _, err := s.RecordPayment(ctx, r.ID, 0, ""); !errors.As(err, &ve) {
		t.Fatalf("zero payment: %v", err)
	}
	p, err := s.RecordPayment(ctx, r.ID, 30, "")
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != StatusPartial || p.PaidAmount != 30 || p.RemainingAmount != 50 {
		t.Fatalf("after first payment: %+v", p)
	}
	p, err = s.RecordPayment(ctx, r.ID, 60, "final")
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != StatusPaid || p.RemainingAmount != -10 || p.PaidDate == nil {
		t.Fatalf("after overpayment: %+v", p)
	}

	logs, err := s.AuditLog(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 3 {
		t.Fatalf("log entries = %d, want 3", len(logs))
	}
	if logs[0].Action != ActionPayment || logs[0].AmountPaid != 60 || logs[0].Notes != "final" {
		t.Errorf("newest entry = %+v", logs[0])
	}
	if logs[1].Notes != "Payment of 30 recorded" {
		t.Errorf("default payment note = %q", logs[1].Notes)
	}
	if logs[2].Action != ActionCreate || logs[2].OldValue != nil {
		t.Errorf("oldest entry = %+v", logs[2])
	}
	var prev Record
	if err := json.Unmarshal(logs[0].OldValue, &prev); err != nil || prev.PaidAmount != 30 {
		t.Errorf("payment old value = %+v, %v", prev, err)
	}
}

func TestDeleteKeepsAuditLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r, _ := s.Create(ctx, Fields{Name: ptr("Old"), Amount: ptr(1.0)})

	if err := s.Delete(ctx, r.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, r.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete: %v", err)
	}
	if err := s.Delete(ctx, r.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
	list, _ := s.List(ctx, Filters{})
	if len(list) != 0 {
		t.Fatalf("list after delete = %d", len(list))
	}
	logs, _ := s.AuditLog(ctx, r.ID)
	if len(logs) != 2 || logs[0].Action != ActionDelete {
		t.Fatalf("logs = %+v", logs)
	}
}
