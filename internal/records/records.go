package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Status of a record's balance.
type Status string

const (
	StatusPending Status = "pending"
	StatusPartial Status = "partial"
	StatusPaid    Status = "paid"
	StatusOverdue Status = "overdue"
)

func (s Status) valid() bool {
	switch s {
	case StatusPending, StatusPartial, StatusPaid, StatusOverdue:
		return true
	}
	return false
}

// Action is an audit log action.
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionPayment Action = "payment"
	ActionDelete  Action = "delete"
)

const dateLayout = "2006-01-02"

var ErrNotFound = errors.New("record not found")

// ValidationError reports rejected input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Record is an amount owed with its payment progress.
type Record struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Description     string     `json:"description,omitempty"`
	Amount          float64    `json:"amount"`
	PaidAmount      float64    `json:"paid_amount"`
	RemainingAmount float64    `json:"remaining_amount"`
	Status          Status     `json:"status"`
	DueDate         string     `json:"due_date,omitempty"`
	PaidDate        *time.Time `json:"paid_date,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Fields carries create/update input. Nil fields are left unchanged on update.
type Fields struct {
	Name        *string  `json:"name,omitempty"`
	Description *string  `json:"description,omitempty"`
	Amount      *float64 `json:"amount,omitempty"`
	PaidAmount  *float64 `json:"paid_amount,omitempty"`
	DueDate     *string  `json:"due_date,omitempty"`
	Status      *Status  `json:"status,omitempty"`
}

// Filters narrow List. Empty fields match everything.
type Filters struct {
	Name      string // case-insensitive substring
	Status    Status
	CreatedOn string // YYYY-MM-DD
	DueOn     string // YYYY-MM-DD
}

// AuditEntry is one change to a record.
type AuditEntry struct {
	ID         string          `json:"id"`
	RecordID   string          `json:"record_id"`
	Action     Action          `json:"action"`
	OldValue   json.RawMessage `json:"old_value,omitempty"`
	NewValue   json.RawMessage `json:"new_value,omitempty"`
	AmountPaid float64         `json:"amount_paid,omitempty"`
	Notes      string          `json:"notes,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Store keeps records in Redis:
//
//	record:<id>      JSON record
//	records:index    sorted set of ids by creation time
//	record:<id>:log  list of JSON audit entries, oldest first
type Store struct {
	client *redis.Client
	now    func() time.Time
}

func New(client *redis.Client) *Store {
	return &Store{client: client, now: func() time.Time { return time.Now().UTC() }}
}

func NewFromURL(redisURL string) (*Store, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opt)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return New(c), nil
}

func (s *Store) Close() error { return s.client.Close() }

const indexKey = "records:index"

func recordKey(id string) string { return "record:" + id }
func logKey(id string) string    { return "record:" + id + ":log" }

// Get loads one record.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	raw, err := s.client.Get(ctx, recordKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", id, err)
	}
	return &r, nil
}

// List returns matching records, newest first.
func (s *Store) List(ctx context.Context, f Filters) ([]Record, error) {
	ids, err := s.client.ZRevRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Record{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = recordKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	name := strings.ToLower(strings.TrimSpace(f.Name))
	out := make([]Record, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var r Record
		if err := json.Unmarshal([]byte(str), &r); err != nil {
			log.Warn().Err(err).Str("record_id", ids[i]).Msg("skipping undecodable record")
			continue
		}
		if name != "" && !strings.Contains(strings.ToLower(r.Name), name) {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.CreatedOn != "" && r.CreatedAt.Format(dateLayout) != f.CreatedOn {
			continue
		}
		if f.DueOn != "" && !strings.HasPrefix(r.DueDate, f.DueOn) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Create validates f and stores a new record with derived balance and status.
func (s *Store) Create(ctx context.Context, f Fields) (*Record, error) {
	if f.Name == nil || strings.TrimSpace(*f.Name) == "" {
		return nil, &ValidationError{Field: "name", Reason: "required"}
	}
	if f.Amount == nil || *f.Amount <= 0 {
		return nil, &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	now := s.now()
	r := &Record{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(*f.Name),
		Amount:    *f.Amount,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.apply(r, f, now); err != nil {
		return nil, err
	}

	pipe := s.client.TxPipeline()
	if err := s.setRecord(ctx, pipe, r); err != nil {
		return nil, err
	}
	pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(now.UnixNano()), Member: r.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	note := r.Description
	if note == "" {
		note = "Record created"
	}
	if err := s.AppendAuditLog(ctx, r.ID, ActionCreate, nil, r, note); err != nil {
		return nil, err
	}
	log.Info().Str("record_id", r.ID).Float64("amount", r.Amount).Str("status", string(r.Status)).Msg("record created")
	return r, nil
}

// Update applies non-nil fields and recomputes the balance.
func (s *Store) Update(ctx context.Context, id string, f Fields) (*Record, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if f.Name != nil && strings.TrimSpace(*f.Name) == "" {
		return nil, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if f.Amount != nil && *f.Amount <= 0 {
		return nil, &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	next := *cur
	now := s.now()
	if f.Name != nil {
		next.Name = strings.TrimSpace(*f.Name)
	}
	if f.Amount != nil {
		next.Amount = *f.Amount
	}
	if err := s.apply(&next, f, now); err != nil {
		return nil, err
	}
	next.UpdatedAt = now

	if err := s.setRecord(ctx, s.client, &next); err != nil {
		return nil, err
	}
	note := "Record updated"
	if f.Description != nil && *f.Description != "" {
		note = *f.Description
	}
	if err := s.AppendAuditLog(ctx, id, ActionUpdate, cur, &next, note); err != nil {
		return nil, err
	}
	return &next, nil
}

// Delete removes a record. Its audit log is kept.
func (s *Store) Delete(ctx context.Context, id string) error {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, recordKey(id))
	pipe.ZRem(ctx, indexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	log.Info().Str("record_id", id).Msg("record deleted")
	return s.AppendAuditLog(ctx, id, ActionDelete, cur, nil, "Record deleted")
}

// RecordPayment adds amount to the paid total.
func (s *Store) RecordPayment(ctx context.Context, id string, amount float64, notes string) (*Record, error) {
	if amount <= 0 {
		return nil, &ValidationError{Field: "amount_paid", Reason: "must be greater than zero"}
	}
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next := *cur
	now := s.now()
	next.PaidAmount += amount
	next.RemainingAmount = next.Amount - next.PaidAmount
	if next.RemainingAmount <= 0 {
		next.Status = StatusPaid
		next.PaidDate = &now
	} else {
		next.Status = StatusPartial
	}
	next.UpdatedAt = now
	if err := s.setRecord(ctx, s.client, &next); err != nil {
		return nil, err
	}
	if notes == "" {
		notes = fmt.Sprintf("Payment of %v recorded", amount)
	}
	entry, err := newEntry(id, ActionPayment, cur, &next, notes, now)
	if err != nil {
		return nil, err
	}
	entry.AmountPaid = amount
	if err := s.push(ctx, entry); err != nil {
		return nil, err
	}
	return &next, nil
}

// AppendAuditLog records a change. oldValue and newValue are stored as JSON.
func (s *Store) AppendAuditLog(ctx context.Context, recordID string, action Action, oldValue, newValue any, note string) error {
	entry, err := newEntry(recordID, action, oldValue, newValue, note, s.now())
	if err != nil {
		return err
	}
	return s.push(ctx, entry)
}

// AuditLog returns a record's entries, newest first.
func (s *Store) AuditLog(ctx context.Context, recordID string) ([]AuditEntry, error) {
	raws, err := s.client.LRange(ctx, logKey(recordID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]AuditEntry, 0, len(raws))
	for i := len(raws) - 1; i >= 0; i-- {
		var e AuditEntry
		if err := json.Unmarshal([]byte(raws[i]), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// apply sets description, paid amount, due date and status, then derives the
// remaining balance: fully paid wins, then any payment makes it partial.
func (s *Store) apply(r *Record, f Fields, now time.Time) error {
	if f.Description != nil {
		r.Description = strings.TrimSpace(*f.Description)
	}
	if f.PaidAmount != nil {
		if *f.PaidAmount < 0 {
			return &ValidationError{Field: "paid_amount", Reason: "must not be negative"}
		}
		r.PaidAmount = *f.PaidAmount
	}
	if f.DueDate != nil {
		d := strings.TrimSpace(*f.DueDate)
		if d != "" {
			if _, err := time.Parse(dateLayout, d); err != nil {
				return &ValidationError{Field: "due_date", Reason: "expected YYYY-MM-DD"}
			}
		}
		r.DueDate = d
	}
	if f.Status != nil {
		if !f.Status.valid() {
			return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", *f.Status)}
		}
		r.Status = *f.Status
	}

	r.RemainingAmount = r.Amount - r.PaidAmount
	switch {
	case r.RemainingAmount <= 0:
		r.Status = StatusPaid
		if r.PaidDate == nil {
			t := now
			r.PaidDate = &t
		}
	case r.PaidAmount > 0:
		r.Status = StatusPartial
		r.PaidDate = nil
	default:
		r.PaidDate = nil
		if r.Status == StatusPaid || r.Status == StatusPartial {
			r.Status = StatusPending
		}
	}
	return nil
}

func (s *Store) setRecord(ctx context.Context, c redis.Cmdable, r *Record) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.Set(ctx, recordKey(r.ID), b, 0).Err()
}

func (s *Store) push(ctx context.Context, e *AuditEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.client.RPush(ctx, logKey(e.RecordID), b).Err()
}

func newEntry(recordID string, action Action, oldValue, newValue any, note string, at time.Time) (*AuditEntry, error) {
	e := &AuditEntry{ID: uuid.NewString(), RecordID: recordID, Action: action, Notes: note, CreatedAt: at}
	var err error
	if e.OldValue, err = marshalOpt(oldValue); err != nil {
		return nil, err
	}
	if e.NewValue, err = marshalOpt(newValue); err != nil {
		return nil, err
	}
	return e, nil
}

func marshalOpt(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case *Record:
		if t == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
