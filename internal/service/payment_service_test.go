package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/iliyamo/concert-ticket-booking/internal/model"
	"github.com/iliyamo/concert-ticket-booking/internal/repository"
)

type paymentStoreStub struct {
	mu       sync.Mutex
	seq      uint64
	payments map[uint64]*model.Payment
	staged   []*model.OutboxEntry
}

func newPaymentStoreStub() *paymentStoreStub {
	return &paymentStoreStub{payments: make(map[uint64]*model.Payment)}
}

func (s *paymentStoreStub) Create(_ context.Context, p *model.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	p.ID = s.seq
	cp := *p
	s.payments[p.ID] = &cp
	return nil
}

func (s *paymentStoreStub) Get(_ context.Context, id uint64) (*model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *paymentStoreStub) CompletedByReservation(_ context.Context, reservationID uint64) (*model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *model.Payment
	for _, p := range s.payments {
		if p.ReservationID == reservationID && p.Status == model.PaymentStatusCompleted {
			if latest == nil || p.ID > latest.ID {
				latest = p
			}
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *paymentStoreStub) UpdateStatus(_ context.Context, id uint64, from, to string, staged *model.OutboxEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return repository.ErrNotFound
	}
	if p.Status != from {
		return repository.ErrBusinessRule
	}
	p.Status = to
	if staged != nil {
		s.staged = append(s.staged, staged)
	}
	return nil
}

type pointStoreStub struct {
	mu           sync.Mutex
	balances     map[uint64]int64
	failIncrease error
	failDecrease error
}

func newPointStoreStub() *pointStoreStub {
	return &pointStoreStub{balances: make(map[uint64]int64)}
}

func (s *pointStoreStub) Balance(_ context.Context, userID uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID], nil
}

func (s *pointStoreStub) Increase(_ context.Context, userID uint64, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failIncrease != nil {
		return s.failIncrease
	}
	s.balances[userID] += amount
	return nil
}

func (s *pointStoreStub) Decrease(_ context.Context, userID uint64, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDecrease != nil {
		return s.failDecrease
	}
	if s.balances[userID] < amount {
		return repository.ErrInsufficientPoints
	}
	s.balances[userID] -= amount
	return nil
}

type compStoreStub struct {
	mu   sync.Mutex
	seq  uint64
	logs map[uint64]*model.CompensationTxLog
}

func newCompStoreStub() *compStoreStub {
	return &compStoreStub{logs: make(map[uint64]*model.CompensationTxLog)}
}

func (s *compStoreStub) Create(_ context.Context, c *model.CompensationTxLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	c.ID = s.seq
	cp := *c
	s.logs[c.ID] = &cp
	return nil
}

func (s *compStoreStub) Pending(_ context.Context, limit int) ([]model.CompensationTxLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.CompensationTxLog
	for _, c := range s.logs {
		if c.Status == model.CompensationStatusPending {
			out = append(out, *c)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *compStoreStub) MarkCompleted(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.logs[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.Status = model.CompensationStatusCompleted
	return nil
}

func (s *compStoreStub) MarkFailedAttempt(_ context.Context, id uint64, maxRetry int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.logs[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.RetryCount++
	if c.RetryCount >= maxRetry {
		c.Status = model.CompensationStatusFailed
	}
	return nil
}

type reservationModuleStub struct {
	mu         sync.Mutex
	statuses   map[uint64]string
	confirmErr error
	cancelErr  error
}

func newReservationModuleStub() *reservationModuleStub {
	return &reservationModuleStub{statuses: make(map[uint64]string)}
}

func (s *reservationModuleStub) ConfirmReservation(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.confirmErr != nil {
		return s.confirmErr
	}
	s.statuses[id] = model.ReservationStatusPaid
	return nil
}

func (s *reservationModuleStub) CancelReservation(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelErr != nil {
		return s.cancelErr
	}
	s.statuses[id] = model.ReservationStatusCancelled
	return nil
}

type paymentFixture struct {
	svc      *PaymentService
	payments *paymentStoreStub
	points   *pointStoreStub
	comps    *compStoreStub
	resv     *reservationModuleStub
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	f := &paymentFixture{
		payments: newPaymentStoreStub(),
		points:   newPointStoreStub(),
		comps:    newCompStoreStub(),
		resv:     newReservationModuleStub(),
	}
	f.svc = NewPaymentService(f.payments, f.points, f.resv, f.comps, 3)
	return f
}

func TestProcessPaymentSuccess(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	f.points.balances[1] = 2000

	p, err := f.svc.ProcessPayment(ctx, 1, 1500, 10)
	if err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}
	if p.Status != model.PaymentStatusCompleted {
		t.Errorf("payment status = %s, want COMPLETED", p.Status)
	}
	if b, _ := f.points.Balance(ctx, 1); b != 500 {
		t.Errorf("balance = %d, want 500", b)
	}
	if f.resv.statuses[10] != model.ReservationStatusPaid {
		t.Errorf("reservation not confirmed")
	}
	if len(f.payments.staged) != 1 || f.payments.staged[0].Topic != TopicPaymentCompleted {
		t.Errorf("staged events = %+v, want one %s", f.payments.staged, TopicPaymentCompleted)
	}
	if len(f.comps.logs) != 0 {
		t.Errorf("compensation logs = %d, want 0", len(f.comps.logs))
	}
}

func TestProcessPaymentInsufficientPoints(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	f.points.balances[1] = 100

	p, err := f.svc.ProcessPayment(ctx, 1, 1500, 10)
	if !errors.Is(err, repository.ErrInsufficientPoints) {
		t.Fatalf("err = %v, want ErrInsufficientPoints", err)
	}
	if p.Status != model.PaymentStatusFailed {
		t.Errorf("payment status = %s, want FAILED", p.Status)
	}
	if b, _ := f.points.Balance(ctx, 1); b != 100 {
		t.Errorf("balance = %d, want untouched 100", b)
	}
	if _, confirmed := f.resv.statuses[10]; confirmed {
		t.Errorf("reservation was touched on a failed deduction")
	}
}

func TestProcessPaymentConfirmFailureCompensates(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	f.points.balances[1] = 2000
	confirmErr := errors.New("confirm unavailable")
	f.resv.confirmErr = confirmErr

	p, err := f.svc.ProcessPayment(ctx, 1, 1500, 10)
	if !errors.Is(err, confirmErr) {
		t.Fatalf("err = %v, want confirm error", err)
	}
	if p.Status != model.PaymentStatusFailed {
		t.Errorf("payment status = %s, want FAILED", p.Status)
	}
	// The synchronous compensation restored the deduction.
	if b, _ := f.points.Balance(ctx, 1); b != 2000 {
		t.Errorf("balance = %d, want restored 2000", b)
	}
	if len(f.comps.logs) != 0 {
		t.Errorf("compensation logs = %d, want 0 after synchronous restore", len(f.comps.logs))
	}
}

func TestProcessPaymentDoubleFailureLogsCompensation(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	f.points.balances[1] = 2000
	f.resv.confirmErr = errors.New("confirm unavailable")
	f.points.failIncrease = errors.New("points unavailable")

	p, err := f.svc.ProcessPayment(ctx, 1, 1500, 10)
	if err == nil {
		t.Fatal("ProcessPayment succeeded, want error")
	}
	if p.Status != model.PaymentStatusFailed {
		t.Errorf("payment status = %s, want FAILED", p.Status)
	}
	if len(f.comps.logs) != 1 {
		t.Fatalf("compensation logs = %d, want exactly 1", len(f.comps.logs))
	}
	c := f.comps.logs[1]
	if c.Status != model.CompensationStatusPending || c.SignedPrice != 1500 {
		t.Errorf("compensation = %+v, want PENDING with signed price 1500", c)
	}

	// Once the point module recovers, the retry sweep settles the log and
	// the user's balance.
	f.points.failIncrease = nil
	if err := f.svc.RetryCompensations(ctx); err != nil {
		t.Fatalf("RetryCompensations: %v", err)
	}
	if b, _ := f.points.Balance(ctx, 1); b != 2000 {
		t.Errorf("balance = %d, want restored 2000", b)
	}
	if f.comps.logs[1].Status != model.CompensationStatusCompleted {
		t.Errorf("compensation status = %s, want COMPLETED", f.comps.logs[1].Status)
	}
}

func TestRetryCompensationsExhaustsBudget(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	f.points.balances[1] = 2000
	f.resv.confirmErr = errors.New("confirm unavailable")
	f.points.failIncrease = errors.New("points unavailable")

	if _, err := f.svc.ProcessPayment(ctx, 1, 1500, 10); err == nil {
		t.Fatal("ProcessPayment succeeded, want error")
	}
	for i := 0; i < 3; i++ {
		if err := f.svc.RetryCompensations(ctx); err != nil {
			t.Fatalf("RetryCompensations %d: %v", i, err)
		}
	}
	c := f.comps.logs[1]
	if c.Status != model.CompensationStatusFailed {
		t.Errorf("compensation status = %s, want FAILED after budget", c.Status)
	}
	if c.RetryCount != 3 {
		t.Errorf("retry count = %d, want 3", c.RetryCount)
	}

	// A FAILED entry is out of the sweep; the count must not move further.
	if err := f.svc.RetryCompensations(ctx); err != nil {
		t.Fatalf("RetryCompensations: %v", err)
	}
	if f.comps.logs[1].RetryCount != 3 {
		t.Errorf("retry count after FAILED = %d, want 3", f.comps.logs[1].RetryCount)
	}
}

func TestProcessRefund(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	f.points.balances[1] = 2000

	if _, err := f.svc.ProcessPayment(ctx, 1, 1500, 10); err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}

	p, err := f.svc.ProcessRefund(ctx, 1, 1500, 10)
	if err != nil {
		t.Fatalf("ProcessRefund: %v", err)
	}
	if p.Status != model.PaymentStatusRefunded {
		t.Errorf("payment status = %s, want REFUNDED", p.Status)
	}
	if b, _ := f.points.Balance(ctx, 1); b != 2000 {
		t.Errorf("balance = %d, want 2000 after refund", b)
	}
	if f.resv.statuses[10] != model.ReservationStatusCancelled {
		t.Errorf("reservation not cancelled")
	}
	if len(f.payments.staged) != 2 || f.payments.staged[1].Topic != TopicPaymentRefunded {
		t.Errorf("staged events = %d, want payment.completed then payment.refunded", len(f.payments.staged))
	}
}

func TestProcessRefundWithoutCompletedPayment(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	if _, err := f.svc.ProcessRefund(ctx, 1, 1500, 10); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("refund without payment: err = %v, want ErrNotFound", err)
	}
}

func TestProcessRefundCancelFailureReclaims(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	f.points.balances[1] = 2000

	if _, err := f.svc.ProcessPayment(ctx, 1, 1500, 10); err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}
	cancelErr := errors.New("cancel unavailable")
	f.resv.cancelErr = cancelErr

	if _, err := f.svc.ProcessRefund(ctx, 1, 1500, 10); !errors.Is(err, cancelErr) {
		t.Fatalf("err = %v, want cancel error", err)
	}
	// The restore was reclaimed synchronously; the user is back at the
	// post-payment balance.
	if b, _ := f.points.Balance(ctx, 1); b != 500 {
		t.Errorf("balance = %d, want 500", b)
	}
	if len(f.comps.logs) != 0 {
		t.Errorf("compensation logs = %d, want 0 after synchronous reclaim", len(f.comps.logs))
	}
}
