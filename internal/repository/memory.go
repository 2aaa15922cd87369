package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/domain"
)

// MemoryStore is an in-memory Store with the same serialization contract as
// the Postgres implementation: one mutex per user record. It backs the
// ledger tests and local development without a database.
type MemoryStore struct {
	mu        sync.Mutex
	userLocks map[string]*sync.Mutex

	subs     map[string]*domain.Subscription
	payments []domain.PaymentRecord
	byStripe map[string]struct{} // stripe_payment_id uniqueness
	events   map[string]struct{}
	cards    map[string]*domain.CardReference
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		userLocks: make(map[string]*sync.Mutex),
		subs:      make(map[string]*domain.Subscription),
		byStripe:  make(map[string]struct{}),
		events:    make(map[string]struct{}),
		cards:     make(map[string]*domain.CardReference),
	}
}

func (s *MemoryStore) lockFor(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.userLocks[userID] = l
	}
	return l
}

// WithSubscription serializes per user and applies fn's mutations only when
// it returns nil, mirroring a committed transaction.
func (s *MemoryStore) WithSubscription(ctx context.Context, userID string, fn func(tx SubscriptionTx) error) error {
	if err := ctx.Err(); err != nil {
		return domain.ErrStoreUnavailable
	}

	l := s.lockFor(userID)
	l.Lock()
	defer l.Unlock()

	tx := &memSubscriptionTx{store: s, userID: userID}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// memSubscriptionTx buffers writes until commit.
type memSubscriptionTx struct {
	store  *MemoryStore
	userID string

	pendingSub       *domain.Subscription
	pendingPayments  []domain.PaymentRecord
	pendingEvents    []string
	pendingCompletes []string
}

func (t *memSubscriptionTx) Get() (*domain.Subscription, error) {
	if t.pendingSub != nil {
		cp := *t.pendingSub
		return &cp, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	sub, ok := t.store.subs[t.userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (t *memSubscriptionTx) Put(sub *domain.Subscription) error {
	sub.UpdatedAt = time.Now()
	cp := *sub
	t.pendingSub = &cp
	return nil
}

func (t *memSubscriptionTx) InsertPayment(rec *domain.PaymentRecord) error {
	if rec.StripePaymentID != "" {
		t.store.mu.Lock()
		_, dup := t.store.byStripe[rec.StripePaymentID]
		t.store.mu.Unlock()
		if dup {
			return domain.ErrDuplicate
		}
		for _, p := range t.pendingPayments {
			if p.StripePaymentID == rec.StripePaymentID {
				return domain.ErrDuplicate
			}
		}
	}
	t.pendingPayments = append(t.pendingPayments, *rec)
	return nil
}

func (t *memSubscriptionTx) CompletePayment(stripePaymentID string) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for i := range t.store.payments {
		if t.store.payments[i].StripePaymentID != stripePaymentID {
			continue
		}
		if t.store.payments[i].Status != domain.PaymentStatusPending {
			return domain.ErrDuplicate
		}
		t.pendingCompletes = append(t.pendingCompletes, stripePaymentID)
		return nil
	}
	return domain.ErrNotFound
}

func (t *memSubscriptionTx) EventApplied(eventID string) (bool, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	_, ok := t.store.events[eventID]
	return ok, nil
}

func (t *memSubscriptionTx) MarkEventApplied(eventID string) error {
	t.pendingEvents = append(t.pendingEvents, eventID)
	return nil
}

func (t *memSubscriptionTx) commit() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.pendingSub != nil {
		t.store.subs[t.userID] = t.pendingSub
	}
	for i := range t.pendingPayments {
		t.store.payments = append(t.store.payments, t.pendingPayments[i])
		if id := t.pendingPayments[i].StripePaymentID; id != "" {
			t.store.byStripe[id] = struct{}{}
		}
	}
	for _, id := range t.pendingCompletes {
		for i := range t.store.payments {
			if t.store.payments[i].StripePaymentID == id {
				t.store.payments[i].Status = domain.PaymentStatusCompleted
			}
		}
	}
	for _, id := range t.pendingEvents {
		t.store.events[id] = struct{}{}
	}
}

// GetSubscription returns a copy of the user's subscription.
func (s *MemoryStore) GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

// FindUserByCustomer scans subscriptions for the Stripe customer id.
func (s *MemoryStore) FindUserByCustomer(ctx context.Context, stripeCustomerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, sub := range s.subs {
		if sub.StripeCustomerID == stripeCustomerID {
			return userID, nil
		}
	}
	return "", domain.ErrNotFound
}

// ListPayments returns the user's payments, newest first.
func (s *MemoryStore) ListPayments(ctx context.Context, userID string, limit, offset int) ([]domain.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.PaymentRecord
	for _, p := range s.payments {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if offset >= len(out) {
		return []domain.PaymentRecord{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// ListCards returns the user's cards.
func (s *MemoryStore) ListCards(ctx context.Context, userID string) ([]domain.CardReference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CardReference
	for _, c := range s.cards {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].CardID < out[j].CardID
	})
	return out, nil
}

// SaveCard stores a card, clearing any previous default.
func (s *MemoryStore) SaveCard(ctx context.Context, card *domain.CardReference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if card.IsDefault {
		for _, c := range s.cards {
			if c.UserID == card.UserID {
				c.IsDefault = false
			}
		}
	}
	cp := *card
	s.cards[card.CardID] = &cp
	return nil
}

// DeleteCard removes a card.
func (s *MemoryStore) DeleteCard(ctx context.Context, cardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cards[cardID]; !ok {
		return domain.ErrNotFound
	}
	delete(s.cards, cardID)
	return nil
}

// SetDefaultCard flips the default flag to cardID.
func (s *MemoryStore) SetDefaultCard(ctx context.Context, userID, cardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.cards[cardID]
	if !ok || target.UserID != userID {
		return domain.ErrNotFound
	}
	for _, c := range s.cards {
		if c.UserID == userID {
			c.IsDefault = false
		}
	}
	target.IsDefault = true
	return nil
}
