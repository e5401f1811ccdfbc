package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/core-coin/x402/internal/billing"
	"github.com/core-coin/x402/internal/models"
	"github.com/core-coin/x402/pkg/keylock"
)

// MemoryDB keeps everything in process memory. Updates of one subscription are
// serialized by a per-id lock.
type MemoryDB struct {
	*billing.MemoryQueue

	locks keylock.Map

	mu            sync.RWMutex
	subscriptions map[string]*models.Subscription
	usage         map[string][]*models.UsageMetrics
	usageSeq      int64
	verifications map[string]*models.PaymentVerification
	settlements   map[string]*models.Settlement
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		MemoryQueue:   billing.NewMemoryQueue(),
		subscriptions: make(map[string]*models.Subscription),
		usage:         make(map[string][]*models.UsageMetrics),
		verifications: make(map[string]*models.PaymentVerification),
		settlements:   make(map[string]*models.Settlement),
	}
}

func (db *MemoryDB) Close() error { return nil }

func (db *MemoryDB) CreateSubscription(_ context.Context, sub *models.Subscription) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.subscriptions[sub.ID]; ok {
		return models.ErrSubscriptionExists
	}
	db.subscriptions[sub.ID] = sub.Clone()
	return nil
}

func (db *MemoryDB) GetSubscription(_ context.Context, id string) (*models.Subscription, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	sub, ok := db.subscriptions[id]
	if !ok {
		return nil, models.ErrSubscriptionNotFound
	}
	return sub.Clone(), nil
}

func (db *MemoryDB) UpdateSubscription(ctx context.Context, id string, fn func(*models.Subscription) error) (*models.Subscription, error) {
	unlock := db.locks.Lock(id)
	defer unlock()

	sub, err := db.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(sub); err != nil {
		return nil, err
	}

	db.mu.Lock()
	db.subscriptions[id] = sub.Clone()
	db.mu.Unlock()
	return sub, nil
}

func (db *MemoryDB) FindSubscriptions(_ context.Context, subscriber, planID string) ([]*models.Subscription, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var out []*models.Subscription
	for _, sub := range db.subscriptions {
		if sub.Subscriber != subscriber || (planID != "" && sub.PlanID != planID) {
			continue
		}
		out = append(out, sub.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (db *MemoryDB) AppendUsage(_ context.Context, metrics *models.UsageMetrics) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.usageSeq++
	metrics.ID = db.usageSeq
	row := *metrics
	db.usage[metrics.SubscriptionID] = append(db.usage[metrics.SubscriptionID], &row)
	return nil
}

func (db *MemoryDB) ListUsage(_ context.Context, subscriptionID string) ([]*models.UsageMetrics, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	rows := db.usage[subscriptionID]
	out := make([]*models.UsageMetrics, len(rows))
	for i, r := range rows {
		row := *r
		out[i] = &row
	}
	return out, nil
}

func (db *MemoryDB) SaveVerification(_ context.Context, v *models.PaymentVerification) (*models.PaymentVerification, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if existing, ok := db.verifications[v.TransactionHash]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *v
	db.verifications[v.TransactionHash] = &cp
	return v, nil
}

func (db *MemoryDB) GetVerificationByTransaction(_ context.Context, txHash string) (*models.PaymentVerification, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	v, ok := db.verifications[txHash]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (db *MemoryDB) GetSettlement(_ context.Context, paymentID string) (*models.Settlement, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	s, ok := db.settlements[paymentID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (db *MemoryDB) SaveSettlement(_ context.Context, s *models.Settlement) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.settlements[s.PaymentID]; ok {
		return false, nil
	}
	cp := *s
	db.settlements[s.PaymentID] = &cp
	return true, nil
}

func (db *MemoryDB) ListSettlements(_ context.Context, reference string) ([]*models.Settlement, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []*models.Settlement
	for _, s := range db.settlements {
		if reference != "" && s.Reference != reference {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SettledAt.Before(out[j].SettledAt) })
	return out, nil
}
