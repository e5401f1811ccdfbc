package access

import (
	"sync"
	"time"

	"github.com/core-coin/x402/internal/models"
)

const pruneEvery = time.Minute

// issuedRequests remembers the payment requests handed out in challenges until
// they expire, so a payment naming its request is checked against that one.
type issuedRequests struct {
	mu        sync.Mutex
	byID      map[string]*models.PaymentRequest
	lastPrune time.Time
	now       func() time.Time
}

func newIssuedRequests(now func() time.Time) *issuedRequests {
	return &issuedRequests{byID: make(map[string]*models.PaymentRequest), now: now}
}

func (i *issuedRequests) remember(r *models.PaymentRequest) {
	now := i.now()
	i.mu.Lock()
	defer i.mu.Unlock()
	if now.Sub(i.lastPrune) >= pruneEvery {
		for id, req := range i.byID {
			if req.Expired(now) {
				delete(i.byID, id)
			}
		}
		i.lastPrune = now
	}
	i.byID[r.ID] = r
}

// lookup returns the live request with the given id.
func (i *issuedRequests) lookup(id string) (*models.PaymentRequest, bool) {
	now := i.now()
	i.mu.Lock()
	defer i.mu.Unlock()
	r, ok := i.byID[id]
	if !ok {
		return nil, false
	}
	if r.Expired(now) {
		delete(i.byID, id)
		return nil, false
	}
	return r, true
}
