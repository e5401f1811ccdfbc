package subscription

import (
	"fmt"
	"sort"
	"time"

	"github.com/core-coin/x402/internal/billing"
	"github.com/core-coin/x402/internal/models"
)

// Catalog is the read-only set of configured plans.
type Catalog struct {
	plans     map[string]*models.SubscriptionPlan
	order     []string
	bandwidth map[string]int64
}

// NewCatalog indexes plans by ID and pre-parses their bandwidth ceilings.
func NewCatalog(plans []*models.SubscriptionPlan) (*Catalog, error) {
	c := &Catalog{
		plans:     make(map[string]*models.SubscriptionPlan, len(plans)),
		bandwidth: make(map[string]int64, len(plans)),
	}
	for _, p := range plans {
		if p == nil || p.ID == "" {
			return nil, models.NewValidationError("plan", "missing id")
		}
		if _, dup := c.plans[p.ID]; dup {
			return nil, models.NewValidationError("plan", fmt.Sprintf("duplicate id %q", p.ID))
		}
		if p.Price.IsNegative() {
			return nil, models.NewValidationError("plan", fmt.Sprintf("%s: negative price", p.ID))
		}
		if _, err := billing.AddInterval(time.Time{}, p.Interval); err != nil {
			return nil, models.NewValidationError("plan", fmt.Sprintf("%s: %v", p.ID, err))
		}
		if p.MaxUsage != nil {
			limit, err := ParseSize(p.MaxUsage.Bandwidth)
			if err != nil {
				return nil, models.NewValidationError("plan", fmt.Sprintf("%s: %v", p.ID, err))
			}
			c.bandwidth[p.ID] = limit
		}
		c.plans[p.ID] = p
		c.order = append(c.order, p.ID)
	}
	sort.Strings(c.order)
	return c, nil
}

// Plan returns the plan with the given ID.
func (c *Catalog) Plan(id string) (*models.SubscriptionPlan, error) {
	p, ok := c.plans[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrPlanNotFound, id)
	}
	return p, nil
}

// Plans lists every plan ordered by ID.
func (c *Catalog) Plans() []*models.SubscriptionPlan {
	out := make([]*models.SubscriptionPlan, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.plans[id])
	}
	return out
}

// bandwidthLimit returns the plan's bandwidth ceiling in bytes; zero means unlimited.
func (c *Catalog) bandwidthLimit(planID string) int64 {
	return c.bandwidth[planID]
}
