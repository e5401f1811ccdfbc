package http_api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/core-coin/x402/internal/models"
	"github.com/core-coin/x402/pkg/validation"
)

// AccessBody is the optional JSON body of the /access endpoint.
type AccessBody struct {
	Subscriber string `json:"subscriber"`
	Tokens     int64  `json:"tokens" binding:"gte=0"`
	Bandwidth  string `json:"bandwidth"`
	Resource   string `json:"resource"`
}

// CreateSubscriptionRequest represents the JSON body for subscription creation
type CreateSubscriptionRequest struct {
	Subscriber string `json:"subscriber" binding:"required"`
	PlanID     string `json:"planId" binding:"required"`
}

// UsageRequest represents the JSON body for usage reports
type UsageRequest struct {
	Requests  int64  `json:"requests" binding:"gte=0"`
	Tokens    int64  `json:"tokens" binding:"gte=0"`
	Bandwidth string `json:"bandwidth"`
}

// abortWithError maps engine errors to statuses. Unknown errors are logged
// by the caller's logger and reported without detail.
func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	var invalid *models.ValidationError
	var insufficient *models.InsufficientPaymentError
	switch {
	case errors.As(err, &invalid):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.As(err, &insufficient):
		status, msg = http.StatusPaymentRequired, err.Error()
	case errors.Is(err, models.ErrPaymentRequired):
		status, msg = http.StatusPaymentRequired, err.Error()
	case errors.Is(err, models.ErrPlanNotFound),
		errors.Is(err, models.ErrServiceNotFound),
		errors.Is(err, models.ErrSubscriptionNotFound),
		errors.Is(err, models.ErrNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, models.ErrSubscriptionExists),
		errors.Is(err, models.ErrPaymentAlreadyUsed),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrSubscriptionInactive):
		status, msg = http.StatusConflict, err.Error()
	}
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
}

func (s *HTTPServer) fail(c *gin.Context, err error) {
	s.logger.Debug("Request failed", "path", c.FullPath(), "error", err)
	abortWithError(c, err)
}

// listServices is a handler for the /services endpoint.
func (s *HTTPServer) listServices(c *gin.Context) {
	type serviceView struct {
		*models.AgentServiceConfig
		PricingType models.PricingType `json:"pricingType"`
		Pricing     models.Pricing     `json:"pricing"`
	}
	services := s.engine.Services()
	out := make([]serviceView, 0, len(services))
	for _, svc := range services {
		out = append(out, serviceView{AgentServiceConfig: svc, PricingType: svc.Pricing.Type(), Pricing: svc.Pricing})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "services": out})
}

// challenge answers 402 with the payment challenge of a per-request service.
func (s *HTTPServer) challenge(c *gin.Context) {
	request, challenge, err := s.engine.Challenge(c.Param("name"), c.Query("resource"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusPaymentRequired, gin.H{
		"x402Version":    challenge.X402Version,
		"accepts":        challenge.Accepts,
		"paymentRequest": request,
	})
}

// access runs the access decision for a service on behalf of a hosting agent.
func (s *HTTPServer) access(c *gin.Context) {
	var body AccessBody
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body: " + err.Error(),
		})
		return
	}
	req, err := accessRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if body.Subscriber != "" {
		req.Subscriber = body.Subscriber
	}
	if body.Resource != "" {
		req.Resource = body.Resource
	}
	req.Tokens = body.Tokens
	req.Bandwidth = body.Bandwidth

	d, err := s.engine.Decide(c.Request.Context(), c.Param("name"), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	if !d.Allowed {
		denied(c, d)
		return
	}
	setPaymentResponse(c, d)
	c.JSON(http.StatusOK, gin.H{"success": true, "decision": d})
}

func (s *HTTPServer) serviceRevenue(c *gin.Context) {
	name := c.Param("name")
	found := false
	for _, svc := range s.engine.Services() {
		found = found || svc.Name == name
	}
	if !found {
		s.fail(c, models.ErrServiceNotFound)
		return
	}
	s.revenue(c, name)
}

func (s *HTTPServer) planRevenue(c *gin.Context) {
	id := c.Param("id")
	found := false
	for _, p := range s.engine.Plans() {
		found = found || p.ID == id
	}
	if !found {
		s.fail(c, models.ErrPlanNotFound)
		return
	}
	s.revenue(c, models.PlanReference(id))
}

func (s *HTTPServer) revenue(c *gin.Context, reference string) {
	rev, err := s.engine.Revenue(c.Request.Context(), reference)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "revenue": rev})
}

func (s *HTTPServer) listPlans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "plans": s.engine.Plans()})
}

// createSubscription enrolls a subscriber. Without X-PAYMENT a trial is
// started when the plan has one, otherwise the plan's challenge is returned.
func (s *HTTPServer) createSubscription(c *gin.Context) {
	var req CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Debug("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body: " + err.Error(),
		})
		return
	}

	// Subscribers are identified by their Core address
	subscriber, err := validation.ValidateAndNormalizeAddress(req.Subscriber)
	if err != nil {
		s.logger.Debug("Invalid subscriber address", "error", err, "address", req.Subscriber)
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid subscriber address: " + err.Error(),
		})
		return
	}

	header, err := paymentHeader(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	sub, err := s.engine.CreateSubscription(c.Request.Context(), subscriber, req.PlanID, header)
	if err != nil {
		s.paymentFailure(c, req.PlanID, err)
		return
	}

	s.logger.Info("Subscription created", "id", sub.ID, "subscriber", subscriber, "plan", req.PlanID)
	c.JSON(http.StatusCreated, gin.H{"success": true, "subscription": sub})
}

// paymentFailure answers payment errors of plan operations with the plan's challenge.
func (s *HTTPServer) paymentFailure(c *gin.Context, planID string, err error) {
	var insufficient *models.InsufficientPaymentError
	if !errors.Is(err, models.ErrPaymentRequired) && !errors.As(err, &insufficient) {
		s.fail(c, err)
		return
	}
	_, challenge, cerr := s.engine.PlanChallenge(planID, resourceURL(c))
	if cerr != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusPaymentRequired, gin.H{
		"x402Version": challenge.X402Version,
		"accepts":     challenge.Accepts,
		"error":       err.Error(),
	})
}

func (s *HTTPServer) getSubscription(c *gin.Context) {
	sub, err := s.engine.GetSubscription(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "subscription": sub})
}

func (s *HTTPServer) validateAccess(c *gin.Context) {
	res, err := s.engine.ValidateAccess(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "access": res})
}

func (s *HTTPServer) renewSubscription(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	sub, err := s.engine.GetSubscription(ctx, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	header, err := paymentHeader(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	renewed, err := s.engine.RenewSubscription(ctx, id, header)
	if err != nil {
		s.paymentFailure(c, sub.PlanID, err)
		return
	}
	s.logger.Info("Subscription renewed", "id", id)
	c.JSON(http.StatusOK, gin.H{"success": true, "subscription": renewed})
}

func (s *HTTPServer) cancelSubscription(c *gin.Context) {
	sub, err := s.engine.CancelSubscription(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.logger.Info("Subscription cancelled", "id", sub.ID)
	c.JSON(http.StatusOK, gin.H{"success": true, "subscription": sub})
}

func (s *HTTPServer) recordUsage(c *gin.Context) {
	var req UsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body: " + err.Error(),
		})
		return
	}
	sub, err := s.engine.RecordUsage(c.Request.Context(), c.Param("id"), req.Requests, req.Tokens, req.Bandwidth)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "usage": sub.Usage, "status": sub.Status})
}

func (s *HTTPServer) usageHistory(c *gin.Context) {
	rows, err := s.engine.UsageHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "usage": rows})
}

// streamEvents relays engine events as server-sent events until the client leaves.
func (s *HTTPServer) streamEvents(c *gin.Context) {
	events, cancel := s.engine.SubscribeEvents(64)
	defer cancel()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
