package http_api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/core-coin/x402/internal/access"
	"github.com/core-coin/x402/internal/models"
	"github.com/core-coin/x402/internal/payment"
)

// Request and response headers of the x402 exchange.
const (
	PaymentHeader         = "X-PAYMENT"
	PaymentResponseHeader = "X-PAYMENT-RESPONSE"
	APIKeyHeader          = "X-API-Key"
	SubscriberHeader      = "X-Subscriber"
	TokensHeader          = "X-Usage-Tokens"
	BandwidthHeader       = "X-Usage-Bandwidth"
)

// DecisionKey is the gin context key under which Gate stores the access decision.
const DecisionKey = "x402.decision"

// Gate protects the routes behind it with the access decision of a service.
// Allowed requests continue with the decision stored under DecisionKey;
// everything else is answered with 401, 402, 403 or 429.
func Gate(engine models.BillingEngine, service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := accessRequest(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		if tokens := c.GetHeader(TokensHeader); tokens != "" {
			req.Tokens, err = strconv.ParseInt(tokens, 10, 64)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid " + TokensHeader})
				return
			}
		}
		req.Bandwidth = c.GetHeader(BandwidthHeader)

		d, err := engine.Decide(c.Request.Context(), service, req)
		if err != nil {
			abortWithError(c, err)
			return
		}
		if !d.Allowed {
			denied(c, d)
			return
		}
		setPaymentResponse(c, d)
		c.Set(DecisionKey, d)
		c.Next()
	}
}

// accessRequest reads the caller's identity and payment from the headers.
func accessRequest(c *gin.Context) (models.AccessRequest, error) {
	req := models.AccessRequest{
		Subscriber: c.GetHeader(SubscriberHeader),
		APIKey:     c.GetHeader(APIKeyHeader),
		Resource:   resourceURL(c),
	}
	header, err := paymentHeader(c)
	if err != nil {
		return req, err
	}
	req.Payment = header
	return req, nil
}

// paymentHeader decodes X-PAYMENT; a missing header yields nil.
func paymentHeader(c *gin.Context) (*models.PaymentHeader, error) {
	raw := c.GetHeader(PaymentHeader)
	if raw == "" {
		return nil, nil
	}
	return payment.DecodePaymentHeader(raw)
}

func resourceURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if fwd := c.GetHeader("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + c.Request.Host + c.Request.URL.RequestURI()
}

func setPaymentResponse(c *gin.Context, d *models.AccessDecision) {
	if d.Settlement == nil {
		return
	}
	if encoded, err := payment.EncodePaymentResponse(d.Settlement); err == nil {
		c.Header(PaymentResponseHeader, encoded)
	}
}

// denied answers a refused decision with the status matching its reason.
func denied(c *gin.Context, d *models.AccessDecision) {
	switch {
	case d.RateLimited:
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"success": false, "error": d.Reason})
	case d.Reason == access.ReasonInvalidAPIKey:
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": d.Reason})
	case d.Challenge != nil:
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
			"x402Version": d.Challenge.X402Version,
			"accepts":     d.Challenge.Accepts,
			"error":       d.Reason,
		})
	default:
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"success":              false,
			"error":                d.Reason,
			"subscriptionRequired": d.SubscriptionRequired,
			"subscription":         d.Subscription,
		})
	}
}
