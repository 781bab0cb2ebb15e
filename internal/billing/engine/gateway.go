// internal/billing/engine/gateway.go
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	commonerrors "membership-core/internal/common/errors"
	httpclient "membership-core/internal/common/http"
	"membership-core/internal/common/metrics"
)

// ChargeResult is the gateway's answer to a charge request. Success false
// with a FailureReason is a confirmed decline, which counts against the
// retry budget; a transport error is ambiguous and never advances state.
type ChargeResult struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId"`
	FailureReason string `json:"failureReason,omitempty"`
}

type RefundResult struct {
	Success bool `json:"success"`
}

// Gateway is the opaque payment collaborator. Implementations are assumed
// unreliable: they can fail, hang, or answer ambiguously.
type Gateway interface {
	Charge(ctx context.Context, amountCents int64, currency, methodRef string) (ChargeResult, error)
	Refund(ctx context.Context, transactionID string, amountCents int64) (RefundResult, error)
}

// BoundedGateway decorates a Gateway with a hard timeout and classifies
// transport failures, so callers can distinguish "declined" from "unknown".
type BoundedGateway struct {
	inner   Gateway
	timeout time.Duration
}

func NewBoundedGateway(inner Gateway, timeout time.Duration) *BoundedGateway {
	return &BoundedGateway{inner: inner, timeout: timeout}
}

func (g *BoundedGateway) Charge(ctx context.Context, amountCents int64, currency, methodRef string) (ChargeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	res, err := g.inner.Charge(ctx, amountCents, currency, methodRef)
	metrics.GatewayDuration.WithLabelValues("charge").Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ChargeResult{}, commonerrors.NewGatewayTimeoutError(err)
		}
		return ChargeResult{}, commonerrors.NewGatewayUnavailableError(err)
	}
	return res, nil
}

func (g *BoundedGateway) Refund(ctx context.Context, transactionID string, amountCents int64) (RefundResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	res, err := g.inner.Refund(ctx, transactionID, amountCents)
	metrics.GatewayDuration.WithLabelValues("refund").Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return RefundResult{}, commonerrors.NewGatewayTimeoutError(err)
		}
		return RefundResult{}, commonerrors.NewGatewayUnavailableError(err)
	}
	return res, nil
}

// HTTPGateway talks to the provider's REST API.
type HTTPGateway struct {
	client  *httpclient.Client
	baseURL string
	apiKey  string
}

func NewHTTPGateway(baseURL, apiKey string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		client:  httpclient.NewClient(timeout),
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

func (g *HTTPGateway) Charge(ctx context.Context, amountCents int64, currency, methodRef string) (ChargeResult, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"amount":           amountCents,
		"currency":         currency,
		"paymentMethodRef": methodRef,
	})
	if err != nil {
		return ChargeResult{}, err
	}

	var res ChargeResult
	if err := g.post(ctx, "/v1/charges", payload, &res); err != nil {
		return ChargeResult{}, err
	}
	return res, nil
}

func (g *HTTPGateway) Refund(ctx context.Context, transactionID string, amountCents int64) (RefundResult, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"transactionId": transactionID,
		"amount":        amountCents,
	})
	if err != nil {
		return RefundResult{}, err
	}

	var res RefundResult
	if err := g.post(ctx, "/v1/refunds", payload, &res); err != nil {
		return RefundResult{}, err
	}
	return res, nil
}

func (g *HTTPGateway) post(ctx context.Context, path string, payload []byte, out interface{}) error {
	req, err := http.NewRequest(http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.DoWithContext(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("gateway returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
