package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ticketing-refund-core/internal/config"
	"ticketing-refund-core/internal/domain/ports/adapter"
)

// CardGateway reverses card charges through the acquirer's refund API. A
// card refund is tied to the original charge reference, not to an account
// number, so Destination carries the charge id captured at purchase time.
type CardGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewCardGateway(cfg config.RailConfig) (*CardGateway, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("card gateway base url empty")
	}
	return &CardGateway{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (g *CardGateway) Name() string { return "card" }

// Refund calls POST /v1/refunds against the original charge.
func (g *CardGateway) Refund(ctx context.Context, req adapter.SettlementRequest) (adapter.SettlementResult, error) {
	payload := map[string]any{
		"charge":      req.Destination,
		"amount":      req.Amount,
		"currency":    req.Currency,
		"description": req.Description,
		"metadata":    map[string]string{"refund_transaction_id": req.TransactionID},
	}
	b, _ := json.Marshal(payload)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/refunds", bytes.NewReader(b))
	if err != nil {
		return adapter.SettlementResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	httpReq.Header.Set("Idempotency-Key", req.TransactionID)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return adapter.SettlementResult{}, &adapter.SettlementError{Code: "network", Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Error  struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return adapter.SettlementResult{}, &adapter.SettlementError{Code: "bad_response", Message: err.Error(), Retryable: true}
	}
	if resp.StatusCode >= 500 {
		return adapter.SettlementResult{}, &adapter.SettlementError{Code: "provider_error", Message: fmt.Sprintf("http %d", resp.StatusCode), Retryable: true}
	}
	if resp.StatusCode >= 400 || out.Status == "failed" {
		code := out.Error.Code
		if code == "" {
			code = "declined"
		}
		return adapter.SettlementResult{}, &adapter.SettlementError{Code: code, Message: out.Error.Message, Retryable: false}
	}
	return adapter.SettlementResult{ProviderReference: out.ID, SettledAt: time.Now()}, nil
}
