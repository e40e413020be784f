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

// MobileMoneyGateway disburses refunds over a mobile-money aggregator's
// transfer API. The settlement transaction id is sent as the idempotency
// reference, so replaying an interrupted attempt cannot double-pay.
type MobileMoneyGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewMobileMoneyGateway(cfg config.RailConfig) (*MobileMoneyGateway, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("mobile money base url empty")
	}
	return &MobileMoneyGateway{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (g *MobileMoneyGateway) Name() string { return "mobile-money" }

// Transfer calls POST /v1/transfers and returns the provider reference.
func (g *MobileMoneyGateway) Transfer(ctx context.Context, req adapter.SettlementRequest) (adapter.SettlementResult, error) {
	payload := map[string]any{
		"reference":   req.TransactionID,
		"amount":      req.Amount,
		"currency":    req.Currency,
		"destination": req.Destination,
		"narration":   req.Description,
	}
	b, _ := json.Marshal(payload)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/transfers", bytes.NewReader(b))
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
		Status    string `json:"status"`
		Reference string `json:"provider_reference"`
		Error     struct {
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
	if resp.StatusCode >= 400 || out.Status != "SUCCESSFUL" {
		code := out.Error.Code
		if code == "" {
			code = "declined"
		}
		return adapter.SettlementResult{}, &adapter.SettlementError{Code: code, Message: out.Error.Message, Retryable: false}
	}
	return adapter.SettlementResult{ProviderReference: out.Reference, SettledAt: time.Now()}, nil
}
