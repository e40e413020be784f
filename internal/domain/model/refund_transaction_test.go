//go:build !integration

package model

import (
	"testing"
	"time"
)

func TestNewRefundTransaction(t *testing.T) {
	req := NewRefundRequest(testTicket(), RefundReasonDuplicatePurchase, 100_000, 5_000, true, "user-1", "", now)
	txn := NewRefundTransaction(req, 100_000, 100_000, 5_000, now)

	if txn.Status != TransactionStatusInitiated {
		t.Errorf("expected initiated, got %s", txn.Status)
	}
	if txn.NetRefund != 95_000 {
		t.Errorf("expected net 95000, got %d", txn.NetRefund)
	}
	if txn.RefundRequestID != req.ID || txn.TicketID != req.TicketID || txn.PaymentMethod != req.PaymentMethod {
		t.Errorf("transaction not linked to its request: %+v", txn)
	}

	txn.MarkProcessing(now)
	if txn.Status != TransactionStatusProcessing || txn.ProcessedAt == nil {
		t.Errorf("unexpected state after MarkProcessing: %+v", txn)
	}
	txn.MarkCompleted("prov-1", now)
	if txn.Status != TransactionStatusCompleted || txn.ProviderReference != "prov-1" || txn.CompletedAt == nil {
		t.Errorf("unexpected state after MarkCompleted: %+v", txn)
	}
}

func TestTransactionStatus_Terminal(t *testing.T) {
	if !TransactionStatusCompleted.Terminal() || !TransactionStatusFailed.Terminal() {
		t.Error("completed and failed are terminal")
	}
	if TransactionStatusInitiated.Terminal() || TransactionStatusProcessing.Terminal() {
		t.Error("initiated and processing are not terminal")
	}
}

func TestRefundTransaction_IDOrder(t *testing.T) {
	req := NewRefundRequest(testTicket(), RefundReasonDuplicatePurchase, 100_000, 0, true, "user-1", "", now)
	first := NewRefundTransaction(req, 100_000, 100_000, 0, now)
	second := NewRefundTransaction(req, 100_000, 100_000, 0, now.Add(time.Second))
	// attempts sort chronologically by id, so "latest" is a plain ORDER BY
	if !(first.ID < second.ID) {
		t.Errorf("expected %s < %s", first.ID, second.ID)
	}
}
