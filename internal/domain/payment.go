package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentChallenge is a server-issued, single-use pricing request. Amount is
// serialized as a decimal string.
type PaymentChallenge struct {
	PaymentAddress string          `json:"paymentAddress"`
	Amount         decimal.Decimal `json:"amount"`
	Token          string          `json:"token"`
	Nonce          string          `json:"nonce"`
	ExpiresAt      int64           `json:"expiresAt"` // unix seconds
	MinimumChainID *int64          `json:"minimumChainId,omitempty"`
}

// Expired reports whether the challenge can no longer be answered.
func (c PaymentChallenge) Expired(now time.Time) bool {
	return now.Unix() >= c.ExpiresAt
}

// PaymentProof is the client-constructed evidence that a challenge's price
// has been paid.
type PaymentProof struct {
	Amount          decimal.Decimal `json:"amount"`
	PaymentAddress  string          `json:"paymentAddress"`
	TransactionHash string          `json:"transactionHash"`
	BlockNumber     uint64          `json:"blockNumber"`
	AgentID         string          `json:"agentId"`
	Nonce           string          `json:"nonce"`
	Timestamp       int64           `json:"timestamp"` // unix seconds
}

// DataUsageLog is the audit record of one gated-data access attempt.
type DataUsageLog struct {
	ID           string          `json:"id"`
	AgentID      string          `json:"agentId"`
	Endpoint     string          `json:"endpoint"`
	AmountPaid   decimal.Decimal `json:"amountPaid"`
	Timestamp    time.Time       `json:"timestamp"`
	Success      bool            `json:"success"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

// UsageSummary aggregates usage for one caller. TotalCost only counts
// successful attempts; Count counts every attempt.
type UsageSummary struct {
	Count     int             `json:"count"`
	TotalCost decimal.Decimal `json:"totalCost"`
}

// UnknownAgent is the summary key for entries without a caller identity.
const UnknownAgent = "unknown"

// Summarize groups logs by agent.
func Summarize(logs []DataUsageLog) map[string]UsageSummary {
	out := make(map[string]UsageSummary)
	for _, l := range logs {
		key := l.AgentID
		if key == "" {
			key = UnknownAgent
		}
		s := out[key]
		s.Count++
		if l.Success {
			s.TotalCost = s.TotalCost.Add(l.AmountPaid)
		}
		out[key] = s
	}
	return out
}
