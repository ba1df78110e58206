// Package x402 implements the client side of the gated-data payment protocol
// and the header codec shared with the gateway.
//
// A request is first sent without payment. A 402 answer carries a challenge in
// WWW-Authenticate; the client pays it and retries exactly once with the proof
// in Authorization.
package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alanyoungcy/mandatebot/internal/domain"
)

// Wire constants.
const (
	Scheme          = "x402"
	ChallengeHeader = "WWW-Authenticate"
	ProofHeader     = "Authorization"
	CostHeader      = "x402-cost"
)

// EncodeChallenge renders c as a WWW-Authenticate value:
// "x402 <base64(json(challenge))>".
func EncodeChallenge(c domain.PaymentChallenge) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("x402: encode challenge: %w", err)
	}
	return Scheme + " " + base64.StdEncoding.EncodeToString(raw), nil
}

// ParseChallenge decodes a WWW-Authenticate value produced by EncodeChallenge.
// Every malformation is reported as domain.ErrProtocol.
func ParseChallenge(header string) (domain.PaymentChallenge, error) {
	var c domain.PaymentChallenge
	payload, err := cutScheme(header)
	if err != nil {
		return c, err
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return c, fmt.Errorf("x402: challenge is not base64: %w", domain.ErrProtocol)
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("x402: challenge json: %v: %w", err, domain.ErrProtocol)
	}
	if c.Nonce == "" || c.PaymentAddress == "" {
		return c, fmt.Errorf("x402: challenge missing nonce or payment address: %w", domain.ErrProtocol)
	}
	return c, nil
}

// EncodeProof renders p as an Authorization value: "x402 <json(proof)>".
func EncodeProof(p domain.PaymentProof) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("x402: encode proof: %w", err)
	}
	return Scheme + " " + string(raw), nil
}

// ParseProof decodes an Authorization value produced by EncodeProof.
func ParseProof(header string) (domain.PaymentProof, error) {
	var p domain.PaymentProof
	payload, err := cutScheme(header)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return p, fmt.Errorf("x402: proof json: %v: %w", err, domain.ErrProtocol)
	}
	if p.Nonce == "" {
		return p, fmt.Errorf("x402: proof missing nonce: %w", domain.ErrProtocol)
	}
	return p, nil
}

// HasScheme reports whether an Authorization value uses the x402 scheme.
func HasScheme(header string) bool {
	_, err := cutScheme(header)
	return err == nil
}

func cutScheme(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", fmt.Errorf("x402: header missing: %w", domain.ErrProtocol)
	}
	scheme, payload, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, Scheme) {
		return "", fmt.Errorf("x402: expected %q scheme: %w", Scheme, domain.ErrProtocol)
	}
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return "", fmt.Errorf("x402: empty %s payload: %w", Scheme, domain.ErrProtocol)
	}
	return payload, nil
}
