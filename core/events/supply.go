package events

import (
	"math/big"
	"strings"

	"synthvault/core/types"
)

const (
	// TypeTokenSupply is emitted whenever a token is issued or burned.
	TypeTokenSupply = "token.supply"

	SupplyReasonMint = "mint"
	SupplyReasonBurn = "burn"
)

// TokenSupply captures a supply delta. Delta is negative for burns.
type TokenSupply struct {
	Token  string
	Total  *big.Int
	Delta  *big.Int
	Reason string
}

func (TokenSupply) EventType() string { return TypeTokenSupply }

func (e TokenSupply) Event() *types.Event {
	token := normalizeSymbol(e.Token)
	if token == "" {
		token = "UNKNOWN"
	}
	attrs := map[string]string{"token": token, "total": amountString(e.Total)}
	if e.Delta != nil {
		attrs["delta"] = e.Delta.String()
	}
	if reason := strings.TrimSpace(e.Reason); reason != "" {
		attrs["reason"] = reason
	}
	return &types.Event{Type: TypeTokenSupply, Attributes: attrs}
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
