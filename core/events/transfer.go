package events

import (
	"math/big"

	"synthvault/core/types"
	"synthvault/crypto"
)

const (
	// TypeTransfer is emitted for every token balance movement between
	// accounts.
	TypeTransfer = "token.transfer"
)

type Transfer struct {
	Token  string
	From   crypto.Address
	To     crypto.Address
	Amount *big.Int
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{
		"from":   e.From.String(),
		"to":     e.To.String(),
		"amount": "0",
	}
	if token := normalizeSymbol(e.Token); token != "" {
		attrs["token"] = token
	}
	if e.Amount != nil {
		attrs["amount"] = e.Amount.String()
	}
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}
