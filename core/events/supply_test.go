package events

import (
	"math/big"
	"testing"
)

func TestTokenSupplyEvent(t *testing.T) {
	evt := TokenSupply{
		Token:  " susd",
		Total:  big.NewInt(5000),
		Delta:  big.NewInt(-250),
		Reason: SupplyReasonBurn,
	}.Event()
	if evt.Type != TypeTokenSupply {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	if evt.Attr("token") != "SUSD" {
		t.Fatalf("unexpected token attr: %s", evt.Attr("token"))
	}
	if evt.Attr("total") != "5000" || evt.Attr("delta") != "-250" {
		t.Fatalf("unexpected attrs: %+v", evt.Attributes)
	}
	if evt.Attr("reason") != SupplyReasonBurn {
		t.Fatalf("unexpected reason: %s", evt.Attr("reason"))
	}
}

func TestTokenSupplyEventDefaults(t *testing.T) {
	evt := TokenSupply{}.Event()
	if evt.Attr("token") != "UNKNOWN" || evt.Attr("total") != "0" {
		t.Fatalf("unexpected defaults: %+v", evt.Attributes)
	}
	if _, ok := evt.Attributes["delta"]; ok {
		t.Fatalf("delta should be omitted when unset")
	}
}
