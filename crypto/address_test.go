package crypto

import "testing"

func TestAddressRoundTrip(t *testing.T) {
	raw := make([]byte, 20)
	raw[19] = 0x42
	addr := NewAddress(SynthPrefix, raw)
	encoded := addr.String()
	if encoded == "" || encoded[:4] != "syn1" {
		t.Fatalf("unexpected encoding: %s", encoded)
	}
	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Equal(addr) || decoded.Prefix() != SynthPrefix {
		t.Fatalf("round trip mismatch: %s", decoded)
	}
}

func TestAddressIsZero(t *testing.T) {
	if !(Address{}).IsZero() {
		t.Fatalf("empty address should be zero")
	}
	if !NewAddress(SynthPrefix, make([]byte, 20)).IsZero() {
		t.Fatalf("all-zero address should be zero")
	}
	raw := make([]byte, 20)
	raw[0] = 1
	if NewAddress(SynthPrefix, raw).IsZero() {
		t.Fatalf("non-zero address reported zero")
	}
}

func TestNewAddressCopiesInput(t *testing.T) {
	raw := make([]byte, 20)
	raw[0] = 7
	addr := NewAddress(SynthPrefix, raw)
	raw[0] = 9
	if addr.Bytes()[0] != 7 {
		t.Fatalf("address aliased caller slice")
	}
}

func TestModuleAddressDeterministic(t *testing.T) {
	a := ModuleAddress("synth")
	b := ModuleAddress("synth")
	if !a.Equal(b) {
		t.Fatalf("module address not deterministic")
	}
	if a.Equal(ModuleAddress("other")) {
		t.Fatalf("distinct modules share an address")
	}
	if a.IsZero() {
		t.Fatalf("module address must not be zero")
	}
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	if _, err := DecodeAddress("not-an-address"); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestGeneratedKeyAddress(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	restored, err := PrivateKeyFromBytes(key.Bytes())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !key.PubKey().Address().Equal(restored.PubKey().Address()) {
		t.Fatalf("restored key derived a different address")
	}
}
