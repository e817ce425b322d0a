package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestSignerMatchesHMAC(t *testing.T) {
	s := NewSigner("shh")
	mac := hmac.New(sha256.New, []byte("shh"))
	mac.Write([]byte("order_1|pay_1"))
	want := hex.EncodeToString(mac.Sum(nil))
	if got := s.Sign("order_1", "pay_1"); got != want {
		t.Fatalf("got %s want %s", got, want)
	}
	if !s.Verify("order_1", "pay_1", want) {
		t.Fatal("valid signature rejected")
	}
}

func TestSignerRejectsTampering(t *testing.T) {
	s := NewSigner("shh")
	sig := s.Sign("order_1", "pay_1")
	cases := []struct{ order, payment, sig string }{
		{"order_2", "pay_1", sig},
		{"order_1", "pay_2", sig},
		{"order_1", "pay_1", sig[:len(sig)-1]},
		{"order_1", "pay_1", ""},
		{"order_1", "pay_1", NewSigner("other").Sign("order_1", "pay_1")},
	}
	for i, c := range cases {
		if s.Verify(c.order, c.payment, c.sig) {
			t.Errorf("case %d: tampered signature accepted", i)
		}
	}
}
