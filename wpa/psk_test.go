package wpa

import "testing"

func TestDerivePSK(t *testing.T) {
	t.Run("quoted passphrase derives the 802.11 reference vector", func(t *testing.T) {
		// IEEE 802.11i test vector: PBKDF2-HMAC-SHA1("password", "IEEE", 4096, 32)
		got := derivePSK("IEEE", `"password"`)
		want := "f42c6fc52df0ebef9ebb4b90b38a5f902e83fe1b135a70e23aed762e9710a12e"
		if got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
		if len(got) != 64 {
			t.Errorf("expected 64 hex digits, got %d", len(got))
		}
	})

	t.Run("unquoted payload passes through", func(t *testing.T) {
		pre := "f42c6fc52df0ebef9ebb4b90b38a5f902e83fe1b135a70e23aed762e9710a12f"
		if got := derivePSK("IEEE", pre); got != pre {
			t.Errorf("pre-derived key was transformed: %s", got)
		}
	})

	t.Run("lone quote is not treated as quoted", func(t *testing.T) {
		if got := derivePSK("ssid", `"`); got != `"` {
			t.Errorf("expected passthrough, got %s", got)
		}
	})
}
