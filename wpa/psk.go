package wpa

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// derivePSK turns a quoted plaintext passphrase into the 64-hex-digit
// pre-shared key wpa_supplicant stores, using the 802.11 key derivation
// PBKDF2-HMAC-SHA1(passphrase, ssid, 4096, 32). Unquoted payloads are
// assumed to be pre-derived and pass through untouched.
func derivePSK(ssid, psk string) string {
	if len(psk) < 2 || !strings.HasPrefix(psk, `"`) || !strings.HasSuffix(psk, `"`) {
		return psk
	}
	plain := psk[1 : len(psk)-1]
	key := pbkdf2.Key([]byte(plain), []byte(ssid), 4096, 32, sha1.New)
	return hex.EncodeToString(key)
}
