package integrity

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
)

// VerifySignature checks an ed25519 signature over data against a trusted
// hex-encoded public key. Both the signature and the key are hex strings as
// carried in the manifest and config.
func VerifySignature(data []byte, sigHex, trustedKeyHex string) (bool, error) {
	key, err := hex.DecodeString(trustedKeyHex)
	if err != nil {
		return false, fmt.Errorf("invalid trusted key: %w", err)
	}
	if len(key) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid trusted key length: %d", len(key))
	}

	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature encoding: %w", err)
	}

	return ed25519.Verify(ed25519.PublicKey(key), data, sig), nil
}
