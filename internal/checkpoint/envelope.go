package checkpoint

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// KeySize is the HMAC key length in bytes.
const KeySize = 32

// LoadOrCreateKey reads the HMAC key from path, generating and persisting a
// fresh 32-byte key with owner-only permissions if it does not yet exist.
// The new key is written to a temp file and renamed into place; if the
// rename fails (e.g. a concurrent caller won the race), the key is re-read
// from path.
func LoadOrCreateKey(path string) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil {
		if len(data) != KeySize {
			return nil, fmt.Errorf("checkpoint: HMAC key file %q has unexpected length %d", path, len(data))
		}
		return data, nil
	}

	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("checkpoint: generating HMAC key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("checkpoint: creating key directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, key, 0600); err != nil {
		return nil, fmt.Errorf("checkpoint: writing HMAC key: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		// Another process may have won the race; fall through to re-read.
		_ = os.Remove(tmp)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: reading HMAC key after create: %w", err)
	}
	if len(data) != KeySize {
		return nil, fmt.Errorf("checkpoint: HMAC key file %q has unexpected length %d after create", path, len(data))
	}
	return data, nil
}

// sign computes the hex-encoded HMAC-SHA-256 digest of payload.
func sign(key, payload []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// wrapEnvelope builds an Envelope around payload, signed with key.
func wrapEnvelope(key []byte, payload json.RawMessage) Envelope {
	return Envelope{SHA256: sign(key, payload), Payload: payload}
}

// verifyEnvelope checks an Envelope's digest against key using a
// constant-time comparison, returning the payload on success.
func verifyEnvelope(key []byte, env Envelope) (json.RawMessage, error) {
	want, err := hex.DecodeString(env.SHA256)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: envelope digest is not valid hex: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(env.Payload)
	got := mac.Sum(nil)
	if !hmac.Equal(want, got) {
		return nil, fmt.Errorf("checkpoint: envelope integrity check failed")
	}
	return env.Payload, nil
}

// parseEnvelopeOrBare attempts to parse data as an Envelope; on success it
// verifies the digest. If data does not look like an envelope at all (no
// "sha256"/"payload" keys), it falls back to treating data itself as a
// bare, legacy unwrapped payload for backward compatibility.
func parseEnvelopeOrBare(key, data []byte) (json.RawMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err == nil && env.SHA256 != "" && len(env.Payload) > 0 {
		return verifyEnvelope(key, env)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("checkpoint: empty checkpoint data")
	}
	return data, nil
}
