package checkout

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ParamsHash hashes the canonical JSON of params. encoding/json writes map
// keys in sorted order at every level, so logically equal maps hash equally.
func ParamsHash(params map[string]any) (string, error) {
	if params == nil {
		params = map[string]any{}
	}
	canonical, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("canonicalize checkout params: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// IdempotencyKey is the provider idempotency key for an attempt. Including the
// hash prefix lets one attempt token be reused with different parameters.
func IdempotencyKey(purpose, attemptToken, paramsHash string) string {
	prefix := paramsHash
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	return fmt.Sprintf("%s_%s_%s", purpose, attemptToken, prefix)
}
