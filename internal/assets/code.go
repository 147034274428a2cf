package assets

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// CodeLength is the length of a public asset code.
const CodeLength = 12

// codeAlphabet omits characters that are easy to misread on printed signs.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateCode returns a random code drawn uniformly from codeAlphabet.
func GenerateCode() (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	buf := make([]byte, CodeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate asset code: %w", err)
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
