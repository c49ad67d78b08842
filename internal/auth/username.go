package auth

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	usernameLength   = 12
	usernameAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// GenerateUsername builds a 12-character account username from the bank
// name's initials plus a random suffix, e.g. "NB-7KQ2M09XR" for "Nex Bank".
// Uniqueness is enforced by the store; collisions surface as duplicates at
// registration and are vanishingly rare.
func GenerateUsername(bankName string) (string, error) {
	var prefix strings.Builder
	for _, word := range strings.Fields(bankName) {
		prefix.WriteByte(byte(strings.ToUpper(word)[0]))
	}
	if prefix.Len() == 0 {
		prefix.WriteString("NB")
	}

	remaining := usernameLength - prefix.Len() - 1
	if remaining < 4 {
		remaining = 4
	}

	suffix := make([]byte, remaining)
	max := big.NewInt(int64(len(usernameAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		suffix[i] = usernameAlphabet[n.Int64()]
	}
	return prefix.String() + "-" + string(suffix), nil
}
