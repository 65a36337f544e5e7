package credential

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	minGeneratedLength = 12
	maxGeneratedLength = 20

	upperAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerAlphabet = "abcdefghijklmnopqrstuvwxyz"
	digitAlphabet = "0123456789"
	fullAlphabet  = upperAlphabet + lowerAlphabet + digitAlphabet
)

// GenerateSecurePassword produces a temporary password for account
// provisioning. Length is uniform in [12,20]; the result always contains at
// least one uppercase letter, one lowercase letter and one digit, with the
// remaining characters drawn uniformly from the combined alphabet and the
// final order shuffled uniformly. Randomness comes from crypto/rand.
func GenerateSecurePassword() (string, error) {
	span := int64(maxGeneratedLength - minGeneratedLength + 1)
	n, err := randInt(span)
	if err != nil {
		return "", fmt.Errorf("pick length: %w", err)
	}
	length := minGeneratedLength + int(n)

	chars := make([]byte, 0, length)
	for _, alphabet := range []string{upperAlphabet, lowerAlphabet, digitAlphabet} {
		c, err := randByte(alphabet)
		if err != nil {
			return "", err
		}
		chars = append(chars, c)
	}
	for len(chars) < length {
		c, err := randByte(fullAlphabet)
		if err != nil {
			return "", err
		}
		chars = append(chars, c)
	}

	// Fisher-Yates so the mandatory classes are not pinned to the front.
	for i := len(chars) - 1; i > 0; i-- {
		j, err := randInt(int64(i + 1))
		if err != nil {
			return "", err
		}
		chars[i], chars[j] = chars[j], chars[i]
	}
	return string(chars), nil
}

func randInt(max int64) (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(max))
	if err != nil {
		return 0, err
	}
	return n.Int64(), nil
}

func randByte(alphabet string) (byte, error) {
	n, err := randInt(int64(len(alphabet)))
	if err != nil {
		return 0, err
	}
	return alphabet[n], nil
}
