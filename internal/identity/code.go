package identity

import (
	"crypto/rand"
	"math/big"
)

// CodeAlphabet and CodeLength give 36^6 possible session codes.
const CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const CodeLength = 6

func GenerateCode() (string, error) {
	code := make([]byte, CodeLength)
	n := big.NewInt(int64(len(CodeAlphabet)))
	for i := range code {
		num, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", err
		}
		code[i] = CodeAlphabet[num.Int64()]
	}
	return string(code), nil
}

// ValidCode reports whether s looks like something GenerateCode made.
func ValidCode(s string) bool {
	if len(s) != CodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
