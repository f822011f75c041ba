package session

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	JoinCodeLength  = 6
	joinCodeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

func GenerateJoinCode() (string, error) {
	code := make([]byte, JoinCodeLength)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(joinCodeCharset))))
		if err != nil {
			return "", err
		}
		code[i] = joinCodeCharset[num.Int64()]
	}
	return string(code), nil
}

// NormalizeJoinCode makes lookups case-insensitive.
func NormalizeJoinCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func ValidJoinCode(code string) bool {
	if len(code) != JoinCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(joinCodeCharset, rune(code[i])) {
			return false
		}
	}
	return true
}
