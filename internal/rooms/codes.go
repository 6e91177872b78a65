package rooms

import (
	"crypto/rand"
	"math/big"
)

// Room codes are drawn from the uppercase alphanumeric alphabet by
// rejection sampling against the store. The draw budget per length is
// bounded: after maxDrawsPerLength collisions the code grows by one
// character, so pathological collision load cannot livelock creation.
const (
	codeAlphabet       = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength         = 6
	maxDrawsPerLength  = 16
	maxCodeLengthBonus = 4
)

func randomCode(length int) (string, error) {
	buf := make([]byte, length)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
