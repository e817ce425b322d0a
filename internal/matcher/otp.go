package matcher

import (
	"crypto/rand"
	"math/big"
	"strconv"
)

// NewOTP returns a random six digit code.
func NewOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+100000, 10), nil
}
