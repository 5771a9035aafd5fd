package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// OTPDigits is the length of a one-time code.
const OTPDigits = 6

var otpSpace = big.NewInt(1_000_000)

// GenerateOTP returns a uniformly random, zero-padded 6-digit code.
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, otpSpace)
	if err != nil {
		return "", fmt.Errorf("auth: generating otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
