package security

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strconv"

	"golang.org/x/crypto/bcrypt"
)

const (
	otpMin = 100000
	otpMax = 999999
)

// OTPGenerator produces six digit codes and hashes them with bcrypt.
type OTPGenerator struct {
	Cost   int
	Random io.Reader
}

func NewOTPGenerator(cost int) *OTPGenerator {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	return &OTPGenerator{Cost: cost, Random: rand.Reader}
}

// Generate returns a code drawn uniformly from [100000, 999999].
func (g *OTPGenerator) Generate() (string, error) {
	n, err := rand.Int(g.Random, big.NewInt(otpMax-otpMin+1))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return strconv.FormatInt(n.Int64()+otpMin, 10), nil
}

func (g *OTPGenerator) Hash(otp string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(otp), g.Cost)
	if err != nil {
		return "", fmt.Errorf("hash otp: %w", err)
	}
	return string(hash), nil
}

func (g *OTPGenerator) Compare(otp, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(otp))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("compare otp: %w", err)
}
