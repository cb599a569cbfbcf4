package security

import (
	"crypto/rand"
	"math/big"
	"strconv"
)

const (
	codeMin = 100000
	codeMax = 999999
)

// NumericCodeGenerator draws six-digit codes uniformly from [100000, 999999]
// using crypto/rand.
type NumericCodeGenerator struct{}

func NewNumericCodeGenerator() NumericCodeGenerator { return NumericCodeGenerator{} }

func (NumericCodeGenerator) NewCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+codeMin, 10), nil
}
