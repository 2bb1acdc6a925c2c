// internal/lobby/codes.go
package lobby

import (
	"crypto/rand"
	"math/big"
)

// codeAlphabet omits 0/O/1/I so codes stay unambiguous when read aloud.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const codeLength = 6

// NewCode returns a short random lobby code meant to be shared between
// players out of band.
func NewCode() string {
	code := make([]byte, codeLength)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		code[i] = codeAlphabet[n.Int64()]
	}
	return string(code)
}
