package verification

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/binary"
	"fmt"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
)

// CodeGenerator produces the human-speakable code announced by the verification call.
type CodeGenerator interface {
	Generate() (string, error)
}

// HOTPCodes derives 6 digit codes from a random secret and counter.
type HOTPCodes struct{}

// Generate returns a fresh numeric validation code.
func (HOTPCodes) Generate() (string, error) {
	key := make([]byte, 20)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate code secret: %w", err)
	}
	var counter [8]byte
	if _, err := rand.Read(counter[:]); err != nil {
		return "", fmt.Errorf("generate code counter: %w", err)
	}

	secret := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(key)
	return hotp.GenerateCodeCustom(secret, binary.BigEndian.Uint64(counter[:]), hotp.ValidateOpts{
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}
