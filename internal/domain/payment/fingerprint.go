package payment

import (
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/go-faster/errors"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"

	"github.com/xenking/storefront/internal/domain/validation"
)

var fingerprintSalt = []byte("storefront-card-fingerprint")

// Fingerprinter derives stable, non-reversible card identifiers so a saved
// card can be recognised without storing its number.
type Fingerprinter struct {
	key []byte
}

// NewFingerprinter derives the hashing key from secret.
func NewFingerprinter(secret []byte) (*Fingerprinter, error) {
	if len(secret) == 0 {
		return nil, errors.New("fingerprint secret is required")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, fingerprintSalt, []byte("v1")), key); err != nil {
		return nil, errors.Wrap(err, "derive fingerprint key")
	}
	return &Fingerprinter{key: key}, nil
}

// Fingerprint returns the hex encoded keyed hash of the normalized card
// number.
func (f *Fingerprinter) Fingerprint(number string) string {
	h, err := blake2b.New256(f.key)
	if err != nil {
		// Only possible with a key longer than 64 bytes.
		panic(err)
	}
	_, _ = h.Write([]byte(validation.NormalizeCardNumber(number)))
	return hex.EncodeToString(h.Sum(nil))
}

// Select reduces card input to a Selection. The fingerprinter may be nil, in
// which case no fingerprint is recorded.
func Select(kind Kind, card *CardInput, f *Fingerprinter) Selection {
	s := Selection{Kind: kind}
	if card == nil || !kind.RequiresCard() {
		return s
	}
	s.Brand = DetectBrand(card.Number)
	s.Last4 = Mask(card.Number)
	s.Holder = card.Holder
	if f != nil {
		s.Fingerprint = f.Fingerprint(card.Number)
	}
	return s
}
