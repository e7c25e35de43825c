package sealed

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeyProvider resolves the sealing key for an owner. Key material is
// scoped per owner so one tenant's envelopes cannot be opened with
// another tenant's key.
type KeyProvider interface {
	KeyFor(ownerID string) ([]byte, error)
}

// DerivingKeyProvider derives per-owner keys from a single master
// secret with HKDF-SHA256. Derivation is deterministic, so no per-owner
// key state needs to be stored.
type DerivingKeyProvider struct {
	master []byte
}

// NewDerivingKeyProvider accepts the master secret as standard base64.
func NewDerivingKeyProvider(masterKeyBase64 string) (*DerivingKeyProvider, error) {
	master, err := base64.StdEncoding.DecodeString(masterKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("decoding master key: %w", err)
	}
	if len(master) < KeySize {
		return nil, fmt.Errorf("master key must be at least %d bytes, got %d", KeySize, len(master))
	}
	return &DerivingKeyProvider{master: master}, nil
}

func (p *DerivingKeyProvider) KeyFor(ownerID string) ([]byte, error) {
	reader := hkdf.New(sha256.New, p.master, nil, []byte("docproc/owner/"+ownerID))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("deriving key for owner %s: %w", ownerID, err)
	}
	return key, nil
}
