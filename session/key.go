package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Key identifies one live session: an account running one campaign over one
// target list.
type Key struct {
	Handle      string
	Campaign    string
	Fingerprint string
}

// NewKey derives the fingerprint from targets.
func NewKey(handle, campaign string, targets []string) Key {
	return Key{Handle: handle, Campaign: campaign, Fingerprint: Fingerprint(targets)}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Handle, k.Campaign, k.Fingerprint)
}

// Fingerprint hashes a target list so a resumed run over the same list maps
// to the same key. Order matters; surrounding whitespace does not.
func Fingerprint(targets []string) string {
	h := sha256.New()
	for i, t := range targets {
		if i > 0 {
			h.Write([]byte{'\n'})
		}
		h.Write([]byte(strings.TrimSpace(t)))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
