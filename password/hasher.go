package password

import "sync"

// Hasher hashes with Argon2id and verifies both Argon2id and legacy bcrypt.
type Hasher struct {
	argon  *Argon2
	legacy Bcrypt

	dummyOnce sync.Once
	dummy     string
}

// NewHasher returns a Hasher using cfg for new hashes.
func NewHasher(cfg Config) (*Hasher, error) {
	a, err := NewArgon2(cfg)
	if err != nil {
		return nil, err
	}
	return &Hasher{argon: a}, nil
}

// Hash returns a new Argon2id hash.
func (h *Hasher) Hash(pw string) (string, error) {
	return h.argon.Hash(pw)
}

// Verify dispatches on the hash prefix.
func (h *Hasher) Verify(pw, encoded string) (bool, error) {
	if isBcrypt(encoded) {
		return h.legacy.Verify(pw, encoded)
	}
	return h.argon.Verify(pw, encoded)
}

// NeedsUpgrade is true for bcrypt hashes and for weaker Argon2id parameters.
func (h *Hasher) NeedsUpgrade(encoded string) bool {
	if isBcrypt(encoded) {
		return true
	}
	upgrade, err := h.argon.NeedsUpgrade(encoded)
	return err == nil && upgrade
}

// VerifyDummy burns the same work as a real verification. Login calls it for
// unknown identifiers so response time does not reveal account existence.
func (h *Hasher) VerifyDummy(pw string) {
	h.dummyOnce.Do(func() {
		h.dummy, _ = h.argon.Hash("dummy-password-for-timing")
	})
	_, _ = h.argon.Verify(pw, h.dummy)
}
