package password

// Scheme is one password hashing algorithm, recognised by its hash prefix.
type Scheme interface {
	Matches(hash string) bool
	Hash(password string) (string, error)
	Verify(password, hash string) (bool, error)
}

// Hasher hashes with the current scheme and verifies against any known scheme.
type Hasher struct {
	current Scheme
	schemes []Scheme
}

// NewHasher returns a Hasher that writes argon2id and still accepts bcrypt.
func NewHasher() *Hasher {
	return NewHasherWith(Argon2id{}, Bcrypt{})
}

// NewHasherWith builds a Hasher. current is used for new hashes; legacy schemes
// are only used for verification.
func NewHasherWith(current Scheme, legacy ...Scheme) *Hasher {
	return &Hasher{current: current, schemes: append([]Scheme{current}, legacy...)}
}

// Hash hashes password with the current scheme.
func (h *Hasher) Hash(password string) (string, error) {
	return h.current.Hash(password)
}

// Verify dispatches on the hash prefix.
func (h *Hasher) Verify(password, hash string) (bool, error) {
	for _, s := range h.schemes {
		if s.Matches(hash) {
			return s.Verify(password, hash)
		}
	}
	return false, errInvalidHash
}

// IsHash reports whether value looks like a hash any scheme understands.
func (h *Hasher) IsHash(value string) bool {
	for _, s := range h.schemes {
		if s.Matches(value) {
			return true
		}
	}
	return false
}

// NeedsRehash reports whether hash was written by a legacy scheme.
func (h *Hasher) NeedsRehash(hash string) bool {
	return !h.current.Matches(hash)
}
