package ratchetcore

import (
	"crypto/ed25519"
	"sync"

	"github.com/google/uuid"
)

// oneTimePreKey is a single classical (X25519) one-time prekey, published
// once and consumed at most once by a handshake.
type oneTimePreKey struct {
	id      uuid.UUID
	public  [32]byte
	private [32]byte
}

// oneTimePqPreKey is a single ML-KEM one-time prekey.
type oneTimePqPreKey struct {
	id      uuid.UUID
	public  []byte
	private []byte
}

// Device is a single end-to-end participant's long-term key material: the
// identity keys, the signed prekey, and the pool of one-time
// prekeys a peer draws from to run a handshake. It is component B: the
// device keystore.
type Device struct {
	mu sync.Mutex

	ID uuid.UUID

	identitySigningPublic  ed25519.PublicKey
	identitySigningPrivate ed25519.PrivateKey

	identityAgreementPublic  [32]byte
	identityAgreementPrivate [32]byte

	signedPreKeyPublic    [32]byte
	signedPreKeyPrivate   [32]byte
	signedPreKeySignature []byte

	oneTimePreKeys map[uuid.UUID]oneTimePreKey

	pqParameter         PqParameterSet
	pqIdentityPublic    []byte
	pqIdentityPrivate   []byte
	pqIdentitySignature []byte
	pqOneTimePreKeys    map[uuid.UUID]oneTimePqPreKey
}

// NewDevice generates a fresh identity, a signed prekey, a PQ identity
// prekey, and oneTimeCount one-time prekeys of each kind (classical and PQ).
func NewDevice(pqParameter PqParameterSet, oneTimeCount int) (*Device, error) {
	signingPub, signingPriv, err := ed25519.GenerateKey(currentRandSource())
	if err != nil {
		return nil, err
	}
	agreementPriv, agreementPub, err := generateX25519KeyPair()
	if err != nil {
		return nil, err
	}
	spkPriv, spkPub, err := generateX25519KeyPair()
	if err != nil {
		return nil, err
	}
	pqPub, pqPriv, err := pqGenerateKeyPair(pqParameter)
	if err != nil {
		return nil, err
	}

	d := &Device{
		ID:                       uuid.New(),
		identitySigningPublic:    signingPub,
		identitySigningPrivate:   signingPriv,
		identityAgreementPublic:  agreementPub,
		identityAgreementPrivate: agreementPriv,
		signedPreKeyPublic:       spkPub,
		signedPreKeyPrivate:      spkPriv,
		pqParameter:              pqParameter,
		pqIdentityPublic:         pqPub,
		pqIdentityPrivate:        pqPriv,
		oneTimePreKeys:           make(map[uuid.UUID]oneTimePreKey),
		pqOneTimePreKeys:         make(map[uuid.UUID]oneTimePqPreKey),
	}
	d.signedPreKeySignature = ed25519.Sign(signingPriv, spkPub[:])
	d.pqIdentitySignature = ed25519.Sign(signingPriv, pqPub)

	if err := d.replenishOneTimePreKeys(oneTimeCount); err != nil {
		return nil, err
	}
	if err := d.replenishPqOneTimePreKeys(oneTimeCount); err != nil {
		return nil, err
	}
	return d, nil
}

// replenishOneTimePreKeys generates n additional classical one-time
// prekeys and adds them to the pool.
func (d *Device) replenishOneTimePreKeys(n int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 0; i < n; i++ {
		priv, pub, err := generateX25519KeyPair()
		if err != nil {
			return err
		}
		id := uuid.New()
		d.oneTimePreKeys[id] = oneTimePreKey{id: id, public: pub, private: priv}
	}
	return nil
}

// replenishPqOneTimePreKeys generates n additional PQ one-time prekeys.
func (d *Device) replenishPqOneTimePreKeys(n int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 0; i < n; i++ {
		pub, priv, err := pqGenerateKeyPair(d.pqParameter)
		if err != nil {
			return err
		}
		id := uuid.New()
		d.pqOneTimePreKeys[id] = oneTimePqPreKey{id: id, public: pub, private: priv}
	}
	return nil
}

// takeOneTimePreKey removes and returns one classical one-time prekey from
// the pool, if any remain.
func (d *Device) takeOneTimePreKey() (oneTimePreKey, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, otk := range d.oneTimePreKeys {
		delete(d.oneTimePreKeys, id)
		return otk, true
	}
	return oneTimePreKey{}, false
}

// takeOneTimePqPreKey removes and returns one PQ one-time prekey from the
// pool, if any remain.
func (d *Device) takeOneTimePqPreKey() (oneTimePqPreKey, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, otk := range d.pqOneTimePreKeys {
		delete(d.pqOneTimePreKeys, id)
		return otk, true
	}
	return oneTimePqPreKey{}, false
}

// lookupOneTimePreKeyPrivate returns the private half of a classical
// one-time prekey the responder previously handed out, consuming it.
func (d *Device) lookupOneTimePreKeyPrivate(id uuid.UUID) ([32]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	otk, ok := d.oneTimePreKeys[id]
	if !ok {
		return [32]byte{}, false
	}
	delete(d.oneTimePreKeys, id)
	return otk.private, true
}

// lookupOneTimePqPreKeyPrivate returns the private half of a PQ one-time
// prekey the responder previously handed out, consuming it.
func (d *Device) lookupOneTimePqPreKeyPrivate(id uuid.UUID) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	otk, ok := d.pqOneTimePreKeys[id]
	if !ok {
		return nil, false
	}
	delete(d.pqOneTimePreKeys, id)
	return otk.private, true
}

// IdentityPublic returns the device's long-term Ed25519 signing public key.
func (d *Device) IdentityPublic() ed25519.PublicKey {
	out := make(ed25519.PublicKey, len(d.identitySigningPublic))
	copy(out, d.identitySigningPublic)
	return out
}

// PrekeyBundle is the public material a device publishes to the directory
// (component C) for other devices to fetch and handshake against.
type PrekeyBundle struct {
	DeviceID uuid.UUID

	IdentitySigningPublic   ed25519.PublicKey
	IdentityAgreementPublic [32]byte

	SignedPreKeyPublic    [32]byte
	SignedPreKeySignature []byte

	OneTimePreKeyID     uuid.UUID
	OneTimePreKeyPublic [32]byte
	HasOneTimePreKey    bool

	PqParameter         PqParameterSet
	PqIdentityPublic    []byte
	PqIdentitySignature []byte

	PqOneTimePreKeyID     uuid.UUID
	PqOneTimePreKeyPublic []byte
	HasPqOneTimePreKey    bool
}

// PublishBundle builds a PrekeyBundle, consuming one classical and one PQ
// one-time prekey from the pool if any remain (spec.md §4.C: a directory
// fetch hands out at most one of each kind of one-time key per bundle).
func (d *Device) PublishBundle() PrekeyBundle {
	b := PrekeyBundle{
		DeviceID:                d.ID,
		IdentitySigningPublic:   d.IdentityPublic(),
		IdentityAgreementPublic: d.identityAgreementPublic,
		SignedPreKeyPublic:      d.signedPreKeyPublic,
		SignedPreKeySignature:   append([]byte(nil), d.signedPreKeySignature...),
		PqParameter:             d.pqParameter,
		PqIdentityPublic:        append([]byte(nil), d.pqIdentityPublic...),
		PqIdentitySignature:     append([]byte(nil), d.pqIdentitySignature...),
	}
	if otk, ok := d.takeOneTimePreKey(); ok {
		b.OneTimePreKeyID = otk.id
		b.OneTimePreKeyPublic = otk.public
		b.HasOneTimePreKey = true
	}
	if otk, ok := d.takeOneTimePqPreKey(); ok {
		b.PqOneTimePreKeyID = otk.id
		b.PqOneTimePreKeyPublic = append([]byte(nil), otk.public...)
		b.HasPqOneTimePreKey = true
	}
	return b
}
