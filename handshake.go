package ratchetcore

import (
	"crypto/ed25519"

	"github.com/google/uuid"
)

// InitialBundle is the single message an initiator sends a responder to
// start a session: the classical X3DH shares plus the ML-KEM ciphertext
// that braids a post-quantum shared secret into the same handshake
// (component D).
type InitialBundle struct {
	InitiatorDeviceID                uuid.UUID
	ResponderDeviceID                uuid.UUID
	InitiatorIdentitySigningPublic   ed25519.PublicKey
	InitiatorIdentityAgreementPublic [32]byte
	EphemeralPublic                  [32]byte

	UsedOneTimePreKeyID uuid.UUID
	HasOneTimePreKey    bool

	InitiatorPqPublic     []byte
	PqCiphertext          []byte
	UsedPqOneTimePreKeyID uuid.UUID
	HasPqOneTimePreKey    bool
}

// InitiatorHandshake runs the initiating side of the hybrid handshake
// against a peer's fetched PrekeyBundle: it verifies both prekey
// signatures, performs the four X3DH Diffie-Hellman shares, encapsulates
// an ML-KEM shared secret, and returns both the resulting session (ready
// to send) and the InitialBundle to transmit to the responder.
func InitiatorHandshake(initiator *Device, bundle PrekeyBundle, skippedCap int, sink Sink) (*SessionState, InitialBundle, error) {
	if !ed25519.Verify(bundle.IdentitySigningPublic, bundle.SignedPreKeyPublic[:], bundle.SignedPreKeySignature) {
		return nil, InitialBundle{}, ErrInvalidSignedPreKeySignature
	}
	if !ed25519.Verify(bundle.IdentitySigningPublic, bundle.PqIdentityPublic, bundle.PqIdentitySignature) {
		return nil, InitialBundle{}, ErrInvalidPqPreKeySignature
	}
	ephemeralPriv, ephemeralPub, err := generateX25519KeyPair()
	if err != nil {
		return nil, InitialBundle{}, err
	}

	dh1, err := x25519(initiator.identityAgreementPrivate, bundle.SignedPreKeyPublic)
	if err != nil {
		return nil, InitialBundle{}, err
	}
	dh2, err := x25519(ephemeralPriv, bundle.IdentityAgreementPublic)
	if err != nil {
		return nil, InitialBundle{}, err
	}
	dh3, err := x25519(ephemeralPriv, bundle.SignedPreKeyPublic)
	if err != nil {
		return nil, InitialBundle{}, err
	}

	// DH4 = DH(EK, OPK_B) is omitted entirely when the bundle carried no
	// one-time agreement key (spec.md §4.D step 4): a device whose OPK
	// pool is exhausted can still be handshaked against.
	var dh4 []byte
	if bundle.HasOneTimePreKey {
		dh4, err = x25519(ephemeralPriv, bundle.OneTimePreKeyPublic)
		if err != nil {
			return nil, InitialBundle{}, err
		}
	}

	pqTarget := bundle.PqIdentityPublic
	if bundle.HasPqOneTimePreKey {
		pqTarget = bundle.PqOneTimePreKeyPublic
	}
	pqCiphertext, pqShared, err := pqEncapsulate(bundle.PqParameter, pqTarget)
	if err != nil {
		return nil, InitialBundle{}, err
	}

	ownPqPub, ownPqPriv, err := pqGenerateKeyPair(bundle.PqParameter)
	if err != nil {
		return nil, InitialBundle{}, err
	}

	secret := make([]byte, 0, len(dh1)+len(dh2)+len(dh3)+len(dh4)+len(pqShared))
	secret = append(secret, dh1...)
	secret = append(secret, dh2...)
	secret = append(secret, dh3...)
	secret = append(secret, dh4...)
	secret = append(secret, pqShared...)

	root, chain, err := deriveX3DHSecret(secret)
	if err != nil {
		return nil, InitialBundle{}, err
	}

	session, err := newSessionFromSeed(sessionSeed{
		rootKey:       root,
		chainKey:      chain,
		chainIsSend:   true,
		ratchetPriv:   ephemeralPriv,
		ratchetPub:    ephemeralPub,
		remoteRatchet: bundle.SignedPreKeyPublic,
		pqParameter:   bundle.PqParameter,
		pqPriv:        ownPqPriv,
		pqPub:         ownPqPub,
		remotePqPub:   append([]byte(nil), bundle.PqIdentityPublic...),
		skippedCap:    skippedCap,
		sink:          sink,
	})
	if err != nil {
		return nil, InitialBundle{}, err
	}

	ib := InitialBundle{
		InitiatorDeviceID:                initiator.ID,
		ResponderDeviceID:                bundle.DeviceID,
		InitiatorIdentitySigningPublic:   initiator.IdentityPublic(),
		InitiatorIdentityAgreementPublic: initiator.identityAgreementPublic,
		EphemeralPublic:                  ephemeralPub,
		UsedOneTimePreKeyID:              bundle.OneTimePreKeyID,
		HasOneTimePreKey:                 bundle.HasOneTimePreKey,
		InitiatorPqPublic:                ownPqPub,
		PqCiphertext:                     pqCiphertext,
		UsedPqOneTimePreKeyID:            bundle.PqOneTimePreKeyID,
		HasPqOneTimePreKey:               bundle.HasPqOneTimePreKey,
	}
	trace(sink, TraceSession, "handshake_initiate", map[string]any{"responder": bundle.DeviceID})
	return session, ib, nil
}

// ResponderHandshake runs the responding side of the hybrid handshake: it
// decapsulates the ML-KEM ciphertext, performs the matching four X3DH
// shares, and returns the resulting session (ready to receive).
func ResponderHandshake(responder *Device, ib InitialBundle, skippedCap int, sink Sink) (*SessionState, error) {
	dh1, err := x25519(responder.signedPreKeyPrivate, ib.InitiatorIdentityAgreementPublic)
	if err != nil {
		return nil, err
	}
	dh2, err := x25519(responder.identityAgreementPrivate, ib.EphemeralPublic)
	if err != nil {
		return nil, err
	}
	dh3, err := x25519(responder.signedPreKeyPrivate, ib.EphemeralPublic)
	if err != nil {
		return nil, err
	}

	// DH4 mirrors the initiator's: present only if the initiator actually
	// used a one-time key, and only if the responder still has it (a
	// concurrent second consumer of the same id fails MissingOneTimeKey).
	var dh4 []byte
	if ib.HasOneTimePreKey {
		otkPriv, ok := responder.lookupOneTimePreKeyPrivate(ib.UsedOneTimePreKeyID)
		if !ok {
			return nil, ErrMissingOneTimeKey
		}
		dh4, err = x25519(otkPriv, ib.EphemeralPublic)
		if err != nil {
			return nil, err
		}
	}

	pqPriv := responder.pqIdentityPrivate
	if ib.HasPqOneTimePreKey {
		consumed, ok := responder.lookupOneTimePqPreKeyPrivate(ib.UsedPqOneTimePreKeyID)
		if !ok {
			return nil, ErrMissingOneTimeKey
		}
		pqPriv = consumed
	}
	pqShared, err := pqDecapsulate(responder.pqParameter, pqPriv, ib.PqCiphertext)
	if err != nil {
		return nil, ErrPqDecapsulationFailed
	}

	secret := make([]byte, 0, len(dh1)+len(dh2)+len(dh3)+len(dh4)+len(pqShared))
	secret = append(secret, dh1...)
	secret = append(secret, dh2...)
	secret = append(secret, dh3...)
	secret = append(secret, dh4...)
	secret = append(secret, pqShared...)

	root, chain, err := deriveX3DHSecret(secret)
	if err != nil {
		return nil, err
	}

	session, err := newSessionFromSeed(sessionSeed{
		rootKey:       root,
		chainKey:      chain,
		chainIsSend:   false,
		ratchetPriv:   responder.signedPreKeyPrivate,
		ratchetPub:    responder.signedPreKeyPublic,
		remoteRatchet: ib.EphemeralPublic,
		pqParameter:   responder.pqParameter,
		pqPriv:        responder.pqIdentityPrivate,
		pqPub:         append([]byte(nil), responder.pqIdentityPublic...),
		remotePqPub:   append([]byte(nil), ib.InitiatorPqPublic...),
		skippedCap:    skippedCap,
		sink:          sink,
	})
	if err != nil {
		return nil, err
	}
	trace(sink, TraceSession, "handshake_accept", map[string]any{"initiator": ib.InitiatorDeviceID})
	return session, nil
}
