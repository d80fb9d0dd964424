package ratchetcore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"

	"github.com/cloudflare/circl/kem/mlkem/mlkem1024"
	"github.com/cloudflare/circl/kem/mlkem/mlkem512"
	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

var (
	randMu        sync.RWMutex
	randomnessSrc io.Reader = systemRandReader{}
)

// systemRandReader wraps crypto/rand.Reader but keeps the type unexported
// so tests can substitute a deterministic source via UseDeterministicRandom.
type systemRandReader struct{}

func (systemRandReader) Read(p []byte) (int, error) {
	return rand.Read(p)
}

// UseDeterministicRandom swaps the randomness source every key generation
// and AEAD nonce in this package draws from, for deterministic testing. It
// returns a restore function that must be called when the test completes.
//
// ML-KEM encapsulation's own internal coin-flip is not routed through this
// source: pqEncapsulate always passes a nil seed, so circl draws it directly
// from crypto/rand.Reader and PQ ciphertexts differ from run to run even
// under a deterministic source.
func UseDeterministicRandom(r io.Reader) func() {
	randMu.Lock()
	prev := randomnessSrc
	randomnessSrc = r
	randMu.Unlock()
	return func() {
		randMu.Lock()
		randomnessSrc = prev
		randMu.Unlock()
	}
}

func readRandom(b []byte) error {
	randMu.RLock()
	src := randomnessSrc
	randMu.RUnlock()
	_, err := io.ReadFull(src, b)
	return err
}

// currentRandSource returns an io.Reader over the current randomness
// source, for APIs (like circl's GenerateKeyPair) that want a reader rather
// than a fill-a-buffer call.
func currentRandSource() io.Reader {
	randMu.RLock()
	defer randMu.RUnlock()
	return randomnessSrc
}

// PqParameterSet selects the ML-KEM security level used for a device's PQ
// key material. It is carried on every PQ public record so the peer knows
// which scheme to use when encapsulating or unpacking.
type PqParameterSet int

const (
	PqMLKEM512 PqParameterSet = iota
	PqMLKEM768
	PqMLKEM1024
)

func (p PqParameterSet) String() string {
	switch p {
	case PqMLKEM512:
		return "ml_kem_512"
	case PqMLKEM768:
		return "ml_kem_768"
	case PqMLKEM1024:
		return "ml_kem_1024"
	default:
		return "unknown"
	}
}

func pqSizes(p PqParameterSet) (pubSize, privSize, ctSize, ssSize int, err error) {
	switch p {
	case PqMLKEM512:
		return mlkem512.PublicKeySize, mlkem512.PrivateKeySize, mlkem512.CiphertextSize, mlkem512.SharedKeySize, nil
	case PqMLKEM768:
		return mlkem768.PublicKeySize, mlkem768.PrivateKeySize, mlkem768.CiphertextSize, mlkem768.SharedKeySize, nil
	case PqMLKEM1024:
		return mlkem1024.PublicKeySize, mlkem1024.PrivateKeySize, mlkem1024.CiphertextSize, mlkem1024.SharedKeySize, nil
	default:
		return 0, 0, 0, 0, ErrUnsupportedPqParameter
	}
}

// pqGenerateKeyPair creates a fresh ML-KEM key pair at the given parameter
// set and returns the packed public/private bytes.
func pqGenerateKeyPair(p PqParameterSet) (pub, priv []byte, err error) {
	switch p {
	case PqMLKEM512:
		pk, sk, err := mlkem512.GenerateKeyPair(currentRandSource())
		if err != nil {
			return nil, nil, err
		}
		pub = make([]byte, mlkem512.PublicKeySize)
		priv = make([]byte, mlkem512.PrivateKeySize)
		pk.Pack(pub)
		sk.Pack(priv)
		return pub, priv, nil
	case PqMLKEM768:
		pk, sk, err := mlkem768.GenerateKeyPair(currentRandSource())
		if err != nil {
			return nil, nil, err
		}
		pub = make([]byte, mlkem768.PublicKeySize)
		priv = make([]byte, mlkem768.PrivateKeySize)
		pk.Pack(pub)
		sk.Pack(priv)
		return pub, priv, nil
	case PqMLKEM1024:
		pk, sk, err := mlkem1024.GenerateKeyPair(currentRandSource())
		if err != nil {
			return nil, nil, err
		}
		pub = make([]byte, mlkem1024.PublicKeySize)
		priv = make([]byte, mlkem1024.PrivateKeySize)
		pk.Pack(pub)
		sk.Pack(priv)
		return pub, priv, nil
	default:
		return nil, nil, ErrUnsupportedPqParameter
	}
}

// pqEncapsulate encapsulates to a packed ML-KEM public key, returning the
// ciphertext and the resulting shared secret.
func pqEncapsulate(p PqParameterSet, pub []byte) (ct, ss []byte, err error) {
	pubSize, _, ctSize, ssSize, err := pqSizes(p)
	if err != nil {
		return nil, nil, err
	}
	if len(pub) != pubSize {
		return nil, nil, ErrInvalidPqPublic
	}
	ct = make([]byte, ctSize)
	ss = make([]byte, ssSize)
	switch p {
	case PqMLKEM512:
		var pk mlkem512.PublicKey
		if err := pk.Unpack(pub); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPqPublic, err)
		}
		pk.EncapsulateTo(ct, ss, nil)
	case PqMLKEM768:
		var pk mlkem768.PublicKey
		if err := pk.Unpack(pub); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPqPublic, err)
		}
		pk.EncapsulateTo(ct, ss, nil)
	case PqMLKEM1024:
		var pk mlkem1024.PublicKey
		if err := pk.Unpack(pub); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPqPublic, err)
		}
		pk.EncapsulateTo(ct, ss, nil)
	}
	return ct, ss, nil
}

// pqDecapsulate decapsulates ct with a packed ML-KEM private key.
func pqDecapsulate(p PqParameterSet, priv []byte, ct []byte) (ss []byte, err error) {
	_, privSize, ctSize, ssSize, err := pqSizes(p)
	if err != nil {
		return nil, err
	}
	if len(priv) != privSize || len(ct) != ctSize {
		return nil, ErrPqDecapsulationFailed
	}
	ss = make([]byte, ssSize)
	switch p {
	case PqMLKEM512:
		var sk mlkem512.PrivateKey
		if err := sk.Unpack(priv); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPqDecapsulationFailed, err)
		}
		sk.DecapsulateTo(ss, ct)
	case PqMLKEM768:
		var sk mlkem768.PrivateKey
		if err := sk.Unpack(priv); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPqDecapsulationFailed, err)
		}
		sk.DecapsulateTo(ss, ct)
	case PqMLKEM1024:
		var sk mlkem1024.PrivateKey
		if err := sk.Unpack(priv); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPqDecapsulationFailed, err)
		}
		sk.DecapsulateTo(ss, ct)
	}
	return ss, nil
}

// generateX25519KeyPair creates a fresh Curve25519 agreement key pair.
func generateX25519KeyPair() (priv, pub [32]byte, err error) {
	if err = readRandom(priv[:]); err != nil {
		return priv, pub, err
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	pubSlice, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return priv, pub, err
	}
	copy(pub[:], pubSlice)
	return priv, pub, nil
}

func x25519(priv, pub [32]byte) ([]byte, error) {
	return curve25519.X25519(priv[:], pub[:])
}

// kdfChain is KDF_CK: one HMAC-SHA256 chain step producing a one-shot
// message key and the next chain key.
func kdfChain(ck [32]byte) (mk, nextCK [32]byte) {
	h := hmac.New(sha256.New, ck[:])
	h.Write([]byte{0x01})
	copy(mk[:], h.Sum(nil))

	h = hmac.New(sha256.New, ck[:])
	h.Write([]byte{0x02})
	copy(nextCK[:], h.Sum(nil))
	return mk, nextCK
}

// kdfRootClassical is KDF_RK_classical: HKDF-SHA256(ikm=dh, salt=rk,
// info="Signal-Root") split into a fresh root key and chain key.
func kdfRootClassical(rk [32]byte, dh []byte) (newRK, ck [32]byte, err error) {
	r := hkdf.New(sha256.New, dh, rk[:], []byte("Signal-Root"))
	if _, err = io.ReadFull(r, newRK[:]); err != nil {
		return newRK, ck, err
	}
	if _, err = io.ReadFull(r, ck[:]); err != nil {
		return newRK, ck, err
	}
	return newRK, ck, nil
}

// kdfRootHybrid is KDF_RK_hybrid: HKDF-SHA256(ikm=rk||dh||pq, salt=nil,
// info="Signal-Braid-Root") split into a fresh root key and chain key.
func kdfRootHybrid(rk [32]byte, dh []byte, pq []byte) (newRK, ck [32]byte, err error) {
	ikm := make([]byte, 0, 32+len(dh)+len(pq))
	ikm = append(ikm, rk[:]...)
	ikm = append(ikm, dh...)
	ikm = append(ikm, pq...)

	r := hkdf.New(sha256.New, ikm, nil, []byte("Signal-Braid-Root"))
	if _, err = io.ReadFull(r, newRK[:]); err != nil {
		return newRK, ck, err
	}
	if _, err = io.ReadFull(r, ck[:]); err != nil {
		return newRK, ck, err
	}
	return newRK, ck, nil
}

// deriveX3DHSecret derives the handshake's initial root key and seeds the
// first chain key from the same HKDF stream (a simplification documented in
// DESIGN.md: the reference handshake derives only a 32-byte root key and
// leaves the first chain key to an actual first ratchet step).
func deriveX3DHSecret(ikm []byte) (root, chain [32]byte, err error) {
	var zeroSalt [32]byte
	r := hkdf.New(sha256.New, ikm, zeroSalt[:], []byte("X3DH"))
	if _, err = io.ReadFull(r, root[:]); err != nil {
		return root, chain, err
	}
	if _, err = io.ReadFull(r, chain[:]); err != nil {
		return root, chain, err
	}
	return root, chain, nil
}

// seal encrypts plaintext with AES-256-GCM under key, authenticating ad,
// and returns nonce||ciphertext||tag.
func seal(key [32]byte, plaintext, ad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if err := readRandom(nonce); err != nil {
		return nil, err
	}
	sealed := gcm.Seal(nil, nonce, plaintext, ad)
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// open decrypts a seal()-produced payload, authenticating ad.
func open(key [32]byte, payload, ad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(payload) < gcm.NonceSize() {
		return nil, ErrDecryptFailed
	}
	nonce, ct := payload[:gcm.NonceSize()], payload[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ct, ad)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

func isZeroKey32(k [32]byte) bool {
	var zero [32]byte
	return k == zero
}
