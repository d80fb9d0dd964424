package ratchetcore

import "encoding/binary"

// Header rides alongside every ratchet-encrypted message. RatchetPublic is
// the sender's current DH ratchet public key; N is this message's index
// within the current sending chain; PN is the length of the sender's
// previous sending chain (needed by the receiver to know how many message
// keys to skip before switching chains). PqPublic, PqParameter, and
// PqCiphertext are only set on the first message of a new DH ratchet epoch:
// PqPublic is the sender's freshly generated ML-KEM public key for the peer
// to encapsulate against next time, PqParameter names the ML-KEM parameter
// set it was generated under, and PqCiphertext is the encapsulation against
// the peer's previously advertised PQ public key that braids into this
// epoch's root key.
type Header struct {
	RatchetPublic [32]byte
	N             uint32
	PN            uint32
	PqPublic      []byte
	PqParameter   PqParameterSet
	PqCiphertext  []byte
}

// associatedData returns the deterministic byte encoding bound into the AEAD
// tag: RatchetPublic || N || PN || len(PqPublic) || PqPublic ||
// len(PqParameter-name) || PqParameter-name || len(PqCiphertext) ||
// PqCiphertext, all lengths and
// counters little-endian. Binding the parameter-set name means a message
// can't be relabeled onto a different PQ parameter set in transit.
// Tampering with any header field invalidates the tag.
func (h Header) associatedData() []byte {
	paramName := h.PqParameter.String()
	out := make([]byte, 0, 32+4+4+4+len(h.PqPublic)+4+len(paramName)+4+len(h.PqCiphertext))
	out = append(out, h.RatchetPublic[:]...)

	var n32 [4]byte
	binary.LittleEndian.PutUint32(n32[:], h.N)
	out = append(out, n32[:]...)
	binary.LittleEndian.PutUint32(n32[:], h.PN)
	out = append(out, n32[:]...)

	binary.LittleEndian.PutUint32(n32[:], uint32(len(h.PqPublic)))
	out = append(out, n32[:]...)
	out = append(out, h.PqPublic...)

	binary.LittleEndian.PutUint32(n32[:], uint32(len(paramName)))
	out = append(out, n32[:]...)
	out = append(out, paramName...)

	binary.LittleEndian.PutUint32(n32[:], uint32(len(h.PqCiphertext)))
	out = append(out, n32[:]...)
	out = append(out, h.PqCiphertext...)
	return out
}

// Message is the wire envelope produced by Encrypt and consumed by Decrypt.
type Message struct {
	Header     Header
	Ciphertext []byte
}
