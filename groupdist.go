package ratchetcore

import (
	"crypto/ed25519"
	"encoding/json"

	"github.com/google/uuid"
)

// distributionTagPrefix marks a pairwise-ratchet plaintext as carrying a
// group key distribution record rather than ordinary message content
// (component G). It rides inside an otherwise ordinary Encrypt/Decrypt
// round trip on the pairwise ratchet, so no separate transport is needed.
const distributionTagPrefix = "skdist:"

// DistributionRecord is the JSON envelope a group member sends to a peer,
// over an existing pairwise session, to bootstrap that peer's copy of the
// sender's sender-key chain.
type DistributionRecord struct {
	GroupID        uuid.UUID `json:"group_id"`
	SenderDeviceID uuid.UUID `json:"sender_device_id"`
	ChainKey       []byte    `json:"chain_key"`
	StartN         uint32    `json:"start_n"`
	SigningPublic  []byte    `json:"signing_public"`
}

// IsDistribution reports whether plaintext (the output of a pairwise
// Decrypt) is a group key distribution record rather than ordinary
// message content.
func IsDistribution(plaintext []byte) bool {
	return len(plaintext) >= len(distributionTagPrefix) &&
		string(plaintext[:len(distributionTagPrefix)]) == distributionTagPrefix
}

// BuildDistribution serializes state's current chain position into a
// tagged plaintext payload suitable for sending through SessionState.Encrypt.
func BuildDistribution(state *SenderKeyState) ([]byte, error) {
	state.mu.Lock()
	rec := DistributionRecord{
		GroupID:        state.GroupID,
		SenderDeviceID: state.SenderDeviceID,
		ChainKey:       append([]byte(nil), state.chainKey[:]...),
		StartN:         state.n,
		SigningPublic:  append([]byte(nil), state.signingPublic...),
	}
	state.mu.Unlock()

	body, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(distributionTagPrefix)+len(body))
	out = append(out, distributionTagPrefix...)
	out = append(out, body...)
	return out, nil
}

// InstallDistribution parses a tagged plaintext payload (the output of a
// pairwise Decrypt, once IsDistribution confirms the tag) into a
// recipient's SenderKeyState, ready to call DecryptGroup against.
func InstallDistribution(plaintext []byte, skippedCap int, sink Sink) (*SenderKeyState, error) {
	if !IsDistribution(plaintext) {
		return nil, ErrUnknownSenderKeyState
	}
	body := plaintext[len(distributionTagPrefix):]
	if !json.Valid(body) {
		return nil, ErrUnknownSenderKeyState
	}

	var rec DistributionRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, err
	}
	if len(rec.ChainKey) != 32 {
		return nil, ErrUnknownSenderKeyState
	}
	var chainKey [32]byte
	copy(chainKey[:], rec.ChainKey)

	state := newRecipientSenderKeyState(
		rec.GroupID, rec.SenderDeviceID, chainKey, rec.StartN,
		ed25519.PublicKey(rec.SigningPublic), skippedCap, sink,
	)
	trace(sink, TraceGroup, "distribution_installed", map[string]any{
		"group": rec.GroupID, "sender": rec.SenderDeviceID,
	})
	return state, nil
}
