package ratchetcore

import (
	"crypto/ed25519"
	"encoding/binary"
	"sync"

	"github.com/google/uuid"
)

// GroupMessage is the wire envelope for a sender-key ratchet message
// (component F): a chain-derived ciphertext plus an Ed25519 signature
// every recipient can verify against the sender's signing public key,
// since a symmetric chain key alone would let any member forge messages
// from any other member.
type GroupMessage struct {
	GroupID        uuid.UUID
	SenderDeviceID uuid.UUID
	N              uint32
	Ciphertext     []byte
	Signature      []byte
}

// SenderKeyState is one member's view of a group's sender-key chain: the
// sender holds the signing private key and advances the chain forward on
// every EncryptGroup call; recipients hold only the signing public key and
// advance their copy of the chain as DecryptGroup catches up to each
// message's index.
type SenderKeyState struct {
	mu sync.Mutex

	GroupID        uuid.UUID
	SenderDeviceID uuid.UUID

	signingPublic  ed25519.PublicKey
	signingPrivate ed25519.PrivateKey

	chainKey [32]byte
	n        uint32

	skipped *skippedKeyCache
	sink    Sink
}

// NewSenderKeyState creates a fresh sender-side chain for senderDeviceID in
// groupID: a random chain seed and a new Ed25519 signing keypair.
func NewSenderKeyState(groupID, senderDeviceID uuid.UUID, skippedCap int, sink Sink) (*SenderKeyState, error) {
	signingPublic, signingPrivate, err := ed25519.GenerateKey(currentRandSource())
	if err != nil {
		return nil, err
	}
	var seed [32]byte
	if err := readRandom(seed[:]); err != nil {
		return nil, err
	}
	return &SenderKeyState{
		GroupID:        groupID,
		SenderDeviceID: senderDeviceID,
		signingPublic:  signingPublic,
		signingPrivate: signingPrivate,
		chainKey:       seed,
		skipped:        newSkippedKeyCache(skippedCap),
		sink:           sink,
	}, nil
}

// newRecipientSenderKeyState builds a recipient's read-only copy of a
// sender-key chain from a DistributionRecord (component G): it has the
// chain key and the signing public key, but never the signing private key.
func newRecipientSenderKeyState(groupID, senderDeviceID uuid.UUID, chainKey [32]byte, startN uint32, signingPublic ed25519.PublicKey, skippedCap int, sink Sink) *SenderKeyState {
	return &SenderKeyState{
		GroupID:        groupID,
		SenderDeviceID: senderDeviceID,
		signingPublic:  signingPublic,
		chainKey:       chainKey,
		n:              startN,
		skipped:        newSkippedKeyCache(skippedCap),
		sink:           sink,
	}
}

func groupAssociatedData(groupID, senderDeviceID uuid.UUID, n uint32) []byte {
	out := make([]byte, 0, 16+16+4)
	out = append(out, groupID[:]...)
	out = append(out, senderDeviceID[:]...)
	var n32 [4]byte
	binary.BigEndian.PutUint32(n32[:], n)
	out = append(out, n32[:]...)
	return out
}

// groupEpoch is a stand-in "ratchet public" for the skipped-key cache: a
// sender-key chain has no DH epochs, so every skipped entry belongs to the
// same one, derived from the group and sender identity.
func (s *SenderKeyState) groupEpoch() [32]byte {
	var epoch [32]byte
	copy(epoch[:], groupAssociatedData(s.GroupID, s.SenderDeviceID, 0))
	return epoch
}

// EncryptGroup advances the sender's chain by one step, seals plaintext,
// and signs the result so recipients can authenticate the sender.
func (s *SenderKeyState) EncryptGroup(plaintext []byte) (GroupMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.signingPrivate) == 0 {
		return GroupMessage{}, ErrSendingChainEmpty
	}

	n := s.n
	mk, next := kdfChain(s.chainKey)
	s.chainKey = next
	s.n++

	ad := groupAssociatedData(s.GroupID, s.SenderDeviceID, n)
	ct, err := seal(mk, plaintext, ad)
	if err != nil {
		return GroupMessage{}, err
	}
	sig := ed25519.Sign(s.signingPrivate, append(append([]byte(nil), ad...), ct...))

	trace(s.sink, TraceGroup, "encrypt", map[string]any{"group": s.GroupID, "n": n})
	countRatchetSend(s.sink)
	return GroupMessage{
		GroupID:        s.GroupID,
		SenderDeviceID: s.SenderDeviceID,
		N:              n,
		Ciphertext:     ct,
		Signature:      sig,
	}, nil
}

// DecryptGroup verifies msg's signature against the sender's known signing
// public key, then authenticates and opens it, advancing the receiving
// chain (and stashing any skipped keys) as needed to reach msg.N.
func (s *SenderKeyState) DecryptGroup(msg GroupMessage) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ad := groupAssociatedData(msg.GroupID, msg.SenderDeviceID, msg.N)
	if !ed25519.Verify(s.signingPublic, append(append([]byte(nil), ad...), msg.Ciphertext...), msg.Signature) {
		countDecryptFailure(s.sink)
		return nil, ErrInvalidGroupSignature
	}

	epoch := s.groupEpoch()
	if mk, ok := s.skipped.consume(epoch, msg.N); ok {
		pt, err := open(mk, msg.Ciphertext, ad)
		if err != nil {
			countDecryptFailure(s.sink)
			return nil, ErrDecryptFailed
		}
		countRatchetReceive(s.sink)
		return pt, nil
	}

	if msg.N < s.n {
		trace(s.sink, TraceOrdering, "group_discarded", map[string]any{"group": msg.GroupID, "n": msg.N})
		countDecryptFailure(s.sink)
		return nil, ErrDiscarded
	}

	for s.n < msg.N {
		mk, next := kdfChain(s.chainKey)
		s.skipped.store(epoch, s.n, mk, s.sink)
		s.chainKey = next
		s.n++
	}
	mk, next := kdfChain(s.chainKey)
	s.chainKey = next
	s.n++

	pt, err := open(mk, msg.Ciphertext, ad)
	if err != nil {
		countDecryptFailure(s.sink)
		return nil, ErrDecryptFailed
	}
	trace(s.sink, TraceGroup, "decrypt", map[string]any{"group": msg.GroupID, "n": msg.N})
	countRatchetReceive(s.sink)
	return pt, nil
}
