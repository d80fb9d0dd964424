package ratchetcore

import "sync"

// SessionState is the pairwise hybrid double ratchet (component E): one
// side of an end-to-end session between two devices, holding the current
// root key, the independent sending/receiving chains, the active DH and PQ
// ratchet keypairs, and the FIFO cache of message keys skipped by
// out-of-order delivery.
type SessionState struct {
	mu sync.Mutex

	rootKey [32]byte

	sendChainKey [32]byte
	sendChainN   uint32
	hasSendChain bool
	pn           uint32

	recvChainKey [32]byte
	recvChainN   uint32
	hasRecvChain bool

	ratchetPrivate [32]byte
	ratchetPublic  [32]byte

	remoteRatchetPublic [32]byte
	hasRemoteRatchet    bool

	pqParameter       PqParameterSet
	pqPrivate         []byte
	pqPublic          []byte
	epochPqCiphertext []byte

	remotePqPublic []byte

	skipped *skippedKeyCache
	sink    Sink
}

// sessionSeed is the material a handshake hands to newSessionFromSeed: the
// X3DH output plus the DH/PQ ratchet state each side starts from.
type sessionSeed struct {
	rootKey       [32]byte
	chainKey      [32]byte
	chainIsSend   bool // true for the initiator (sending first), false for the responder
	ratchetPriv   [32]byte
	ratchetPub    [32]byte
	remoteRatchet [32]byte
	pqParameter   PqParameterSet
	pqPriv        []byte
	pqPub         []byte
	remotePqPub   []byte
	skippedCap    int
	sink          Sink
}

func newSessionFromSeed(seed sessionSeed) (*SessionState, error) {
	if isZeroKey32(seed.chainKey) {
		return nil, ErrSendingChainEmpty
	}
	s := &SessionState{
		rootKey:             seed.rootKey,
		ratchetPrivate:      seed.ratchetPriv,
		ratchetPublic:       seed.ratchetPub,
		remoteRatchetPublic: seed.remoteRatchet,
		hasRemoteRatchet:    true,
		pqParameter:         seed.pqParameter,
		pqPrivate:           seed.pqPriv,
		pqPublic:            seed.pqPub,
		remotePqPublic:      seed.remotePqPub,
		skipped:             newSkippedKeyCache(seed.skippedCap),
		sink:                seed.sink,
	}
	if seed.chainIsSend {
		s.sendChainKey = seed.chainKey
		s.hasSendChain = true
	} else {
		s.recvChainKey = seed.chainKey
		s.hasRecvChain = true
	}
	return s, nil
}

// ratchetOnSend advances the DH and PQ ratchets on the sending side: a
// fresh DH keypair, a fresh PQ keypair, and an encapsulation against the
// peer's last advertised PQ public key braid into a new root and sending
// chain key. Returns ErrDeferred if the peer's PQ public key is not yet
// known (the very first message cannot be sent until a handshake or an
// accepted message has populated it).
func (s *SessionState) ratchetOnSend() error {
	if len(s.remotePqPublic) == 0 {
		countDeferral(s.sink)
		return ErrDeferred
	}
	priv, pub, err := generateX25519KeyPair()
	if err != nil {
		return err
	}
	pqPub, pqPriv, err := pqGenerateKeyPair(s.pqParameter)
	if err != nil {
		return err
	}
	ct, ss, err := pqEncapsulate(s.pqParameter, s.remotePqPublic)
	if err != nil {
		return err
	}
	dh, err := x25519(priv, s.remoteRatchetPublic)
	if err != nil {
		return err
	}
	newRoot, newChain, err := kdfRootHybrid(s.rootKey, dh, ss)
	if err != nil {
		return err
	}

	s.pn = s.sendChainN
	s.rootKey = newRoot
	s.sendChainKey = newChain
	s.sendChainN = 0
	s.ratchetPrivate = priv
	s.ratchetPublic = pub
	s.pqPrivate = pqPriv
	s.pqPublic = pqPub
	s.epochPqCiphertext = ct
	s.hasSendChain = true
	return nil
}

// ratchetOnReceive advances the DH and PQ ratchets on the receiving side
// when a header announces a new epoch (a ratchet public key we have not
// seen before). If the header doesn't carry the PQ ciphertext a new epoch
// requires, nothing about the session is mutated and ErrDeferred is
// returned: the caller holds the message and retries it once a later
// message from the same peer is accepted. Any message keys still owed
// from the previous receiving chain are stashed in the skipped cache only
// once the epoch is actually going to be installed.
func (s *SessionState) ratchetOnReceive(h Header) error {
	if len(h.PqCiphertext) == 0 {
		countDeferral(s.sink)
		return ErrDeferred
	}
	if len(s.pqPrivate) == 0 {
		return ErrMissingPqCiphertext
	}
	if s.hasRecvChain {
		for s.recvChainN < h.PN {
			mk, next := kdfChain(s.recvChainKey)
			s.skipped.store(s.remoteRatchetPublic, s.recvChainN, mk, s.sink)
			s.recvChainKey = next
			s.recvChainN++
		}
	}
	pqShared, err := pqDecapsulate(s.pqParameter, s.pqPrivate, h.PqCiphertext)
	if err != nil {
		return err
	}
	dh, err := x25519(s.ratchetPrivate, h.RatchetPublic)
	if err != nil {
		return err
	}
	newRoot, newChain, err := kdfRootHybrid(s.rootKey, dh, pqShared)
	if err != nil {
		return err
	}

	s.rootKey = newRoot
	s.recvChainKey = newChain
	s.recvChainN = 0
	s.hasRecvChain = true
	s.remoteRatchetPublic = h.RatchetPublic
	s.hasRemoteRatchet = true
	if len(h.PqPublic) > 0 {
		s.remotePqPublic = h.PqPublic
	}
	s.hasSendChain = false
	return nil
}

// Encrypt advances the sending chain by one step and seals plaintext into
// a Message. If no sending chain is currently established, it first runs
// the DH/PQ ratchet to start one.
func (s *SessionState) Encrypt(plaintext []byte) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasSendChain {
		if err := s.ratchetOnSend(); err != nil {
			return Message{}, err
		}
	}

	header := Header{
		RatchetPublic: s.ratchetPublic,
		N:             s.sendChainN,
		PN:            s.pn,
	}
	if s.sendChainN == 0 && len(s.epochPqCiphertext) > 0 {
		header.PqPublic = append([]byte(nil), s.pqPublic...)
		header.PqParameter = s.pqParameter
		header.PqCiphertext = append([]byte(nil), s.epochPqCiphertext...)
	}

	mk, next := kdfChain(s.sendChainKey)
	s.sendChainKey = next
	s.sendChainN++

	ct, err := seal(mk, plaintext, header.associatedData())
	if err != nil {
		return Message{}, err
	}
	trace(s.sink, TraceRatchet, "encrypt", map[string]any{"n": header.N, "pn": header.PN})
	countRatchetSend(s.sink)
	return Message{Header: header, Ciphertext: ct}, nil
}

// Decrypt authenticates and opens msg, consuming a skipped key if it was
// stashed by an earlier out-of-order delivery, otherwise advancing the
// receiving chain (and the DH/PQ ratchet, if msg starts a new epoch) to
// reach it.
func (s *SessionState) Decrypt(msg Message) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mk, ok := s.skipped.consume(msg.Header.RatchetPublic, msg.Header.N); ok {
		pt, err := open(mk, msg.Ciphertext, msg.Header.associatedData())
		if err != nil {
			countDecryptFailure(s.sink)
			return nil, ErrDecryptFailed
		}
		countRatchetReceive(s.sink)
		return pt, nil
	}

	if !s.hasRemoteRatchet || msg.Header.RatchetPublic != s.remoteRatchetPublic {
		if err := s.ratchetOnReceive(msg.Header); err != nil {
			return nil, err
		}
	}

	if msg.Header.N < s.recvChainN {
		trace(s.sink, TraceOrdering, "discarded", map[string]any{"n": msg.Header.N})
		countDecryptFailure(s.sink)
		return nil, ErrDiscarded
	}

	for s.recvChainN < msg.Header.N {
		mk, next := kdfChain(s.recvChainKey)
		s.skipped.store(s.remoteRatchetPublic, s.recvChainN, mk, s.sink)
		s.recvChainKey = next
		s.recvChainN++
	}
	mk, next := kdfChain(s.recvChainKey)
	s.recvChainKey = next
	s.recvChainN++

	pt, err := open(mk, msg.Ciphertext, msg.Header.associatedData())
	if err != nil {
		countDecryptFailure(s.sink)
		return nil, ErrDecryptFailed
	}
	trace(s.sink, TraceRatchet, "decrypt", map[string]any{"n": msg.Header.N, "pn": msg.Header.PN})
	countRatchetReceive(s.sink)
	return pt, nil
}
