package ratchetcore

import "errors"

// Configuration / lookup errors.
var (
	ErrUnknownDevice          = errors.New("ratchetcore: unknown device")
	ErrMissingOneTimeKey      = errors.New("ratchetcore: missing one-time prekey")
	ErrUnsupportedPqParameter = errors.New("ratchetcore: unsupported pq parameter set")
)

// Signature errors.
var (
	ErrInvalidSignedPreKeySignature = errors.New("ratchetcore: invalid signed prekey signature")
	ErrInvalidPqPreKeySignature     = errors.New("ratchetcore: invalid pq prekey signature")
	ErrInvalidGroupSignature        = errors.New("ratchetcore: invalid group message signature")
)

// Handshake errors.
var (
	ErrHandshakeMismatch     = errors.New("ratchetcore: handshake root key mismatch")
	ErrPqDecapsulationFailed = errors.New("ratchetcore: pq decapsulation failed")
)

// Ratchet errors.
var (
	ErrSendingChainEmpty   = errors.New("ratchetcore: sending chain not yet established")
	ErrMissingPqCiphertext = errors.New("ratchetcore: missing pq ciphertext on new ratchet epoch")
	ErrInvalidPqPublic     = errors.New("ratchetcore: invalid pq public key material")
	ErrDeferred            = errors.New("ratchetcore: message deferred, retry after next accepted message")
	ErrDecryptFailed       = errors.New("ratchetcore: message authentication failed")
)

// Group messaging errors.
var (
	ErrUnknownSenderKeyState = errors.New("ratchetcore: unknown sender-key state")
	ErrDiscarded             = errors.New("ratchetcore: message discarded (replay or evicted)")
)
