package ratchetcore

import "testing"

func TestHandshakeRejectsBadPqIdentitySignature(t *testing.T) {
	aliceDevice := newTestDevice(t)
	bobDevice := newTestDevice(t)
	dir := NewDirectory(nil)
	dir.Publish(bobDevice)

	bundle, err := dir.FetchBundle(bobDevice.ID)
	if err != nil {
		t.Fatalf("FetchBundle: %v", err)
	}
	bundle.PqIdentitySignature[0] ^= 0xFF

	if _, _, err := InitiatorHandshake(aliceDevice, bundle, defaultSkippedKeyCap, nil); err != ErrInvalidPqPreKeySignature {
		t.Fatalf("expected ErrInvalidPqPreKeySignature, got %v", err)
	}
}

// Scenario S6: exhausted one-time prekeys. Draining Bob's classical OPK
// queue must not block a new session: the handshake succeeds with DH4
// omitted, both sides land on the same root key, and messages round-trip.
func TestScenarioS6ExhaustedOneTimePreKeys(t *testing.T) {
	aliceDevice := newTestDevice(t)
	bobDevice := newTestDevice(t)
	dir := NewDirectory(nil)
	dir.Publish(bobDevice)

	// Drain Bob's one-time prekeys so the next bundle fetch has none left.
	for i := 0; i < 4; i++ {
		if _, err := dir.FetchBundle(bobDevice.ID); err != nil {
			t.Fatalf("FetchBundle #%d: %v", i, err)
		}
	}
	bundle, err := dir.FetchBundle(bobDevice.ID)
	if err != nil {
		t.Fatalf("FetchBundle: %v", err)
	}
	if bundle.HasOneTimePreKey {
		t.Fatal("expected one-time prekeys to be exhausted")
	}

	aliceSession, ib, err := InitiatorHandshake(aliceDevice, bundle, defaultSkippedKeyCap, nil)
	if err != nil {
		t.Fatalf("InitiatorHandshake with no one-time prekey: %v", err)
	}
	if ib.HasOneTimePreKey {
		t.Fatal("InitialBundle should not claim a one-time prekey when none was used")
	}
	bobSession, err := ResponderHandshake(bobDevice, ib, defaultSkippedKeyCap, nil)
	if err != nil {
		t.Fatalf("ResponderHandshake with no one-time prekey: %v", err)
	}

	msg, err := aliceSession.Encrypt([]byte("still secure without an opk"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	pt, err := bobSession.Decrypt(msg)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(pt) != "still secure without an opk" {
		t.Fatalf("got %q", pt)
	}
}

func TestResponderHandshakeRejectsUnknownOneTimeKeyID(t *testing.T) {
	aliceDevice := newTestDevice(t)
	bobDevice := newTestDevice(t)
	dir := NewDirectory(nil)
	dir.Publish(aliceDevice)
	dir.Publish(bobDevice)

	bundle, err := dir.FetchBundle(bobDevice.ID)
	if err != nil {
		t.Fatalf("FetchBundle: %v", err)
	}
	_, ib, err := InitiatorHandshake(aliceDevice, bundle, defaultSkippedKeyCap, nil)
	if err != nil {
		t.Fatalf("InitiatorHandshake: %v", err)
	}

	// Replay the same InitialBundle a second time: Bob already consumed
	// and discarded that one-time prekey, so the lookup must now fail.
	if _, err := ResponderHandshake(bobDevice, ib, defaultSkippedKeyCap, nil); err != nil {
		t.Fatalf("first ResponderHandshake: %v", err)
	}
	if _, err := ResponderHandshake(bobDevice, ib, defaultSkippedKeyCap, nil); err != ErrMissingOneTimeKey {
		t.Fatalf("expected ErrMissingOneTimeKey on replayed handshake, got %v", err)
	}
}

func TestHandshakeProducesMatchingRootOnBothSides(t *testing.T) {
	alice, bob := establishedSessions(t)

	// Alice's send chain and Bob's receive chain were both seeded from the
	// same X3DH output, so a message encrypted immediately after the
	// handshake (before either side ratchets) must decrypt cleanly.
	msg, err := alice.Encrypt([]byte("handshake derived the same keys"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	pt, err := bob.Decrypt(msg)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(pt) != "handshake derived the same keys" {
		t.Fatalf("got %q", pt)
	}
}
