package ratchetcore

import (
	"bytes"
	"testing"
)

func TestKdfChainAdvancesAndIsDeterministic(t *testing.T) {
	var ck [32]byte
	copy(ck[:], []byte("initial-chain-key-for-unit-test"))

	mk1, next1 := kdfChain(ck)
	mk2, next2 := kdfChain(ck)
	if mk1 != mk2 || next1 != next2 {
		t.Fatal("kdfChain is not deterministic for the same input")
	}
	if mk1 == next1 {
		t.Fatal("message key and next chain key must differ")
	}

	_, next3 := kdfChain(next1)
	if next1 == next3 {
		t.Fatal("chain key did not advance on second step")
	}
}

func TestKdfRootHybridBindsAllThreeInputs(t *testing.T) {
	var rk [32]byte
	copy(rk[:], []byte("root-key-root-key-root-key-0000"))
	dh := bytes.Repeat([]byte{0x01}, 32)
	pq := bytes.Repeat([]byte{0x02}, 32)

	root1, chain1, err := kdfRootHybrid(rk, dh, pq)
	if err != nil {
		t.Fatalf("kdfRootHybrid: %v", err)
	}

	otherPq := bytes.Repeat([]byte{0x03}, 32)
	root2, chain2, err := kdfRootHybrid(rk, dh, otherPq)
	if err != nil {
		t.Fatalf("kdfRootHybrid: %v", err)
	}

	if root1 == root2 || chain1 == chain2 {
		t.Fatal("changing the pq input must change the derived root and chain")
	}

	otherDh := bytes.Repeat([]byte{0x04}, 32)
	root3, chain3, err := kdfRootHybrid(rk, otherDh, pq)
	if err != nil {
		t.Fatalf("kdfRootHybrid: %v", err)
	}
	if root1 == root3 || chain1 == chain3 {
		t.Fatal("changing the dh input must change the derived root and chain")
	}

	otherRk := rk
	otherRk[0] ^= 0xFF
	root4, chain4, err := kdfRootHybrid(otherRk, dh, pq)
	if err != nil {
		t.Fatalf("kdfRootHybrid: %v", err)
	}
	if root1 == root4 || chain1 == chain4 {
		t.Fatal("changing the root key input must change the derived root and chain")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	var key [32]byte
	copy(key[:], []byte("aead-key-aead-key-aead-key-00000"))
	ad := []byte("associated-data")
	plaintext := []byte("the quick brown fox")

	ct, err := seal(key, plaintext, ad)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	pt, err := open(key, ct, ad)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", pt, plaintext)
	}
}

func TestOpenRejectsTamperedAssociatedData(t *testing.T) {
	var key [32]byte
	copy(key[:], []byte("aead-key-aead-key-aead-key-00000"))
	ct, err := seal(key, []byte("hello"), []byte("ad-one"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := open(key, ct, []byte("ad-two")); err != ErrDecryptFailed {
		t.Fatalf("expected ErrDecryptFailed for tampered ad, got %v", err)
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	var key [32]byte
	copy(key[:], []byte("aead-key-aead-key-aead-key-00000"))
	ad := []byte("ad")
	ct, err := seal(key, []byte("hello"), ad)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	tampered := append([]byte(nil), ct...)
	tampered[len(tampered)-1] ^= 0xFF
	if _, err := open(key, tampered, ad); err != ErrDecryptFailed {
		t.Fatalf("expected ErrDecryptFailed for tampered ciphertext, got %v", err)
	}
}

func TestX25519AgreementIsSymmetric(t *testing.T) {
	aPriv, aPub, err := generateX25519KeyPair()
	if err != nil {
		t.Fatalf("generateX25519KeyPair: %v", err)
	}
	bPriv, bPub, err := generateX25519KeyPair()
	if err != nil {
		t.Fatalf("generateX25519KeyPair: %v", err)
	}

	secretA, err := x25519(aPriv, bPub)
	if err != nil {
		t.Fatalf("x25519: %v", err)
	}
	secretB, err := x25519(bPriv, aPub)
	if err != nil {
		t.Fatalf("x25519: %v", err)
	}
	if !bytes.Equal(secretA, secretB) {
		t.Fatal("x25519 shared secret must be the same from both sides")
	}
}

func TestPqKemRoundTrip(t *testing.T) {
	for _, param := range []PqParameterSet{PqMLKEM512, PqMLKEM768, PqMLKEM1024} {
		param := param
		t.Run(param.String(), func(t *testing.T) {
			pub, priv, err := pqGenerateKeyPair(param)
			if err != nil {
				t.Fatalf("pqGenerateKeyPair: %v", err)
			}
			ct, ss1, err := pqEncapsulate(param, pub)
			if err != nil {
				t.Fatalf("pqEncapsulate: %v", err)
			}
			ss2, err := pqDecapsulate(param, priv, ct)
			if err != nil {
				t.Fatalf("pqDecapsulate: %v", err)
			}
			if !bytes.Equal(ss1, ss2) {
				t.Fatal("encapsulated and decapsulated shared secrets differ")
			}
		})
	}
}

func TestDeterministicRandomSwap(t *testing.T) {
	restore1 := UseDeterministicRandom(bytes.NewReader(bytes.Repeat([]byte{0x42}, 4096)))
	_, pub1, err := generateX25519KeyPair()
	restore1()
	if err != nil {
		t.Fatalf("generateX25519KeyPair: %v", err)
	}

	restore2 := UseDeterministicRandom(bytes.NewReader(bytes.Repeat([]byte{0x42}, 4096)))
	_, pub2, err := generateX25519KeyPair()
	restore2()
	if err != nil {
		t.Fatalf("generateX25519KeyPair: %v", err)
	}

	if pub1 != pub2 {
		t.Fatal("same deterministic source must yield the same key pair")
	}
}
