// Command ratchetdemo walks a single hybrid handshake and double-ratchet
// exchange end to end, to give the library's config/logging/metrics
// packages a real caller. It opens no network listener.
package main

import (
	"log"

	"github.com/joho/godotenv"

	"ratchetcore"
	"ratchetcore/ratchetconfig"
	"ratchetcore/tracekit"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfg := ratchetconfig.Load()
	tracekit.MustRegister("ratchetdemo")
	logger := tracekit.NewLogger(tracekit.LogConfig{ServiceName: "ratchetdemo", Environment: "local", Level: "info"})
	sink := &tracekit.SlogSink{Logger: logger}

	dir := ratchetcore.NewDirectory(sink)

	alice, err := ratchetcore.NewDevice(cfg.PqParameterSet, cfg.OneTimePreKeyCount)
	if err != nil {
		log.Fatalf("generate alice device: %v", err)
	}
	bob, err := ratchetcore.NewDevice(cfg.PqParameterSet, cfg.OneTimePreKeyCount)
	if err != nil {
		log.Fatalf("generate bob device: %v", err)
	}
	dir.Publish(alice)
	dir.Publish(bob)

	bundle, err := dir.FetchBundle(bob.ID)
	if err != nil {
		log.Fatalf("fetch bob bundle: %v", err)
	}

	aliceSession, initial, err := ratchetcore.InitiatorHandshake(alice, bundle, cfg.SkippedKeyCap, sink)
	if err != nil {
		log.Fatalf("initiator handshake: %v", err)
	}
	bobSession, err := ratchetcore.ResponderHandshake(bob, initial, cfg.SkippedKeyCap, sink)
	if err != nil {
		log.Fatalf("responder handshake: %v", err)
	}

	msg, err := aliceSession.Encrypt([]byte("hello bob"))
	if err != nil {
		log.Fatalf("alice encrypt: %v", err)
	}
	plaintext, err := bobSession.Decrypt(msg)
	if err != nil {
		log.Fatalf("bob decrypt: %v", err)
	}
	log.Printf("bob received: %s", plaintext)

	reply, err := bobSession.Encrypt([]byte("hi alice"))
	if err != nil {
		log.Fatalf("bob encrypt: %v", err)
	}
	plaintext, err = aliceSession.Decrypt(reply)
	if err != nil {
		log.Fatalf("alice decrypt: %v", err)
	}
	log.Printf("alice received: %s", plaintext)
}
