// Package ratchetconfig loads the handful of tunables ratchetcore exposes
// from the environment, with the defaults spec'd for the engine.
package ratchetconfig

import (
	"os"
	"strconv"

	"ratchetcore"
)

// Config holds the engine-wide tunables: how many skipped message keys to
// retain per session/group chain, which ML-KEM parameter set new devices
// are issued, and how many one-time prekeys a fresh device publishes.
type Config struct {
	SkippedKeyCap      int
	PqParameterSet     ratchetcore.PqParameterSet
	OneTimePreKeyCount int
}

// Load reads RATCHET_SKIPPED_KEY_CAP, RATCHET_PQ_PARAMETER_SET, and
// RATCHET_ONE_TIME_PREKEY_COUNT from the environment, falling back to
// spec defaults (50, ml_kem_512, 10) for anything unset or unparsable.
func Load() Config {
	return Config{
		SkippedKeyCap:      getenvInt("RATCHET_SKIPPED_KEY_CAP", 50),
		PqParameterSet:     parsePqParameterSet(getenv("RATCHET_PQ_PARAMETER_SET", "ml_kem_512")),
		OneTimePreKeyCount: getenvInt("RATCHET_ONE_TIME_PREKEY_COUNT", 10),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func parsePqParameterSet(s string) ratchetcore.PqParameterSet {
	switch s {
	case "ml_kem_768":
		return ratchetcore.PqMLKEM768
	case "ml_kem_1024":
		return ratchetcore.PqMLKEM1024
	default:
		return ratchetcore.PqMLKEM512
	}
}
