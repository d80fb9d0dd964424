package ratchetcore

import (
	"testing"

	"github.com/google/uuid"
)

func TestBuildInstallDistributionRoundTrip(t *testing.T) {
	sender, err := NewSenderKeyState(uuid.New(), uuid.New(), defaultSkippedKeyCap, nil)
	if err != nil {
		t.Fatalf("NewSenderKeyState: %v", err)
	}

	// Advance the chain once before distributing, so the recipient must
	// pick up mid-chain rather than always starting fresh at n=0.
	if _, err := sender.EncryptGroup([]byte("pre-distribution message")); err != nil {
		t.Fatalf("EncryptGroup: %v", err)
	}

	dist, err := BuildDistribution(sender)
	if err != nil {
		t.Fatalf("BuildDistribution: %v", err)
	}
	recipient, err := InstallDistribution(dist, defaultSkippedKeyCap, nil)
	if err != nil {
		t.Fatalf("InstallDistribution: %v", err)
	}
	if recipient.GroupID != sender.GroupID || recipient.SenderDeviceID != sender.SenderDeviceID {
		t.Fatal("installed recipient state does not match the distributed group/sender identity")
	}

	msg, err := sender.EncryptGroup([]byte("after distribution"))
	if err != nil {
		t.Fatalf("EncryptGroup: %v", err)
	}
	pt, err := recipient.DecryptGroup(msg)
	if err != nil {
		t.Fatalf("DecryptGroup: %v", err)
	}
	if string(pt) != "after distribution" {
		t.Fatalf("got %q, want %q", pt, "after distribution")
	}
}

func TestIsDistributionDetectsTag(t *testing.T) {
	sender, err := NewSenderKeyState(uuid.New(), uuid.New(), defaultSkippedKeyCap, nil)
	if err != nil {
		t.Fatalf("NewSenderKeyState: %v", err)
	}
	dist, err := BuildDistribution(sender)
	if err != nil {
		t.Fatalf("BuildDistribution: %v", err)
	}
	if !IsDistribution(dist) {
		t.Fatal("expected IsDistribution to recognize a built distribution payload")
	}
	if IsDistribution([]byte("just a regular chat message")) {
		t.Fatal("IsDistribution should not match ordinary plaintext")
	}
}

func TestInstallDistributionRejectsMalformedPayload(t *testing.T) {
	cases := []struct {
		name    string
		payload []byte
	}{
		{"no tag", []byte(`{"GroupID":"not-even-tagged"}`)},
		{"tag but not json", []byte(distributionTagPrefix + "not json at all")},
		{"tag with truncated json", []byte(distributionTagPrefix + `{"GroupID":`)},
		{"short chain key", []byte(distributionTagPrefix + `{"group_id":"` + uuid.New().String() + `","sender_device_id":"` + uuid.New().String() + `","chain_key":"AQI=","start_n":0,"signing_public":"AQI="}`)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := InstallDistribution(tc.payload, defaultSkippedKeyCap, nil); err == nil {
				t.Fatal("expected an error for malformed distribution payload")
			}
		})
	}
}
