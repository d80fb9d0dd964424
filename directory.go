package ratchetcore

import (
	"sync"

	"github.com/google/uuid"
)

// Directory is the in-memory prekey directory (component C): the
// collaborator a handshake initiator queries to fetch a peer's bundle.
// Devices register themselves, and each fetch may hand out one-time
// prekeys that are never reused.
type Directory struct {
	mu      sync.Mutex
	devices map[uuid.UUID]*Device
	sink    Sink
}

// NewDirectory builds an empty directory. A nil sink disables tracing.
func NewDirectory(sink Sink) *Directory {
	return &Directory{
		devices: make(map[uuid.UUID]*Device),
		sink:    sink,
	}
}

// Publish registers a device so its bundles can be fetched by peers.
// Re-publishing the same device ID replaces the prior registration.
func (dir *Directory) Publish(d *Device) {
	dir.mu.Lock()
	defer dir.mu.Unlock()
	dir.devices[d.ID] = d
	trace(dir.sink, TraceSession, "directory_publish", map[string]any{"device": d.ID})
}

// FetchBundle returns a fresh PrekeyBundle for deviceID, consuming one
// classical and one PQ one-time prekey from that device's pool if any
// remain. Returns ErrUnknownDevice if no device is registered under that ID.
func (dir *Directory) FetchBundle(deviceID uuid.UUID) (PrekeyBundle, error) {
	dir.mu.Lock()
	d, ok := dir.devices[deviceID]
	dir.mu.Unlock()
	if !ok {
		return PrekeyBundle{}, ErrUnknownDevice
	}
	bundle := d.PublishBundle()
	if !bundle.HasOneTimePreKey {
		trace(dir.sink, TraceSession, "one_time_prekey_exhausted", map[string]any{"device": deviceID})
		countOneTimePreKeyExhausted(dir.sink)
	}
	if !bundle.HasPqOneTimePreKey {
		trace(dir.sink, TraceSession, "pq_one_time_prekey_exhausted", map[string]any{"device": deviceID})
		countOneTimePreKeyExhausted(dir.sink)
	}
	trace(dir.sink, TraceSession, "directory_fetch", map[string]any{"device": deviceID})
	return bundle, nil
}

// Lookup returns the registered device for deviceID, used by a responder
// to resolve its own device when accepting a handshake. Returns
// ErrUnknownDevice if unregistered.
func (dir *Directory) Lookup(deviceID uuid.UUID) (*Device, error) {
	dir.mu.Lock()
	defer dir.mu.Unlock()
	d, ok := dir.devices[deviceID]
	if !ok {
		return nil, ErrUnknownDevice
	}
	return d, nil
}

// Replenish tops up deviceID's one-time prekey pools, mirroring the
// rotation an operator would schedule once a directory reports exhaustion.
func (dir *Directory) Replenish(deviceID uuid.UUID, count int) error {
	dir.mu.Lock()
	d, ok := dir.devices[deviceID]
	dir.mu.Unlock()
	if !ok {
		return ErrUnknownDevice
	}
	if err := d.replenishOneTimePreKeys(count); err != nil {
		return err
	}
	return d.replenishPqOneTimePreKeys(count)
}
