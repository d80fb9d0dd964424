package ratchetcore

// TraceCategory tags a trace event by the subsystem that produced it.
type TraceCategory string

const (
	TraceSession  TraceCategory = "session"
	TraceRatchet  TraceCategory = "ratchet"
	TraceOrdering TraceCategory = "ordering"
	TraceGroup    TraceCategory = "group"
)

// Sink receives best-effort trace events and counter increments from the
// ratchet engine. Implementations must be safe for concurrent use. A nil
// Sink disables tracing and metrics entirely; every call site here checks
// for nil before calling out, so passing nil costs one branch, not a build
// tag. Sinks never see plaintext or key material, only category, event
// name, and small scalar fields.
type Sink interface {
	Trace(category TraceCategory, event string, fields map[string]any)
	OnRatchetSend()
	OnRatchetReceive()
	OnDeferral()
	OnDecryptFailure()
	OnSkippedKeyEviction()
	OnOneTimePreKeyExhausted()
}

func trace(sink Sink, category TraceCategory, event string, fields map[string]any) {
	if sink == nil {
		return
	}
	sink.Trace(category, event, fields)
}

func countRatchetSend(sink Sink) {
	if sink != nil {
		sink.OnRatchetSend()
	}
}

func countRatchetReceive(sink Sink) {
	if sink != nil {
		sink.OnRatchetReceive()
	}
}

func countDeferral(sink Sink) {
	if sink != nil {
		sink.OnDeferral()
	}
}

func countDecryptFailure(sink Sink) {
	if sink != nil {
		sink.OnDecryptFailure()
	}
}

func countSkippedKeyEviction(sink Sink) {
	if sink != nil {
		sink.OnSkippedKeyEviction()
	}
}

func countOneTimePreKeyExhausted(sink Sink) {
	if sink != nil {
		sink.OnOneTimePreKeyExhausted()
	}
}
