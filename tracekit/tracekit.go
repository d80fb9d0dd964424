// Package tracekit provides the default observability sink for ratchetcore:
// a log/slog JSON logger for trace events and a set of Prometheus counters
// for the metrics ratchetcore.Sink exposes. Both are optional collaborators;
// the engine itself never blocks on either.
package tracekit

import (
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"ratchetcore"
)

var (
	RatchetSendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratchetcore_sends_total",
			Help: "Total ratchet messages encrypted.",
		},
		[]string{"namespace"},
	)
	RatchetReceivesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratchetcore_receives_total",
			Help: "Total ratchet messages decrypted.",
		},
		[]string{"namespace"},
	)
	RatchetDeferralsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratchetcore_deferrals_total",
			Help: "Total sends and receives deferred pending PQ material.",
		},
		[]string{"namespace"},
	)
	DecryptFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratchetcore_decrypt_failures_total",
			Help: "Total AEAD open / signature verification failures and replay or too-old discards.",
		},
		[]string{"namespace"},
	)
	SkippedKeyEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratchetcore_skipped_key_evictions_total",
			Help: "Total skipped message keys evicted from the FIFO cache.",
		},
		[]string{"namespace"},
	)
	OneTimePreKeyExhaustionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratchetcore_one_time_prekey_exhaustions_total",
			Help: "Total empty one-time prekey pools (classical or PQ, counted separately) seen by directory fetches.",
		},
		[]string{"namespace"},
	)
)

// MustRegister curries every counter down to a fixed namespace label and
// registers them with the default Prometheus registry. Call once per
// process.
func MustRegister(namespace string) {
	RatchetSendsTotal = RatchetSendsTotal.MustCurryWith(prometheus.Labels{"namespace": namespace})
	RatchetReceivesTotal = RatchetReceivesTotal.MustCurryWith(prometheus.Labels{"namespace": namespace})
	RatchetDeferralsTotal = RatchetDeferralsTotal.MustCurryWith(prometheus.Labels{"namespace": namespace})
	DecryptFailuresTotal = DecryptFailuresTotal.MustCurryWith(prometheus.Labels{"namespace": namespace})
	SkippedKeyEvictionsTotal = SkippedKeyEvictionsTotal.MustCurryWith(prometheus.Labels{"namespace": namespace})
	OneTimePreKeyExhaustionsTotal = OneTimePreKeyExhaustionsTotal.MustCurryWith(prometheus.Labels{"namespace": namespace})

	prometheus.MustRegister(
		RatchetSendsTotal,
		RatchetReceivesTotal,
		RatchetDeferralsTotal,
		DecryptFailuresTotal,
		SkippedKeyEvictionsTotal,
		OneTimePreKeyExhaustionsTotal,
	)
}

// LogConfig configures NewLogger.
type LogConfig struct {
	ServiceName string
	Environment string
	Level       string
}

// NewLogger builds a JSON slog.Logger tagged with service/env fields.
func NewLogger(cfg LogConfig) *slog.Logger {
	level := new(slog.LevelVar)
	switch cfg.Level {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With(
		slog.String("service", cfg.ServiceName),
		slog.String("env", cfg.Environment),
	)
}

// SlogSink implements ratchetcore.Sink: trace events go to a slog.Logger,
// counters go to the package-level Prometheus vectors. Never logs
// plaintext or key material, only category, event name, and small scalar
// fields.
type SlogSink struct {
	Logger *slog.Logger
}

func (s *SlogSink) Trace(category ratchetcore.TraceCategory, event string, fields map[string]any) {
	if s == nil || s.Logger == nil {
		return
	}
	attrs := make([]any, 0, 2+2*len(fields))
	attrs = append(attrs, slog.String("category", string(category)))
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	s.Logger.Info(event, attrs...)
}

func (s *SlogSink) OnRatchetSend()            { RatchetSendsTotal.WithLabelValues().Inc() }
func (s *SlogSink) OnRatchetReceive()         { RatchetReceivesTotal.WithLabelValues().Inc() }
func (s *SlogSink) OnDeferral()               { RatchetDeferralsTotal.WithLabelValues().Inc() }
func (s *SlogSink) OnDecryptFailure()         { DecryptFailuresTotal.WithLabelValues().Inc() }
func (s *SlogSink) OnSkippedKeyEviction()     { SkippedKeyEvictionsTotal.WithLabelValues().Inc() }
func (s *SlogSink) OnOneTimePreKeyExhausted() { OneTimePreKeyExhaustionsTotal.WithLabelValues().Inc() }
