// Package metrics holds the prometheus instruments for the dialogue
// pipeline, served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Turns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vera_turns_total",
		Help: "Conversation turns dispatched to the chat backend",
	})

	TurnFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vera_turn_failures_total",
		Help: "Turns abandoned on a backend failure",
	})

	BargeIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vera_barge_ins_total",
		Help: "User interruptions while the assistant was speaking",
	})

	EchoDiscards = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vera_echo_discards_total",
		Help: "Transcript events discarded inside the echo cooldown window",
	})

	Utterances = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vera_utterances_total",
		Help: "Finalized user utterances",
	})

	TTSSentenceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vera_tts_sentence_failures_total",
		Help: "Sentences skipped because synthesis failed",
	})

	ScheduledAudioSeconds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vera_scheduled_audio_seconds_total",
		Help: "Seconds of assistant audio handed to playback",
	})

	TurnLatencyMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vera_turn_latency_ms",
		Help:    "Time from utterance dispatch to turn resolution (ms)",
		Buckets: prometheus.ExponentialBuckets(50, 1.6, 10),
	})

	TTSFirstChunkMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vera_tts_first_chunk_ms",
		Help:    "Time from synthesis request to first playable chunk (ms)",
		Buckets: prometheus.ExponentialBuckets(50, 1.6, 10),
	})

	ActiveConversations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vera_conversations_active",
		Help: "Active conversations (0 or 1)",
	})
)
