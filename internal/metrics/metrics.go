package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_active_connections",
		Help: "Active websocket connections",
	})

	Subscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_live_subscriptions",
		Help: "Live document store subscriptions held by sessions",
	})

	MessagesAppended = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_appended_total",
		Help: "Messages appended, by kind",
	}, []string{"kind"})

	MessagesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_marked_read_total",
		Help: "Messages flipped to read",
	})

	DecryptFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_decrypt_failures_total",
		Help: "Stored values that could not be decrypted",
	})

	EncryptFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_encrypt_fallbacks_total",
		Help: "Values stored as plaintext after an encryption error",
	})

	QuarantinedRecords = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_quarantined_records_total",
		Help: "Malformed records skipped at decode",
	})
)

func Init() {
	prometheus.MustRegister(
		Connections,
		Subscriptions,
		MessagesAppended,
		MessagesRead,
		DecryptFailures,
		EncryptFallbacks,
		QuarantinedRecords,
	)
}

// Handler returns an http.Handler for Prometheus scraping
func Handler() http.Handler {
	return promhttp.Handler()
}
