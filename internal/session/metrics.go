package session

import "github.com/prometheus/client_golang/prometheus"

var (
	ConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "textserver_connected_clients",
		Help: "Number of currently connected clients",
	})

	PendingLogins = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "textserver_pending_logins",
		Help: "Number of login negotiations in progress",
	})

	LinesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "textserver_lines_total",
		Help: "Total lines processed by direction",
	}, []string{"direction"})

	LoginsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "textserver_logins_total",
		Help: "Login negotiations by outcome",
	}, []string{"outcome"})

	OpenChannels = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "textserver_open_channels",
		Help: "Number of open application channels",
	})

	LineProcessingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "textserver_line_processing_seconds",
		Help:    "Time to process one input line",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(ConnectedClients)
	prometheus.MustRegister(PendingLogins)
	prometheus.MustRegister(LinesTotal)
	prometheus.MustRegister(LoginsTotal)
	prometheus.MustRegister(OpenChannels)
	prometheus.MustRegister(LineProcessingDuration)
}
