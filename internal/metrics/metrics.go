package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/namvu9/seedbox/internal/download"
	"github.com/namvu9/seedbox/internal/upload"
)

const namespace = "seedbox"

// Metrics counts transfer progress from the events emitted
// by the download scheduler and the upload service
type Metrics struct {
	registry *prometheus.Registry

	PiecesDownloaded *prometheus.CounterVec
	BytesDownloaded  prometheus.Counter
	FetchFailures    *prometheus.CounterVec
	TorrentsFinished prometheus.Counter
	PiecesServed     *prometheus.CounterVec
	BytesServed      prometheus.Counter
	Leeches          prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PiecesDownloaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pieces_downloaded_total",
			Help:      "Pieces fetched, verified and written to storage.",
		}, []string{"torrent"}),
		BytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloaded_bytes_total",
			Help:      "Bytes of piece data downloaded.",
		}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Failed piece fetch jobs.",
		}, []string{"torrent"}),
		TorrentsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "torrents_finished_total",
			Help:      "Torrents with every piece downloaded.",
		}),
		PiecesServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pieces_served_total",
			Help:      "Piece messages queued in reply to requests.",
		}, []string{"torrent"}),
		BytesServed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "served_bytes_total",
			Help:      "Bytes of piece data served to leeches.",
		}),
		Leeches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "leeches",
			Help:      "Live leech connections.",
		}),
	}

	m.registry.MustRegister(
		m.PiecesDownloaded,
		m.BytesDownloaded,
		m.FetchFailures,
		m.TorrentsFinished,
		m.PiecesServed,
		m.BytesServed,
		m.Leeches,
		prometheus.NewGoCollector(),
	)

	return m
}

// Observe updates the metrics for one event. Unknown events
// are ignored.
func (m *Metrics) Observe(event interface{}) {
	switch v := event.(type) {
	case download.PieceDownloaded:
		m.PiecesDownloaded.WithLabelValues(v.Torrent).Inc()
		m.BytesDownloaded.Add(float64(v.Length))
	case download.FetchFailed:
		m.FetchFailures.WithLabelValues(v.Torrent).Inc()
	case download.TorrentFinished:
		m.TorrentsFinished.Inc()
	case upload.PieceServed:
		m.PiecesServed.WithLabelValues(v.Torrent).Inc()
		m.BytesServed.Add(float64(v.Length))
	case upload.LeechJoined:
		m.Leeches.Inc()
	case upload.LeechEvicted:
		m.Leeches.Dec()
	}
}

// Run observes events until ctx is done or events is closed
func (m *Metrics) Run(ctx context.Context, events <-chan interface{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.Observe(ev)
		}
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
