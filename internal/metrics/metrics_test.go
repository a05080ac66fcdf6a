package metrics_test

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namvu9/seedbox/internal/download"
	"github.com/namvu9/seedbox/internal/metrics"
	"github.com/namvu9/seedbox/internal/upload"
)

func TestObserve(t *testing.T) {
	m := metrics.New()

	for _, ev := range []interface{}{
		download.PieceDownloaded{Torrent: "a", Index: 0, Length: 1024},
		download.PieceDownloaded{Torrent: "a", Index: 1, Length: 512},
		download.FetchFailed{Torrent: "a", Index: 2, Err: errors.New("reset")},
		download.TorrentFinished{Torrent: "a"},
		upload.LeechJoined{Torrent: "b"},
		upload.LeechJoined{Torrent: "b"},
		upload.PieceServed{Torrent: "b", Length: 16},
		upload.LeechEvicted{Torrent: "b"},
		"ignored",
	} {
		m.Observe(ev)
	}

	assert.Equal(t, float64(2), testutil.ToFloat64(m.PiecesDownloaded.WithLabelValues("a")))
	assert.Equal(t, float64(1536), testutil.ToFloat64(m.BytesDownloaded))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FetchFailures.WithLabelValues("a")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TorrentsFinished))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PiecesServed.WithLabelValues("b")))
	assert.Equal(t, float64(16), testutil.ToFloat64(m.BytesServed))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Leeches))
}

func TestHandler(t *testing.T) {
	m := metrics.New()
	m.Observe(download.TorrentFinished{Torrent: "a"})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "seedbox_torrents_finished_total 1"))
}
