package session_test

import (
	"bytes"
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namvu9/seedbox/internal/download"
	"github.com/namvu9/seedbox/internal/session"
	"github.com/namvu9/seedbox/pkg/btorrent"
	"github.com/namvu9/seedbox/pkg/errors"
)

func randomData(n int) []byte {
	data := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(data)
	return data
}

func newSession(t *testing.T) (*session.Session, session.Config) {
	t.Helper()

	cfg := session.Config{
		BaseDir:     t.TempDir(),
		DownloadDir: t.TempDir(),
		IP:          "127.0.0.1",
		Workers:     4,
	}

	s := session.New(cfg)
	require.NoError(t, s.Init(context.Background()))
	t.Cleanup(func() { s.Close() })

	return s, cfg
}

func TestTransferBetweenSessions(t *testing.T) {
	data := randomData(5*1024 + 100)
	torrent, err := btorrent.Create("movie.bin", data, 1024)
	require.NoError(t, err)

	seeder, seederCfg := newSession(t)
	require.NoError(t, os.WriteFile(filepath.Join(seederCfg.DownloadDir, "movie.bin"), data, 0644))
	require.NoError(t, seeder.Seed(torrent))

	leecher, leecherCfg := newSession(t)
	events, unsubscribe := leecher.Subscribe(64)
	defer unsubscribe()

	peers := download.NewPeerPieceMap(torrent.PieceCount, seeder.Addr().String())
	require.NoError(t, leecher.Download(torrent, peers))

	var downloaded int
	timeout := time.After(10 * time.Second)

wait:
	for {
		select {
		case ev := <-events:
			switch v := ev.(type) {
			case download.PieceDownloaded:
				downloaded++
			case download.TorrentFinished:
				assert.Equal(t, "movie.bin", v.Torrent)
				assert.Equal(t, torrent.PieceCount, v.Pieces)
				break wait
			}
		case <-timeout:
			t.Fatal("download did not finish")
		}
	}

	assert.Equal(t, torrent.PieceCount, downloaded)
	assert.Equal(t, 1.0, testutil.ToFloat64(leecher.Metrics().TorrentsFinished))
	assert.Equal(t, float64(len(data)), testutil.ToFloat64(leecher.Metrics().BytesDownloaded))

	got, err := os.ReadFile(filepath.Join(leecherCfg.DownloadDir, "movie.bin"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))

	stat, err := leecherDownload(leecher, "movie.bin")
	require.NoError(t, err)
	assert.Equal(t, "Done", stat.State)
	assert.Equal(t, torrent.PieceCount, stat.Pieces)

	// Finished torrents are seeded by the session that
	// downloaded them
	assert.Eventually(t, func() bool {
		seeding := leecher.Stats().Seeding
		return len(seeding) == 1 && seeding[0].Name == "movie.bin"
	}, 2*time.Second, 10*time.Millisecond)

	_, err = os.Stat(filepath.Join(leecherCfg.BaseDir, torrent.HexHash()+".torrent"))
	assert.NoError(t, err, "metainfo is saved in the base directory")

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(seeder.Metrics().BytesServed) == float64(len(data))
	}, 2*time.Second, 10*time.Millisecond)
}

func leecherDownload(s *session.Session, name string) (download.ManagerStat, error) {
	for _, d := range s.Stats().Downloads {
		if d.Name == name {
			return d, nil
		}
	}

	return download.ManagerStat{}, errors.Newf("no download named %s", name)
}

func TestInitSeedsCompleteTorrents(t *testing.T) {
	var (
		baseDir     = t.TempDir()
		downloadDir = t.TempDir()
		complete    = randomData(3000)
		corrupt     = randomData(4000)
	)

	for name, data := range map[string][]byte{"complete.bin": complete, "corrupt.bin": corrupt} {
		torrent, err := btorrent.Create(name, data, 1024)
		require.NoError(t, err)
		require.NoError(t, btorrent.Save(filepath.Join(baseDir, name+".torrent"), torrent))
	}

	corrupt[100] ^= 0xff
	require.NoError(t, os.WriteFile(filepath.Join(downloadDir, "complete.bin"), complete, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(downloadDir, "corrupt.bin"), corrupt, 0644))

	s := session.New(session.Config{
		BaseDir:     baseDir,
		DownloadDir: downloadDir,
		IP:          "127.0.0.1",
	})
	require.NoError(t, s.Init(context.Background()))
	defer s.Close()

	seeding := s.Stats().Seeding
	require.Len(t, seeding, 1)
	assert.Equal(t, "complete.bin", seeding[0].Name)
	assert.Equal(t, 3, seeding[0].Pieces)

	_, ok := s.Torrent("complete.bin")
	assert.True(t, ok)
	_, ok = s.Torrent("corrupt.bin")
	assert.False(t, ok)
}

func TestPauseUnknownTorrent(t *testing.T) {
	s, _ := newSession(t)

	err := s.Pause("nope")
	assert.True(t, errors.Is(err, download.ErrUnknownTorrent))
	assert.Equal(t, errors.NotFound, errors.KindOf(err))

	err = s.Resume("nope")
	assert.True(t, errors.Is(err, download.ErrUnknownTorrent))
}

func TestDownloadWithoutPeers(t *testing.T) {
	s, _ := newSession(t)

	err := s.Download(btorrent.New("empty", 4, 1024), download.PeerPieceMap{})
	assert.True(t, errors.Is(err, download.ErrNoSeeds))
}

func TestCloseTwice(t *testing.T) {
	s := session.New(session.Config{
		BaseDir: t.TempDir(),
		IP:      "127.0.0.1",
	})
	require.NoError(t, s.Init(context.Background()))

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())

	events, _ := s.Subscribe(1)
	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription on a closed session is not closed")
	}
}
