package session

import (
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/namvu9/seedbox/internal/ports"
)

// Config represents the configuration of a session
type Config struct {
	// BaseDir holds the .torrent files of every torrent the
	// session knows about
	BaseDir string

	// DownloadDir is where torrent data is read from and
	// written to. Defaults to BaseDir.
	DownloadDir string

	IP   string
	Port uint16

	// Download
	Workers      int
	QueueSize    int
	PieceTimeout time.Duration

	// Upload
	MaxConnections       int
	KeepAliveInterval    time.Duration
	MaxKeepAliveInterval time.Duration

	// ForwardPort asks the local router to forward the seeding
	// port over UPnP
	ForwardPort bool
	Ports       ports.Service

	// EventBuffer is the capacity of the channel components
	// publish progress events on
	EventBuffer int

	Clock clockwork.Clock
}

func (cfg Config) withDefaults() Config {
	if cfg.BaseDir == "" {
		cfg.BaseDir = filepath.Join(os.TempDir(), "seedbox")
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = cfg.BaseDir
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 1024
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.ForwardPort && cfg.Ports == nil {
		cfg.Ports = ports.NewService(ports.Config{Description: "seedbox"})
	}

	return cfg
}
