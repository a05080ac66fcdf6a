package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/namvu9/seedbox/internal/download"
	"github.com/namvu9/seedbox/internal/upload"
	"github.com/namvu9/seedbox/pkg/btorrent"
	"github.com/namvu9/seedbox/pkg/size"
)

// SeedStat describes a torrent served by the session
type SeedStat struct {
	Name    string    `json:"name"`
	Hash    string    `json:"hash"`
	Pieces  int       `json:"pieces"`
	Size    size.Size `json:"size"`
	Leeches int       `json:"leeches"`
}

type Stat struct {
	Addr      string                 `json:"addr"`
	Uptime    time.Duration          `json:"uptime"`
	Downloads []download.ManagerStat `json:"downloads"`
	Seeding   []SeedStat             `json:"seeding"`
	Leeches   []upload.LeechStat     `json:"leeches"`
}

func (s Stat) String() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Listening on %s (up %s)\n", s.Addr, s.Uptime.Round(time.Second))

	for _, d := range s.Downloads {
		fmt.Fprintln(&sb, d)
	}

	for _, seed := range s.Seeding {
		fmt.Fprintf(&sb, "Seeding %s (%s, %d pieces) to %d leeches\n", seed.Name, seed.Size, seed.Pieces, seed.Leeches)
	}

	return sb.String()
}

func sizeOf(t btorrent.Torrent) size.Size {
	return size.Size(t.TotalLength())
}
