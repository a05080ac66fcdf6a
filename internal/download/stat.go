package download

import (
	"fmt"
	"strings"
	"time"

	"github.com/namvu9/seedbox/pkg/size"
)

type State int

const (
	Queued State = iota
	Downloading
	Paused
	Done
	Stopped
)

func (s State) String() string {
	switch s {
	case Queued:
		return "Queued"
	case Downloading:
		return "Downloading"
	case Paused:
		return "Paused"
	case Done:
		return "Done"
	case Stopped:
		return "Stopped"
	default:
		return ""
	}
}

type ManagerStat struct {
	Name         string        `json:"name"`
	Hash         string        `json:"hash"`
	State        string        `json:"state"`
	Pieces       int           `json:"pieces"`
	TotalPieces  int           `json:"totalPieces"`
	Pending      int           `json:"pendingPieces"`
	Peers        int           `json:"peers"`
	Failures     int           `json:"failures"`
	Downloaded   size.Size     `json:"downloaded"`
	Left         size.Size     `json:"left"`
	Total        size.Size     `json:"total"`
	DownloadRate size.Size     `json:"downloadRate"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Progress returns the fraction of pieces owned
func (s ManagerStat) Progress() float64 {
	if s.TotalPieces == 0 {
		return 0
	}

	return float64(s.Pieces) / float64(s.TotalPieces)
}

func (s ManagerStat) String() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Name: %s\n", s.Name)
	fmt.Fprintf(&sb, "State: %s\n", s.State)
	fmt.Fprintf(&sb, "Pieces: %d / %d (%.1f %%)\n", s.Pieces, s.TotalPieces, s.Progress()*100)
	fmt.Fprintf(&sb, "Pieces pending: %d\n", s.Pending)
	fmt.Fprintf(&sb, "Downloaded: %s of %s\n", s.Downloaded, s.Total)
	fmt.Fprintf(&sb, "Download rate: %s / s\n", s.DownloadRate)
	fmt.Fprintf(&sb, "Peers: %d (%d failed fetches)\n", s.Peers, s.Failures)

	return sb.String()
}
