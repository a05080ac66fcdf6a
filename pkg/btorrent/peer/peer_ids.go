package peer

import "fmt"

const clientPrefix = "-SB0100-"

var clientNames = map[string]string{
	"AZ": "Azureus",
	"BC": "BitComet",
	"DE": "Deluge",
	"KT": "KTorrent",
	"LT": "libtorrent",
	"lt": "libTorrent",
	"qB": "qBittorrent",
	"SB": "seedbox",
	"TR": "Transmission",
	"UT": "µTorrent",
	"WW": "WebTorrent",
}

// ClientName returns a human-readable name for the client
// that generated peerID, for Azureus-style ids such as
// "-TR2940-..."
func ClientName(peerID [20]byte) string {
	if peerID[0] != '-' || peerID[7] != '-' {
		return "Unknown"
	}

	name, ok := clientNames[string(peerID[1:3])]
	if !ok {
		name = string(peerID[1:3])
	}

	return fmt.Sprintf("%s %c.%c.%c", name, peerID[3], peerID[4], peerID[5])
}
