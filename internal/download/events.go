package download

import "time"

// PieceDownloaded is emitted when a piece has been fetched,
// verified and written to storage
type PieceDownloaded struct {
	Torrent string
	Index   int
	Length  int
	Peer    string
	Elapsed time.Duration
}

// FetchFailed is emitted when a fetch job fails. The piece
// is requested again on a later pass.
type FetchFailed struct {
	Torrent string
	Index   int
	Peer    string
	Err     error
}

// TorrentFinished is emitted once when every piece of a
// torrent is owned
type TorrentFinished struct {
	Torrent string
	Pieces  int
	Elapsed time.Duration
}
