package upload

// LeechJoined is emitted when a leech completes the handshake
// for a seeded torrent
type LeechJoined struct {
	ID      string
	Torrent string
	Peer    string
	Client  string
}

// LeechEvicted is emitted when a leech connection is removed
// from the connection table
type LeechEvicted struct {
	ID      string
	Torrent string
	Peer    string
	Reason  string
}

// PieceServed is emitted for every piece message queued in
// reply to a request
type PieceServed struct {
	Torrent string
	Peer    string
	Index   int
	Offset  int
	Length  int
}
