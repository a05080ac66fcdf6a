package btorrent

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/namvu9/bencode"
	"github.com/namvu9/seedbox/pkg/errors"
)

// HashLength is the length of a SHA-1 hash
const HashLength = 20

// Torrent describes a transferable unit: a single file
// split into fixed-size pieces. All pieces have the same
// length except, possibly, the last one.
type Torrent struct {
	Name        string
	PieceCount  int
	PieceLength int64

	// Length is the total number of bytes. A zero value means
	// PieceCount * PieceLength.
	Length int64

	// InfoHash identifies the torrent on the wire
	InfoHash [20]byte

	// Hashes holds the SHA-1 hash of every piece, if known.
	// Pieces of torrents without hashes are trusted once
	// fully received.
	Hashes [][]byte
}

// New returns a torrent without piece hashes. Its info hash
// is derived from its name.
func New(name string, pieceCount int, pieceLength int64) Torrent {
	return Torrent{
		Name:        name,
		PieceCount:  pieceCount,
		PieceLength: pieceLength,
		Length:      int64(pieceCount) * pieceLength,
		InfoHash:    sha1.Sum([]byte(name)),
	}
}

// ID returns the identifier used to address the torrent
// locally
func (t Torrent) ID() string {
	return t.Name
}

// HexHash returns the hex-encoded info hash
func (t Torrent) HexHash() string {
	return hex.EncodeToString(t.InfoHash[:])
}

func (t Torrent) TotalLength() int64 {
	if t.Length > 0 {
		return t.Length
	}

	return int64(t.PieceCount) * t.PieceLength
}

// PieceOffset returns the offset of the first byte of piece
// i within the file
func (t Torrent) PieceOffset(i int) int64 {
	return int64(i) * t.PieceLength
}

// PieceSize returns the length of piece i. The last piece
// may be shorter than PieceLength.
func (t Torrent) PieceSize(i int) int64 {
	if i < 0 || i >= t.PieceCount {
		return 0
	}

	remaining := t.TotalLength() - t.PieceOffset(i)
	if remaining < t.PieceLength {
		return remaining
	}

	return t.PieceLength
}

// VerifyPiece returns true if the piece's SHA-1 hash equals
// the hash of piece i, or if the torrent carries no hashes
func (t Torrent) VerifyPiece(i int, piece []byte) bool {
	if len(t.Hashes) == 0 {
		return true
	}

	if i < 0 || i >= len(t.Hashes) {
		return false
	}

	hash := sha1.Sum(piece)
	return bytes.Equal(hash[:], t.Hashes[i])
}

func (t Torrent) Validate() error {
	var op errors.Op = "Torrent.Validate"

	switch {
	case t.Name == "":
		return errors.Wrap(errors.New("torrent has no name"), op, errors.BadArgument)
	case t.PieceCount <= 0:
		return errors.Wrap(errors.Newf("%s: piece count must be positive", t.Name), op, errors.BadArgument)
	case t.PieceLength <= 0:
		return errors.Wrap(errors.Newf("%s: piece length must be positive", t.Name), op, errors.BadArgument)
	case t.TotalLength() > int64(t.PieceCount)*t.PieceLength:
		return errors.Wrap(errors.Newf("%s: length exceeds piece count * piece length", t.Name), op, errors.BadArgument)
	case len(t.Hashes) > 0 && len(t.Hashes) != t.PieceCount:
		return errors.Wrap(errors.Newf("%s: got %d piece hashes for %d pieces", t.Name, len(t.Hashes), t.PieceCount), op, errors.BadArgument)
	}

	return nil
}

func (t Torrent) String() string {
	return fmt.Sprintf("%s (%d x %d B)", t.Name, t.PieceCount, t.PieceLength)
}

// Create builds a torrent describing the given data, hashing
// every piece
func Create(name string, data []byte, pieceLength int64) (Torrent, error) {
	if pieceLength <= 0 {
		return Torrent{}, errors.Wrap(errors.New("piece length must be positive"), errors.Op("btorrent.Create"), errors.BadArgument)
	}

	var hashes [][]byte
	for offset := int64(0); offset < int64(len(data)); offset += pieceLength {
		end := offset + pieceLength
		if end > int64(len(data)) {
			end = int64(len(data))
		}

		hash := sha1.Sum(data[offset:end])
		hashes = append(hashes, hash[:])
	}

	t := Torrent{
		Name:        name,
		PieceCount:  len(hashes),
		PieceLength: pieceLength,
		Length:      int64(len(data)),
		Hashes:      hashes,
	}

	info, err := bencode.Marshal(t.info())
	if err != nil {
		return Torrent{}, err
	}
	t.InfoHash = sha1.Sum(info)

	return t, nil
}

func (t Torrent) info() *bencode.Dictionary {
	var info bencode.Dictionary

	info.SetStringKey("name", bencode.Bytes(t.Name))
	info.SetStringKey("piece length", bencode.Integer(t.PieceLength))
	info.SetStringKey("length", bencode.Integer(t.TotalLength()))
	info.SetStringKey("pieces", bencode.Bytes(bytes.Join(t.Hashes, nil)))

	return &info
}

// Dict returns the bencoded metainfo dictionary of the
// torrent
func (t Torrent) Dict() *bencode.Dictionary {
	var dict bencode.Dictionary
	dict.SetStringKey("info", t.info())

	return &dict
}

// FromDict reads a torrent from a bencoded metainfo
// dictionary
func FromDict(dict *bencode.Dictionary) (Torrent, error) {
	var op errors.Op = "btorrent.FromDict"

	info, ok := dict.GetDict("info")
	if !ok {
		return Torrent{}, errors.Wrap(errors.New("torrent has no info dict"), op, errors.BadArgument)
	}

	name, _ := info.GetString("name")
	pieceLength, _ := info.GetInteger("piece length")
	pieces, _ := info.GetBytes("pieces")

	if len(pieces)%HashLength != 0 {
		err := errors.Newf("malformed torrent data: 'pieces' length %d not multiple of %d", len(pieces), HashLength)
		return Torrent{}, errors.Wrap(err, op, errors.BadArgument)
	}

	length, ok := info.GetInteger("length")
	if !ok {
		// Multi-file torrents are transferred as one
		// contiguous file
		files, _ := info.GetList("files")
		for _, f := range files {
			fd, ok := f.ToDict()
			if !ok {
				continue
			}

			l, _ := fd.GetInteger("length")
			length += l
		}
	}

	data, err := bencode.Marshal(info)
	if err != nil {
		return Torrent{}, errors.Wrap(err, op)
	}

	t := Torrent{
		Name:        name,
		PieceCount:  len(pieces) / HashLength,
		PieceLength: int64(pieceLength),
		Length:      int64(length),
		InfoHash:    sha1.Sum(data),
		Hashes:      GroupBytes(pieces, HashLength),
	}

	if err := t.Validate(); err != nil {
		return Torrent{}, errors.Wrap(err, op)
	}

	return t, nil
}

// Load reads and parses the metainfo file at path
func Load(path string) (Torrent, error) {
	var op errors.Op = "btorrent.Load"

	data, err := os.ReadFile(path)
	if err != nil {
		return Torrent{}, errors.Wrap(err, op, errors.IO)
	}

	d, err := UnmarshalDict(data)
	if err != nil {
		return Torrent{}, errors.Wrap(err, op, errors.BadArgument)
	}

	return FromDict(d)
}

// UnmarshalDict parses bencoded data whose top-level value is
// a dictionary
func UnmarshalDict(data []byte) (*bencode.Dictionary, error) {
	var v bencode.Value
	if err := bencode.Unmarshal(data, &v); err != nil {
		return nil, err
	}

	if v == nil {
		return nil, errors.New("empty metainfo")
	}

	d, ok := v.ToDict()
	if !ok {
		return nil, errors.New("metainfo is not a dictionary")
	}

	return d, nil
}

// LoadDir loads every .torrent file in dir
func LoadDir(dir string) ([]Torrent, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, errors.Op("btorrent.LoadDir"), errors.IO)
	}

	var out []Torrent
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".torrent") {
			continue
		}

		t, err := Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}

		out = append(out, t)
	}

	return out, nil
}

// Save writes the bencoded metainfo of t to path
func Save(path string, t Torrent) error {
	data, err := bencode.Marshal(t.Dict())
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func GroupBytes(data []byte, n int) [][]byte {
	var out [][]byte

	for i := 0; i+n <= len(data); i += n {
		group := make([]byte, n)
		copy(group, data[i:i+n])
		out = append(out, group)
	}

	return out
}
