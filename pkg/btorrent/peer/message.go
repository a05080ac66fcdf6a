package peer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/namvu9/seedbox/pkg/errors"
)

// BitTorrent message types
const (
	Choke         byte = 0
	Unchoke       byte = 1
	Interested    byte = 2
	NotInterested byte = 3
	Have          byte = 4
	BitField      byte = 5
	Request       byte = 6
	Piece         byte = 7
	Cancel        byte = 8
)

const (
	// LengthPrefix is the size of the length prefix of every
	// message
	LengthPrefix = 4

	// BlockLength is the length of the blocks pieces are
	// requested in
	BlockLength = 16 * 1024

	// pieceHeader is the type id plus the index and offset
	// fields of a piece message
	pieceHeader = 9

	// DefaultMaxLength bounds the body length accepted by
	// ReadMessage: a piece message carrying a 128 KiB block
	DefaultMaxLength = 128*1024 + pieceHeader
)

var (
	ErrMalformedFrame     = errors.New("malformed frame")
	ErrTruncatedMessage   = errors.New("truncated message")
	ErrProtocolViolation  = errors.New("protocol violation")
	ErrUnknownMessageType = errors.New("unknown message type")
)

// Recoverable reports whether the connection a ReadMessage
// error came from is still aligned on a message boundary
// and may keep being read
func Recoverable(err error) bool {
	if errors.Is(err, ErrUnknownMessageType) {
		return true
	}

	return errors.Is(err, ErrMalformedFrame) && !errors.Is(err, io.ErrUnexpectedEOF)
}

// EncodeLength returns n as 4 big-endian bytes
func EncodeLength(n uint32) []byte {
	buf := make([]byte, LengthPrefix)
	binary.BigEndian.PutUint32(buf, n)
	return buf
}

// DecodeLength reads a big-endian length from the first 4
// bytes of data
func DecodeLength(data []byte) (uint32, error) {
	if len(data) < LengthPrefix {
		return 0, fmt.Errorf("%w: need %d bytes to decode length, got %d", ErrMalformedFrame, LengthPrefix, len(data))
	}

	return binary.BigEndian.Uint32(data[:LengthPrefix]), nil
}

// BytesToBlock copies raw wire bytes into a block. The bytes
// are never reinterpreted.
func BytesToBlock(data []byte) []byte {
	block := make([]byte, len(data))
	copy(block, data)
	return block
}

// BlockToBytes copies a block into a fresh byte slice for
// the wire
func BlockToBytes(block []byte) []byte {
	data := make([]byte, len(block))
	copy(data, block)
	return data
}

type Message interface {
	Bytes() []byte
}

func header(buf *bytes.Buffer, length int, id byte) {
	buf.Write(EncodeLength(uint32(length)))
	buf.WriteByte(id)
}

// KeepAliveMessage is a zero-length message
type KeepAliveMessage struct{}

func (m KeepAliveMessage) Bytes() []byte {
	return EncodeLength(0)
}

type ChokeMessage struct{}

func (m ChokeMessage) Bytes() []byte {
	var buf bytes.Buffer
	header(&buf, 1, Choke)
	return buf.Bytes()
}

type UnchokeMessage struct{}

func (m UnchokeMessage) Bytes() []byte {
	var buf bytes.Buffer
	header(&buf, 1, Unchoke)
	return buf.Bytes()
}

type InterestedMessage struct{}

func (m InterestedMessage) Bytes() []byte {
	var buf bytes.Buffer
	header(&buf, 1, Interested)
	return buf.Bytes()
}

type NotInterestedMessage struct{}

func (m NotInterestedMessage) Bytes() []byte {
	var buf bytes.Buffer
	header(&buf, 1, NotInterested)
	return buf.Bytes()
}

// HaveMessage announces that the sender has completed the
// piece at Index
type HaveMessage struct {
	Index uint32
}

func (m HaveMessage) Bytes() []byte {
	var buf bytes.Buffer

	header(&buf, 5, Have)
	binary.Write(&buf, binary.BigEndian, m.Index)

	return buf.Bytes()
}

// BitFieldMessage carries a bitfield with each index the
// sender has set to 1
type BitFieldMessage struct {
	BitField []byte
}

func (m BitFieldMessage) Bytes() []byte {
	var buf bytes.Buffer

	header(&buf, len(m.BitField)+1, BitField)
	buf.Write(m.BitField)

	return buf.Bytes()
}

// RequestMessage asks for Length bytes at Offset within the
// piece at Index
type RequestMessage struct {
	Index  uint32
	Offset uint32
	Length uint32
}

func (m RequestMessage) Bytes() []byte {
	var buf bytes.Buffer

	header(&buf, 13, Request)
	binary.Write(&buf, binary.BigEndian, m.Index)
	binary.Write(&buf, binary.BigEndian, m.Offset)
	binary.Write(&buf, binary.BigEndian, m.Length)

	return buf.Bytes()
}

func (m RequestMessage) String() string {
	return fmt.Sprintf("request(index=%d, offset=%d, length=%d)", m.Index, m.Offset, m.Length)
}

// PieceMessage contains a block of piece data
type PieceMessage struct {
	Index  uint32
	Offset uint32
	Piece  []byte
}

func (m PieceMessage) Bytes() []byte {
	var buf bytes.Buffer

	header(&buf, len(m.Piece)+pieceHeader, Piece)
	binary.Write(&buf, binary.BigEndian, m.Index)
	binary.Write(&buf, binary.BigEndian, m.Offset)
	buf.Write(BlockToBytes(m.Piece))

	return buf.Bytes()
}

func (m PieceMessage) String() string {
	return fmt.Sprintf("piece(index=%d, offset=%d, length=%d)", m.Index, m.Offset, len(m.Piece))
}

// CancelMessage has the same payload as a request message
type CancelMessage struct {
	Index  uint32
	Offset uint32
	Length uint32
}

func (m CancelMessage) Bytes() []byte {
	var buf bytes.Buffer

	header(&buf, 13, Cancel)
	binary.Write(&buf, binary.BigEndian, m.Index)
	binary.Write(&buf, binary.BigEndian, m.Offset)
	binary.Write(&buf, binary.BigEndian, m.Length)

	return buf.Bytes()
}

// ReadMessage reads one length-prefixed message from r.
// Bodies longer than maxLength are rejected with
// ErrProtocolViolation without being read.
func ReadMessage(r io.Reader, maxLength uint32) (Message, error) {
	var op errors.Op = "peer.ReadMessage"

	buf := make([]byte, LengthPrefix)
	n, err := io.ReadFull(r, buf)
	if err != nil {
		if n == 0 && errors.IsEOF(err) {
			return nil, io.EOF
		}

		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = fmt.Errorf("%w: %w", ErrMalformedFrame, err)
			return nil, errors.Wrap(err, op, errors.Protocol)
		}

		return nil, errors.Wrap(err, op, errors.Network)
	}

	messageLength, _ := DecodeLength(buf)
	if messageLength == 0 {
		return KeepAliveMessage{}, nil
	}

	if messageLength > maxLength {
		err := fmt.Errorf("%w: message length %d exceeds %d", ErrProtocolViolation, messageLength, maxLength)
		return nil, errors.Wrap(err, op, errors.Protocol)
	}

	body := make([]byte, messageLength)
	n, err = io.ReadFull(r, body)
	if err != nil {
		if errors.IsEOF(err) || errors.Is(err, io.ErrUnexpectedEOF) {
			err = fmt.Errorf("%w: got %d of %d bytes", ErrTruncatedMessage, n, messageLength)
			return nil, errors.Wrap(err, op, errors.Protocol)
		}

		return nil, errors.Wrap(err, op, errors.Network)
	}

	msg, err := ParseMessage(body)
	if err != nil {
		return nil, errors.Wrap(err, op, errors.Protocol)
	}

	return msg, nil
}

// ParseMessage decodes a message body: the type id followed
// by its payload
func ParseMessage(body []byte) (Message, error) {
	if len(body) == 0 {
		return KeepAliveMessage{}, nil
	}

	var (
		messageType = body[0]
		payload     = body[1:]
	)

	switch messageType {
	case Choke:
		return ChokeMessage{}, nil
	case Unchoke:
		return UnchokeMessage{}, nil
	case Interested:
		return InterestedMessage{}, nil
	case NotInterested:
		return NotInterestedMessage{}, nil
	case Have:
		return UnmarshalHaveMessage(payload)
	case BitField:
		return BitFieldMessage{BitField: BytesToBlock(payload)}, nil
	case Request:
		return UnmarshalRequestMessage(payload)
	case Piece:
		return UnmarshalPieceMessage(payload)
	case Cancel:
		return UnmarshalCancelMessage(payload)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, messageType)
	}
}

// WriteMessage writes the complete frame of msg to w
func WriteMessage(w io.Writer, msg Message) error {
	data := msg.Bytes()

	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return errors.Wrap(err, errors.Op("peer.WriteMessage"), errors.Network)
		}

		if n == 0 {
			return errors.Wrap(io.ErrShortWrite, errors.Op("peer.WriteMessage"), errors.Network)
		}

		data = data[n:]
	}

	return nil
}

func UnmarshalHaveMessage(data []byte) (HaveMessage, error) {
	var msg HaveMessage

	if got := len(data); got != 4 {
		return msg, fmt.Errorf("%w: have payload length, want %d but got %d", ErrMalformedFrame, 4, got)
	}

	msg.Index = binary.BigEndian.Uint32(data)
	return msg, nil
}

func UnmarshalRequestMessage(data []byte) (RequestMessage, error) {
	var msg RequestMessage

	if got := len(data); got != 12 {
		return msg, fmt.Errorf("%w: request payload length, want %d but got %d", ErrMalformedFrame, 12, got)
	}

	msg.Index = binary.BigEndian.Uint32(data[:4])
	msg.Offset = binary.BigEndian.Uint32(data[4:8])
	msg.Length = binary.BigEndian.Uint32(data[8:12])

	return msg, nil
}

func UnmarshalPieceMessage(data []byte) (PieceMessage, error) {
	var msg PieceMessage

	if got := len(data); got < 8 {
		return msg, fmt.Errorf("%w: piece payload length, want at least %d but got %d", ErrMalformedFrame, 8, got)
	}

	msg.Index = binary.BigEndian.Uint32(data[:4])
	msg.Offset = binary.BigEndian.Uint32(data[4:8])
	msg.Piece = BytesToBlock(data[8:])

	return msg, nil
}

func UnmarshalCancelMessage(data []byte) (CancelMessage, error) {
	var msg CancelMessage

	if got := len(data); got != 12 {
		return msg, fmt.Errorf("%w: cancel payload length, want %d but got %d", ErrMalformedFrame, 12, got)
	}

	msg.Index = binary.BigEndian.Uint32(data[:4])
	msg.Offset = binary.BigEndian.Uint32(data[4:8])
	msg.Length = binary.BigEndian.Uint32(data[8:12])

	return msg, nil
}
