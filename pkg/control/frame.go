package control

import (
	"encoding/binary"
	"errors"
	"io"
)

// Wire framing: every message is a fixed 24-byte header followed by a CBOR
// payload. Big-endian fields:
//
//	magic(4) version(2) kind(2) serial(8) payload_len(8)
//
// The serial correlates replies with calls; signals carry serial 0.
const (
	frameMagic   uint32 = 0x75_6E_69_64 // "unid"
	frameVersion uint16 = 1

	fixedHeaderLen = 24
)

// FrameKind discriminates the four message classes on the wire.
type FrameKind uint16

const (
	FrameCall FrameKind = iota + 1
	FrameReply
	FrameError
	FrameSignal
)

var (
	ErrBadMagic        = errors.New("control: bad frame magic")
	ErrBadVersion      = errors.New("control: unsupported frame version")
	ErrBadKind         = errors.New("control: unknown frame kind")
	ErrPayloadTooLarge = errors.New("control: frame payload too large")
)

// MaxPayloadBytes bounds decode memory per frame. Property batches and
// process listings stay far below this.
const MaxPayloadBytes = 4 * 1024 * 1024

// Frame is one complete wire message.
type Frame struct {
	Kind    FrameKind
	Serial  uint64
	Payload []byte
}

func ReadFrame(r io.Reader) (Frame, error) {
	var fixed [fixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return Frame{}, err
	}

	if binary.BigEndian.Uint32(fixed[0:4]) != frameMagic {
		return Frame{}, ErrBadMagic
	}
	if binary.BigEndian.Uint16(fixed[4:6]) != frameVersion {
		return Frame{}, ErrBadVersion
	}
	kind := FrameKind(binary.BigEndian.Uint16(fixed[6:8]))
	if kind < FrameCall || kind > FrameSignal {
		return Frame{}, ErrBadKind
	}
	serial := binary.BigEndian.Uint64(fixed[8:16])
	payloadLen := binary.BigEndian.Uint64(fixed[16:24])
	if payloadLen > MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}

	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}

	return Frame{Kind: kind, Serial: serial, Payload: payload}, nil
}

func WriteFrame(w io.Writer, f Frame) error {
	if uint64(len(f.Payload)) > MaxPayloadBytes {
		return ErrPayloadTooLarge
	}

	buf := make([]byte, fixedHeaderLen, fixedHeaderLen+len(f.Payload))
	binary.BigEndian.PutUint32(buf[0:4], frameMagic)
	binary.BigEndian.PutUint16(buf[4:6], frameVersion)
	binary.BigEndian.PutUint16(buf[6:8], uint16(f.Kind))
	binary.BigEndian.PutUint64(buf[8:16], f.Serial)
	binary.BigEndian.PutUint64(buf[16:24], uint64(len(f.Payload)))
	buf = append(buf, f.Payload...)

	_, err := w.Write(buf)
	return err
}
