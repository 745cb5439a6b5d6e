// Package container implements the KSBin container format: preamble,
// field schema, trixel index table, optional expansion fields, and
// concatenated trixel payloads (spec §4.4–§4.6). It also provides the
// per-trixel chunk writer (C6) that produces the scratch files a
// container writer later assembles.
package container

import (
	"encoding/binary"
	"io"

	"github.com/geeksville/ksbin/ksbinerr"
)

const (
	descriptionSize = 124
	formatVersion   = 1
)

var (
	markerLittle = [2]byte{'S', 'K'}
	markerBig    = [2]byte{'K', 'S'}
)

// byteOrderFor resolves the container's byte order from its 2-byte marker.
func byteOrderFor(marker [2]byte) (binary.ByteOrder, error) {
	switch marker {
	case markerLittle:
		return binary.LittleEndian, nil
	case markerBig:
		return binary.BigEndian, nil
	default:
		return nil, &ksbinerr.FormatError{Reason: "unknown byte-order marker"}
	}
}

// markerFor returns the 2-byte marker for a byte order understood by this
// package (little or big endian only).
func markerFor(order binary.ByteOrder) [2]byte {
	if order == binary.BigEndian {
		return markerBig
	}
	return markerLittle
}

// Expansion is the format-specific expansion-field hook (spec §4.10). The
// Writer calls WriteExpansion after the index table; a nil Expansion writes
// zero expansion bytes. The Reader does not call ReadExpansion: it exposes
// the bytes after the index table through Reader.ReadExpansion for the
// caller to decode.
type Expansion interface {
	WriteExpansion(w io.Writer, order binary.ByteOrder) error
	ReadExpansion(r io.Reader, order binary.ByteOrder) error
}

func writeDescription(w io.Writer, description string) error {
	buf := make([]byte, descriptionSize)
	n := copy(buf, description) // silently truncated per spec §4.5
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	_, err := w.Write(buf)
	return err
}

func readDescription(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}
