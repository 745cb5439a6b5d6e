// Package starcatalog implements the star-catalog expansion-field format
// (spec §6): a u16 scaled magnitude limit, a u8 HTM level, and a u16
// maximum-records-per-trixel, as a concrete container.Expansion.
package starcatalog

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
)

// MagLimitScaleDeep is the scale applied to MagLimit for deep-sky-style
// star catalogs; MagLimitScaleStar is the scale for the plain STARDATA
// layout (spec §6, mirroring KSStarDataWriter.write_expansion_fields'
// `maglim_scale` choice of 100 or 1000).
const (
	MagLimitScaleStar = 100
	MagLimitScaleDeep = 1000
)

// Expansion is the star-catalog container.Expansion implementation.
type Expansion struct {
	// MagLimit is the real-valued magnitude limit; it is scaled by Scale
	// before being truncated into the on-disk u16.
	MagLimit float64
	Scale    int

	HTMLevel int

	// MaxPerTrixel is the maximum record count observed across all
	// trixels, truncated mod 2^16 on write (spec §6).
	MaxPerTrixel uint32
}

// WriteExpansion implements container.Expansion.
func (e Expansion) WriteExpansion(w io.Writer, order binary.ByteOrder) error {
	scale := e.Scale
	if scale == 0 {
		scale = MagLimitScaleStar
	}
	var buf [2 + 1 + 2]byte
	order.PutUint16(buf[0:2], uint16(int(e.MagLimit*float64(scale))))
	buf[2] = byte(e.HTMLevel)
	maxPerTrixel := e.MaxPerTrixel % (1 << 16)
	if uint32(maxPerTrixel) != e.MaxPerTrixel {
		slog.Error("starcatalog: max records per trixel overflows uint16, wrapping", "value", e.MaxPerTrixel)
	}
	order.PutUint16(buf[3:5], uint16(maxPerTrixel))
	_, err := w.Write(buf[:])
	return err
}

// ReadExpansion implements container.Expansion.
func (e *Expansion) ReadExpansion(r io.Reader, order binary.ByteOrder) error {
	var buf [2 + 1 + 2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return fmt.Errorf("starcatalog: read expansion fields: %w", err)
	}
	scale := e.Scale
	if scale == 0 {
		scale = MagLimitScaleStar
	}
	e.MagLimit = float64(order.Uint16(buf[0:2])) / float64(scale)
	e.HTMLevel = int(buf[2])
	e.MaxPerTrixel = uint32(order.Uint16(buf[3:5]))
	return nil
}
