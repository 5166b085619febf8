// Copyright 2022 Northwestern University. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package render reads 16-bit grayscale detector images (legacy TIFF
// files, or raw frame buffers handed over by the HDF5 reader) and
// renders contrast-mapped, max-pool-downscaled JPEG tiles and 1-D
// line profiles from them.
//
// The TIFF reader mmaps the source and walks fixed-size structures at
// byte offsets with encoding/binary rather than decoding through
// image.Image, because the renderer needs raw 16-bit scanline access
// that a decoded image.Image would discard.
package render

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// TIFF tag numbers this reader understands (Baseline TIFF 6.0 §8).
const (
	tagImageWidth    = 256
	tagImageLength   = 257
	tagBitsPerSample = 258
	tagStripOffsets  = 273
)

// ErrNotTIFF is returned when the byte-order/magic header is absent.
var ErrNotTIFF = errors.New("render: not a TIFF file")

// ErrUnsupportedTIFF is returned for a TIFF this reader cannot decode:
// anything other than single-strip, 16-bit grayscale.
var ErrUnsupportedTIFF = errors.New("render: unsupported TIFF layout")

// Source is an open 16-bit grayscale TIFF, mmapped read-only for the
// lifetime of one render call.
type Source struct {
	data   mmap.MMap
	f      *os.File
	Width  int
	Height int

	// Pixels is the flat row-major 16-bit sample buffer, native byte
	// order converted to the machine's, one uint16 per pixel.
	Pixels []uint16
}

// OpenTIFF mmaps path and reads its single image-file-directory,
// decoding ImageWidth/ImageLength/BitsPerSample/StripOffsets and the
// full scanline buffer into a flat 16-bit sample slice.
func OpenTIFF(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	src := &Source{data: data, f: f}
	if err := src.parse(); err != nil {
		src.Close()
		return nil, err
	}
	return src, nil
}

func (s *Source) parse() error {
	order, firstIFD, err := s.header()
	if err != nil {
		return err
	}

	tags, err := s.readIFD(order, firstIFD)
	if err != nil {
		return err
	}

	width, ok := tags[tagImageWidth]
	if !ok {
		return fmt.Errorf("%w: missing ImageWidth", ErrUnsupportedTIFF)
	}
	height, ok := tags[tagImageLength]
	if !ok {
		return fmt.Errorf("%w: missing ImageLength", ErrUnsupportedTIFF)
	}
	bits, ok := tags[tagBitsPerSample]
	if !ok {
		bits = 16
	}
	if bits != 16 {
		return fmt.Errorf("%w: BitsPerSample %d, want 16", ErrUnsupportedTIFF, bits)
	}
	offset, ok := tags[tagStripOffsets]
	if !ok {
		return fmt.Errorf("%w: missing StripOffsets", ErrUnsupportedTIFF)
	}

	s.Width, s.Height = int(width), int(height)

	scanlineBytes := s.Width * 2
	total := scanlineBytes * s.Height
	if err := s.bounds(uint32(offset), uint32(total)); err != nil {
		return err
	}

	pixels := make([]uint16, s.Width*s.Height)
	for i := range pixels {
		off := uint32(offset) + uint32(i*2)
		pixels[i] = order.Uint16(s.data[off : off+2])
	}
	s.Pixels = pixels
	return nil
}

// header reads the 8-byte TIFF header and returns the byte order and
// the offset of the first IFD.
func (s *Source) header() (binary.ByteOrder, uint32, error) {
	if len(s.data) < 8 {
		return nil, 0, ErrNotTIFF
	}
	var order binary.ByteOrder
	switch {
	case s.data[0] == 'I' && s.data[1] == 'I':
		order = binary.LittleEndian
	case s.data[0] == 'M' && s.data[1] == 'M':
		order = binary.BigEndian
	default:
		return nil, 0, ErrNotTIFF
	}
	if order.Uint16(s.data[2:4]) != 42 {
		return nil, 0, ErrNotTIFF
	}
	return order, order.Uint32(s.data[4:8]), nil
}

// readIFD reads one image-file-directory's entries, returning scalar
// tag values. Only entries whose value fits inline (count 1, type
// SHORT or LONG) are needed by this reader; a multi-valued
// StripOffsets (several strips) or BitsPerSample (several samples per
// pixel) is rejected with ErrUnsupportedTIFF.
func (s *Source) readIFD(order binary.ByteOrder, offset uint32) (map[uint16]uint32, error) {
	if err := s.bounds(offset, 2); err != nil {
		return nil, err
	}
	count := order.Uint16(s.data[offset : offset+2])

	entries := make(map[uint16]uint32, count)
	base := offset + 2
	for i := uint16(0); i < count; i++ {
		entryOff := base + uint32(i)*12
		if err := s.bounds(entryOff, 12); err != nil {
			return nil, err
		}
		entry := s.data[entryOff : entryOff+12]

		tag := order.Uint16(entry[0:2])
		typ := order.Uint16(entry[2:4])
		n := order.Uint32(entry[4:8])
		valueField := entry[8:12]

		if n != 1 && (tag == tagStripOffsets || tag == tagBitsPerSample) {
			return nil, fmt.Errorf("%w: tag %d has %d values", ErrUnsupportedTIFF, tag, n)
		}

		var v uint32
		switch typ {
		case 3: // SHORT
			v = uint32(order.Uint16(valueField[0:2]))
		case 4: // LONG
			v = order.Uint32(valueField)
		default:
			continue
		}
		entries[tag] = v
	}
	return entries, nil
}

func (s *Source) bounds(offset, size uint32) error {
	total := offset + size
	if (total > offset) != (size > 0) || total > uint32(len(s.data)) {
		return fmt.Errorf("%w: read at offset %d size %d exceeds file", ErrUnsupportedTIFF, offset, size)
	}
	return nil
}

// At returns the pixel value at (row, col), assuming 0 for any
// out-of-bounds coordinate.
func (s *Source) At(row, col int) uint16 {
	if row < 0 || row >= s.Height || col < 0 || col >= s.Width {
		return 0
	}
	return s.Pixels[row*s.Width+col]
}

// Close unmaps and closes the underlying file.
func (s *Source) Close() error {
	var errs []error
	if s.data != nil {
		if err := s.data.Unmap(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.f != nil {
		if err := s.f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
