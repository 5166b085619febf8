// Copyright 2022 Northwestern University. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package render

import "encoding/binary"

// FromBuffer builds a Source directly from a decoded frame buffer — for
// example the output of internal/hdf5's per-frame read — without opening
// or mmapping a file. This lets the jpeg/profile pipeline in this package
// run unchanged over both TIFF-backed sources (OpenTIFF) and HDF5-backed
// ones, since both ultimately resolve to a flat row-major buffer of
// samples no wider than 32 bits.
//
// depth is bytes per element as returned by the frame reader: 2 for
// 16-bit native TIFF/HDF5 samples, 4 for 32-bit HDF5 samples. 32-bit
// values above 65535 are clamped, matching the saturation sentinel this
// package already treats specially in contrastColor.
func FromBuffer(width, height, depth int, data []byte) (*Source, error) {
	if depth != 2 && depth != 4 {
		return nil, ErrUnsupportedTIFF
	}
	if len(data) < width*height*depth {
		return nil, ErrUnsupportedTIFF
	}

	pixels := make([]uint16, width*height)
	for i := range pixels {
		off := i * depth
		if depth == 2 {
			pixels[i] = binary.LittleEndian.Uint16(data[off : off+2])
			continue
		}
		v := binary.LittleEndian.Uint32(data[off : off+4])
		if v > 65535 {
			v = 65535
		}
		pixels[i] = uint16(v)
	}

	return &Source{Width: width, Height: height, Pixels: pixels}, nil
}
