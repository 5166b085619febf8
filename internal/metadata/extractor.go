// Copyright 2022 Northwestern University. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package metadata reads a fixed set of HDF5 scalar and array
// properties out of a master file and assembles them into the JSON
// metadata object a worker attaches to an image-metadata response.
//
// Extraction opens one dataset per property, typed by a
// single-character type code, and tolerates any individual property
// being absent (pre-1.8.0 vs 1.8.0+ detector firmware dropped and
// added a handful of fields). All of it is serialized under a
// package-level mutex because libhdf5's C API is not safe for
// concurrent use from multiple goroutines.
package metadata

import (
	"fmt"
	"math"
	"sync"

	"github.com/nu-is/imgserve/internal/hdf5"
)

// metaMutex serializes every extraction regardless of which master
// file it targets: libhdf5 recommends against calling its API
// concurrently from multiple threads even across independent file
// handles.
var metaMutex sync.Mutex

// Extractor reads the metadata object for a master file, given an
// already-open hdf5.Context shared with the frame reader.
type Extractor struct{}

// NewExtractor returns a metadata Extractor. It holds no state; the
// open master file handle lives in the hdf5.Context passed to Extract.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads every property in the version-appropriate table,
// skipping any that are absent from this master file, and returns the
// resulting metadata object keyed by JSON property name. fn is the
// master file path, recorded verbatim under "fn".
func (e *Extractor) Extract(ctx *hdf5.Context, fn string) (map[string]interface{}, error) {
	metaMutex.Lock()
	defer metaMutex.Unlock()

	master, err := ctx.Master()
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}

	version, err := ctx.SoftwareVersion()
	if err != nil {
		return nil, fmt.Errorf("metadata: software version: %w", err)
	}

	meta := make(map[string]interface{})
	for _, prop := range TableFor(version) {
		v, err := readProperty(master, prop)
		if err != nil {
			// A property missing from this master file is expected: the
			// pre-1.8.0/1.8.0+ split is not exhaustive, and some fields
			// are detector-model-specific. Skip it and move on.
			continue
		}
		meta[prop.JSONName] = v
	}

	if depth, ok := meta["bit_depth_image"]; ok {
		if d, ok := depth.(int64); ok {
			meta["image_depth"] = d / 8
		}
	}

	meta["fn"] = fn

	first, last, err := ctx.GlobalFrameRange()
	if err != nil {
		return nil, fmt.Errorf("metadata: frame range: %w", err)
	}
	meta["first_frame"] = int64(first)
	meta["last_frame"] = int64(last)

	return meta, nil
}

func readProperty(master hdf5.MasterFile, prop Property) (interface{}, error) {
	if prop.Kind == KindString {
		return master.ReadString(prop.H5Path)
	}

	ds, err := master.OpenDataset(prop.H5Path)
	if err != nil {
		return nil, err
	}
	defer ds.Close()

	switch prop.Kind {
	case KindInt:
		return readScalarInt(ds)
	case KindFloat:
		return readScalarFloat(ds)
	case KindFloatArray:
		return readFloatArray(ds)
	default:
		// Every table row uses one of the kinds above; any other code is
		// a programming error in the tables, not a per-file condition.
		panic(fmt.Sprintf("metadata: unsupported type code %q for %s", prop.Kind, prop.H5Path))
	}
}

func readScalarInt(ds hdf5.Dataset) (int64, error) {
	elemSize, err := ds.ElementSize()
	if err != nil {
		return 0, err
	}
	buf := make([]byte, elemSize)
	if err := ds.ReadAll(buf); err != nil {
		return 0, err
	}
	return decodeLEInt(buf), nil
}

func readScalarFloat(ds hdf5.Dataset) (float64, error) {
	elemSize, err := ds.ElementSize()
	if err != nil {
		return 0, err
	}
	buf := make([]byte, elemSize)
	if err := ds.ReadAll(buf); err != nil {
		return 0, err
	}
	return decodeLEFloat(buf), nil
}

// readFloatArray reads a rank-1 or rank-2 float dataset. For rank 2
// the JSON array is built with the dimensions in swapped order
// (dims[1] outer, dims[0] inner) rather than the natural row-major
// shape; downstream consumers expect the transposed layout.
func readFloatArray(ds hdf5.Dataset) (interface{}, error) {
	dims, err := ds.Dims()
	if err != nil {
		return nil, err
	}
	elemSize, err := ds.ElementSize()
	if err != nil {
		return nil, err
	}

	npoints := uint64(1)
	for _, d := range dims {
		npoints *= d
	}
	buf := make([]byte, npoints*uint64(elemSize))
	if err := ds.ReadAll(buf); err != nil {
		return nil, err
	}
	values := decodeLEFloats(buf, elemSize, int(npoints))

	switch len(dims) {
	case 1:
		return values, nil
	case 2:
		rows, cols := int(dims[0]), int(dims[1])
		out := make([][]float64, cols)
		for j := 0; j < cols; j++ {
			out[j] = make([]float64, rows)
			for i := 0; i < rows; i++ {
				out[j][i] = values[i*cols+j]
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: float array rank %d", hdf5.ErrRankMismatch, len(dims))
	}
}

func decodeLEInt(b []byte) int64 {
	switch len(b) {
	case 4:
		return int64(int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24))
	case 8:
		var v uint64
		for i := 7; i >= 0; i-- {
			v = v<<8 | uint64(b[i])
		}
		return int64(v)
	default:
		var v int64
		for i := len(b) - 1; i >= 0; i-- {
			v = v<<8 | int64(b[i])
		}
		return v
	}
}

func decodeLEFloat(b []byte) float64 {
	if len(b) == 8 {
		return decodeLEFloats(b, 8, 1)[0]
	}
	return decodeLEFloats(b, 4, 1)[0]
}

func decodeLEFloats(b []byte, elemSize, n int) []float64 {
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		chunk := b[i*elemSize : (i+1)*elemSize]
		switch elemSize {
		case 4:
			bits := uint32(chunk[0]) | uint32(chunk[1])<<8 | uint32(chunk[2])<<16 | uint32(chunk[3])<<24
			out[i] = float64(math.Float32frombits(bits))
		case 8:
			var bits uint64
			for j := 7; j >= 0; j-- {
				bits = bits<<8 | uint64(chunk[j])
			}
			out[i] = math.Float64frombits(bits)
		}
	}
	return out
}
