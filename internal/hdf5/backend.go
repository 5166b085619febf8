// Copyright 2022 Northwestern University. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package hdf5 resolves a logical frame number to a specific on-disk
// dataset inside a master file's linked data files, slices a single
// 2-D frame out of a 3-D stack, and exposes the detector's bad-pixel
// mask.
//
// Discovery walks /entry/data link names in visit order, reading each
// link's image_nr_low/image_nr_high attributes to learn the inclusive
// frame range the linked data file covers. All HDF5 handle access goes
// through the small Backend/MasterFile/Dataset interfaces below so
// discovery and read logic can be unit-tested without libhdf5
// installed; gonumBackend (backend_gonum.go) adapts the real
// gonum.org/v1/hdf5 bindings.
package hdf5

import "errors"

// Attribute is a scalar integer attribute attached to a dataset or link,
// e.g. image_nr_low/image_nr_high.
type Attribute interface {
	ReadInt() (int64, error)
}

// Dataset is a single HDF5 dataset: a frame stack (rank 3) or the
// bad-pixel mask (rank 2).
type Dataset interface {
	// Dims returns the dataspace's current dimensions; len(Dims()) is
	// the dataset's rank.
	Dims() ([]uint64, error)

	// ElementSize returns the size in bytes of the dataset's native
	// element type (2 for 16-bit, 4 for 32-bit).
	ElementSize() (int, error)

	// ReadHyperslab reads a hyperslab selected by start/count (unit
	// stride and block) into out, which must already be sized for the
	// selection.
	ReadHyperslab(start, count []uint64, out []byte) error

	// ReadAll reads the dataset's full contents into out.
	ReadAll(out []byte) error

	// Attr opens a named attribute on this dataset.
	Attr(name string) (Attribute, error)

	// Close releases the dataset (and its dataspace/datatype) handle.
	Close() error
}

// MasterFile is an open HDF5 master file.
type MasterFile interface {
	// ListDataLinks returns the names of the links under /entry/data
	// in link-name visit order.
	ListDataLinks() ([]string, error)

	// OpenDataset opens an absolute dataset path. Because /entry/data/*
	// entries are external links, opening the link's path transparently
	// follows into the sibling data file — no separate "open the linked
	// file" step is needed.
	OpenDataset(path string) (Dataset, error)

	// ReadString reads a fixed-length, NUL-padded string dataset.
	ReadString(path string) (string, error)

	// Close releases the master file and all handles opened from it.
	Close() error
}

// Backend opens master files. Production code uses gonumBackend; tests
// use an in-memory fake.
type Backend interface {
	OpenMasterFile(path string) (MasterFile, error)
}

// ErrDatasetNotFound is returned when an expected HDF5 path is absent
// from a master or data file.
var ErrDatasetNotFound = errors.New("hdf5: dataset not found")

// ErrRankMismatch is returned when a dataset's rank does not match what
// the caller requires (3 for a frame stack, 2 for the bad-pixel mask).
var ErrRankMismatch = errors.New("hdf5: unexpected dataset rank")

// ErrUnsupportedElementSize is returned for any element size other
// than 2 or 4 bytes.
var ErrUnsupportedElementSize = errors.New("hdf5: unsupported element size")

// ErrFrameNotFound is returned when no discovery record's range
// contains the requested frame number.
var ErrFrameNotFound = errors.New("hdf5: frame not found in any data file")
