// Copyright 2022 Northwestern University. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package hdf5

import "fmt"

// fakeBackend is an in-memory stand-in for libhdf5 used by this
// package's tests, so discovery and frame-read logic can be exercised
// without a real HDF5 installation.

type fakeAttribute struct{ v int64 }

func (a fakeAttribute) ReadInt() (int64, error) { return a.v, nil }

type fakeDataset struct {
	dims     []uint64
	elemSize int
	data     []byte // full rank-3/rank-2 contents, row-major
	attrs    map[string]int64
	closed   bool
}

func (d *fakeDataset) Dims() ([]uint64, error) { return d.dims, nil }

func (d *fakeDataset) ElementSize() (int, error) { return d.elemSize, nil }

func (d *fakeDataset) ReadHyperslab(start, count []uint64, out []byte) error {
	if len(d.dims) != 3 {
		return fmt.Errorf("fakeDataset: ReadHyperslab requires rank 3, got %d", len(d.dims))
	}
	frameIdx := start[0]
	h, w := d.dims[1], d.dims[2]
	frameBytes := int(h*w) * d.elemSize
	offset := int(frameIdx) * frameBytes
	if offset+frameBytes > len(d.data) {
		return fmt.Errorf("fakeDataset: frame index %d out of range", frameIdx)
	}
	copy(out, d.data[offset:offset+frameBytes])
	return nil
}

func (d *fakeDataset) ReadAll(out []byte) error {
	copy(out, d.data)
	return nil
}

func (d *fakeDataset) Attr(name string) (Attribute, error) {
	v, ok := d.attrs[name]
	if !ok {
		return nil, fmt.Errorf("fakeDataset: no attribute %s", name)
	}
	return fakeAttribute{v}, nil
}

func (d *fakeDataset) Close() error {
	d.closed = true
	return nil
}

type fakeMaster struct {
	linkOrder []string
	datasets  map[string]*fakeDataset
	strings   map[string]string
	closed    bool
}

func (m *fakeMaster) ListDataLinks() ([]string, error) {
	return m.linkOrder, nil
}

func (m *fakeMaster) OpenDataset(path string) (Dataset, error) {
	ds, ok := m.datasets[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, path)
	}
	return ds, nil
}

func (m *fakeMaster) ReadString(path string) (string, error) {
	s, ok := m.strings[path]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrDatasetNotFound, path)
	}
	return s, nil
}

func (m *fakeMaster) Close() error {
	m.closed = true
	return nil
}

type fakeBackend struct {
	master *fakeMaster
	err    error
	opens  int // number of OpenMasterFile calls
}

func (b *fakeBackend) OpenMasterFile(path string) (MasterFile, error) {
	b.opens++
	if b.err != nil {
		return nil, b.err
	}
	return b.master, nil
}

// newTwoFileMaster builds a master with two data files covering frames
// [1..100] and [101..200].
func newTwoFileMaster(h, w int) *fakeMaster {
	mkData := func(frames, h, w int, fill byte) []byte {
		buf := make([]byte, frames*h*w*2)
		for i := range buf {
			buf[i] = fill
		}
		return buf
	}

	return &fakeMaster{
		linkOrder: []string{"data_000001", "data_000002"},
		datasets: map[string]*fakeDataset{
			"/entry/data/data_000001": {
				dims:     []uint64{100, uint64(h), uint64(w)},
				elemSize: 2,
				data:     mkData(100, h, w, 1),
				attrs:    map[string]int64{"image_nr_low": 1, "image_nr_high": 100},
			},
			"/entry/data/data_000002": {
				dims:     []uint64{100, uint64(h), uint64(w)},
				elemSize: 2,
				data:     mkData(100, h, w, 2),
				attrs:    map[string]int64{"image_nr_low": 101, "image_nr_high": 200},
			},
			pixelMaskPath: {
				dims:     []uint64{uint64(h), uint64(w)},
				elemSize: 4,
				data:     make([]byte, h*w*4),
			},
		},
		strings: map[string]string{
			softwareVersionPath: "1.8.0",
		},
	}
}
