// Copyright 2022 Northwestern University. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package hdf5

import (
	"fmt"

	gohdf5 "gonum.org/v1/hdf5"
)

// gonumBackend adapts gonum.org/v1/hdf5 (the maintained cgo binding to
// libhdf5) to the Backend interface. It is the only file in this
// package that imports the real library; everything else in the
// package is written and tested against the Backend/MasterFile/Dataset
// interfaces in backend.go.
type gonumBackend struct{}

// NewBackend returns the production Backend, backed by libhdf5.
func NewBackend() Backend {
	return gonumBackend{}
}

func (gonumBackend) OpenMasterFile(path string) (MasterFile, error) {
	f, err := gohdf5.OpenFile(path, gohdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, err
	}
	return &gonumMaster{file: f}, nil
}

type gonumMaster struct {
	file *gohdf5.File
}

func (m *gonumMaster) ListDataLinks() ([]string, error) {
	g, err := m.file.OpenGroup("/entry/data")
	if err != nil {
		return nil, err
	}
	defer g.Close()

	n, err := g.NumObjects()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, n)
	for i := uint(0); i < n; i++ {
		name, err := g.ObjectNameByIndex(i)
		if err != nil {
			return nil, fmt.Errorf("object name at index %d: %w", i, err)
		}
		names = append(names, name)
	}
	return names, nil
}

func (m *gonumMaster) OpenDataset(path string) (Dataset, error) {
	ds, err := m.file.OpenDataset(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s (%v)", ErrDatasetNotFound, path, err)
	}
	return &gonumDataset{ds: ds}, nil
}

func (m *gonumMaster) ReadString(path string) (string, error) {
	ds, err := m.file.OpenDataset(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s (%v)", ErrDatasetNotFound, path, err)
	}
	defer ds.Close()

	dt, err := ds.Datatype()
	if err != nil {
		return "", err
	}
	size := dt.Size()
	buf := make([]byte, size)
	if err := ds.Read(&buf); err != nil {
		return "", err
	}
	return trimNulPadding(buf), nil
}

func (m *gonumMaster) Close() error {
	return m.file.Close()
}

type gonumDataset struct {
	ds *gohdf5.Dataset
}

func (d *gonumDataset) Dims() ([]uint64, error) {
	space := d.ds.Space()
	defer space.Close()
	dims, _, err := space.SimpleExtentDims()
	if err != nil {
		return nil, err
	}
	out := make([]uint64, len(dims))
	for i, v := range dims {
		out[i] = uint64(v)
	}
	return out, nil
}

func (d *gonumDataset) ElementSize() (int, error) {
	dt, err := d.ds.Datatype()
	if err != nil {
		return 0, err
	}
	return int(dt.Size()), nil
}

func (d *gonumDataset) ReadHyperslab(start, count []uint64, out []byte) error {
	fileSpace := d.ds.Space()
	defer fileSpace.Close()

	hStart := toHsize(start)
	hCount := toHsize(count)
	if err := fileSpace.SelectHyperslab(hStart, nil, hCount, nil); err != nil {
		return err
	}

	memSpace, err := gohdf5.CreateSimpleDataspace(hCount, nil)
	if err != nil {
		return err
	}
	defer memSpace.Close()

	return d.ds.ReadSubset(&out, memSpace, fileSpace)
}

func (d *gonumDataset) ReadAll(out []byte) error {
	return d.ds.Read(&out)
}

func (d *gonumDataset) Attr(name string) (Attribute, error) {
	a, err := d.ds.OpenAttribute(name)
	if err != nil {
		return nil, err
	}
	return &gonumAttribute{attr: a}, nil
}

func (d *gonumDataset) Close() error {
	return d.ds.Close()
}

type gonumAttribute struct {
	attr *gohdf5.Attribute
}

func (a *gonumAttribute) ReadInt() (int64, error) {
	var v int32
	if err := a.attr.Read(&v, gohdf5.T_NATIVE_INT32); err != nil {
		return 0, err
	}
	return int64(v), nil
}

func toHsize(v []uint64) []uint {
	out := make([]uint, len(v))
	for i, x := range v {
		out[i] = uint(x)
	}
	return out
}

func trimNulPadding(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
