// Copyright 2022 Northwestern University. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package hdf5

import (
	"fmt"
	"sync"

	"github.com/nu-is/imgserve/internal/log"
)

const (
	pixelMaskPath       = "/entry/instrument/detector/detectorSpecific/pixel_mask"
	softwareVersionPath = "/entry/instrument/detector/detectorSpecific/software_version"
)

// ImageBuffer is the output of a per-frame read: the raw frame bytes
// plus shape and element size.
type ImageBuffer struct {
	Data   []byte
	Height int
	Width  int
	Depth  int // bytes per element: 2 or 4
}

// Context is the per-master-file image-buffer state: it owns the
// discovery list, the bad-pixel mask, and every handle opened while
// building them, for the lifetime of one supervisor.
//
// Initialization happens at most once, guarded by a sync.Once so that
// concurrent readers arriving during construction block until it
// finishes instead of racing.
type Context struct {
	backend Backend
	path    string
	logger  *log.Helper

	once    sync.Once
	initErr error

	master  MasterFile
	records []Record
	index   rangeIndex

	mask  []uint32
	maskH int
	maskW int
}

// NewContext returns an uninitialized Context for the master file at
// path. Discovery and the mask read happen lazily on first Frame/Mask
// call.
func NewContext(backend Backend, path string, logger *log.Helper) *Context {
	return &Context{backend: backend, path: path, logger: logger}
}

func (c *Context) ensureInit() error {
	c.once.Do(func() {
		master, err := c.backend.OpenMasterFile(c.path)
		if err != nil {
			c.initErr = fmt.Errorf("hdf5: open master file %s: %w", c.path, err)
			return
		}
		c.master = master

		records, err := discoverFrames(master)
		if err != nil {
			c.initErr = err
			return
		}
		c.records = records
		c.index = newRangeIndex(records)

		if err := c.loadMask(); err != nil {
			c.initErr = err
			return
		}
	})
	return c.initErr
}

func (c *Context) loadMask() error {
	ds, err := c.master.OpenDataset(pixelMaskPath)
	if err != nil {
		return fmt.Errorf("hdf5: open pixel mask: %w", err)
	}
	defer ds.Close()

	dims, err := ds.Dims()
	if err != nil {
		return fmt.Errorf("hdf5: pixel mask dims: %w", err)
	}
	if len(dims) != 2 {
		return fmt.Errorf("%w: pixel mask has rank %d, want 2", ErrRankMismatch, len(dims))
	}

	h, w := int(dims[0]), int(dims[1])
	buf := make([]byte, h*w*4)
	if err := ds.ReadAll(buf); err != nil {
		return fmt.Errorf("hdf5: read pixel mask: %w", err)
	}

	mask := make([]uint32, h*w)
	for i := range mask {
		mask[i] = leUint32(buf[i*4 : i*4+4])
	}
	c.mask, c.maskH, c.maskW = mask, h, w
	return nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// Mask returns the bad-pixel mask and its dimensions, reading it from
// the master file on first call.
func (c *Context) Mask() (mask []uint32, height, width int, err error) {
	if err := c.ensureInit(); err != nil {
		return nil, 0, 0, err
	}
	return c.mask, c.maskH, c.maskW, nil
}

// GlobalFrameRange returns the minimum first_frame and maximum
// last_frame across all discovered data files.
func (c *Context) GlobalFrameRange() (first, last int, err error) {
	if err := c.ensureInit(); err != nil {
		return 0, 0, err
	}
	first, last = globalRange(c.records)
	return first, last, nil
}

// SoftwareVersion reads the detector software-version string used to
// select a metadata property table.
func (c *Context) SoftwareVersion() (string, error) {
	if err := c.ensureInit(); err != nil {
		return "", err
	}
	return c.master.ReadString(softwareVersionPath)
}

// Master returns the underlying MasterFile handle so metadata
// extraction can share the same open master file.
func (c *Context) Master() (MasterFile, error) {
	if err := c.ensureInit(); err != nil {
		return nil, err
	}
	return c.master, nil
}

// Frame reads frame number f into a fresh ImageBuffer. On any
// failure, no partial buffer is returned.
func (c *Context) Frame(f int) (ImageBuffer, error) {
	if err := c.ensureInit(); err != nil {
		return ImageBuffer{}, err
	}

	rec, ok := c.index.find(f)
	if !ok {
		return ImageBuffer{}, fmt.Errorf("%w: frame %d", ErrFrameNotFound, f)
	}

	dims, err := rec.Dataset.Dims()
	if err != nil {
		return ImageBuffer{}, fmt.Errorf("hdf5: dims for frame %d: %w", f, err)
	}
	if len(dims) != 3 {
		return ImageBuffer{}, fmt.Errorf("%w: frame stack has rank %d, want 3", ErrRankMismatch, len(dims))
	}

	elemSize, err := rec.Dataset.ElementSize()
	if err != nil {
		return ImageBuffer{}, fmt.Errorf("hdf5: element size for frame %d: %w", f, err)
	}
	if elemSize != 2 && elemSize != 4 {
		return ImageBuffer{}, fmt.Errorf("%w: %d", ErrUnsupportedElementSize, elemSize)
	}

	h, w := int(dims[1]), int(dims[2])
	buf := make([]byte, h*w*elemSize)

	start := []uint64{uint64(f - rec.FirstFrame), 0, 0}
	count := []uint64{1, dims[1], dims[2]}
	if err := rec.Dataset.ReadHyperslab(start, count, buf); err != nil {
		return ImageBuffer{}, fmt.Errorf("hdf5: read frame %d: %w", f, err)
	}

	return ImageBuffer{Data: buf, Height: h, Width: w, Depth: elemSize}, nil
}

// Close releases every handle the Context opened, including the
// master file and all discovery-record dataset handles.
func (c *Context) Close() error {
	if c.master == nil {
		return nil
	}
	for _, r := range c.records {
		if err := r.Dataset.Close(); err != nil {
			c.logger.Warnf("hdf5: closing dataset %s: %v", r.Name, err)
		}
	}
	return c.master.Close()
}
