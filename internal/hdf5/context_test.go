// Copyright 2022 Northwestern University. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package hdf5

import (
	"bytes"
	"sync"
	"testing"

	"github.com/nu-is/imgserve/internal/log"
)

func testLogger() *log.Helper {
	return log.NewHelper(log.NewStdLogger(bytes.NewBuffer(nil)))
}

func TestFrameHappyPathBothFiles(t *testing.T) {
	master := newTwoFileMaster(10, 8)
	ctx := NewContext(&fakeBackend{master: master}, "master.h5", testLogger())

	buf, err := ctx.Frame(150)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.Height != 10 || buf.Width != 8 || buf.Depth != 2 {
		t.Fatalf("got H=%d W=%d depth=%d", buf.Height, buf.Width, buf.Depth)
	}
	if len(buf.Data) != 10*8*2 {
		t.Fatalf("buffer length = %d, want %d", len(buf.Data), 10*8*2)
	}
	// frame 150 lives in the second file, filled with 2.
	if buf.Data[0] != 2 {
		t.Errorf("expected frame from second file (fill byte 2), got %d", buf.Data[0])
	}

	first, last, err := ctx.GlobalFrameRange()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != 1 || last != 200 {
		t.Errorf("global range = [%d,%d], want [1,200]", first, last)
	}
}

func TestFrameBoundaryFirstAndLast(t *testing.T) {
	master := newTwoFileMaster(4, 4)
	ctx := NewContext(&fakeBackend{master: master}, "master.h5", testLogger())

	if _, err := ctx.Frame(1); err != nil {
		t.Errorf("frame 1 (global first_frame): %v", err)
	}
	if _, err := ctx.Frame(100); err != nil {
		t.Errorf("frame 100 (boundary of first file): %v", err)
	}
	if _, err := ctx.Frame(101); err != nil {
		t.Errorf("frame 101 (boundary of second file): %v", err)
	}
	if _, err := ctx.Frame(200); err != nil {
		t.Errorf("frame 200 (global last_frame): %v", err)
	}
}

func TestFrameNotFound(t *testing.T) {
	master := newTwoFileMaster(4, 4)
	ctx := NewContext(&fakeBackend{master: master}, "master.h5", testLogger())

	if _, err := ctx.Frame(0); err == nil {
		t.Errorf("expected error for frame 0")
	}
	if _, err := ctx.Frame(201); err == nil {
		t.Errorf("expected error for frame past last_frame")
	}
}

func TestContextInitOnlyOnce(t *testing.T) {
	master := newTwoFileMaster(4, 4)
	backend := &fakeBackend{master: master}
	ctx := NewContext(backend, "master.h5", testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(frame int) {
			defer wg.Done()
			if _, err := ctx.Frame(frame); err != nil {
				t.Errorf("frame %d: %v", frame, err)
			}
		}(i%200 + 1)
	}
	wg.Wait()

	if backend.opens != 1 {
		t.Fatalf("expected the master file to be opened exactly once, got %d opens", backend.opens)
	}
	if len(ctx.records) != 2 {
		t.Fatalf("expected discovery to run exactly once and find 2 records, got %d", len(ctx.records))
	}
}

func TestMaskRankAndShape(t *testing.T) {
	master := newTwoFileMaster(4, 4)
	ctx := NewContext(&fakeBackend{master: master}, "master.h5", testLogger())

	mask, h, w, err := ctx.Mask()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h != 4 || w != 4 {
		t.Errorf("mask shape = %dx%d, want 4x4", h, w)
	}
	if len(mask) != 16 {
		t.Errorf("mask length = %d, want 16", len(mask))
	}
}

func TestCloseReleasesAllHandles(t *testing.T) {
	master := newTwoFileMaster(4, 4)
	ctx := NewContext(&fakeBackend{master: master}, "master.h5", testLogger())

	if _, err := ctx.Frame(1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ctx.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !master.closed {
		t.Errorf("expected master file to be closed")
	}
	for name, ds := range master.datasets {
		if name == pixelMaskPath {
			continue // closed inline by loadMask, not tracked in records
		}
		if !ds.closed {
			t.Errorf("expected dataset %s to be closed", name)
		}
	}
}
