// Copyright 2022 Northwestern University. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package supervisor implements the per-job Worker loop and the
// per-user Supervisor that owns a pool of them plus the shared HDF5
// image-buffer cache.
//
// A worker blocks on its supervisor's private queue key (shared by
// every worker in the pool), treats the sentinel
// payload "end" as clean shutdown, and otherwise parses and dispatches
// one job at a time; a supervisor starts N workers sharing one
// hdf5.Cache, waits for all of them, then tears the cache down and
// deletes the private queue key.
package supervisor

import (
	"context"
	"fmt"
	"strings"

	"github.com/nu-is/imgserve/internal/hdf5"
	"github.com/nu-is/imgserve/internal/log"
	"github.com/nu-is/imgserve/internal/metadata"
	"github.com/nu-is/imgserve/internal/render"
	"github.com/nu-is/imgserve/internal/request"
)

// Popper is the subset of *queue.Client a Worker needs: blocking pop
// on its supervisor's private queue key.
type Popper interface {
	PopRequest(ctx context.Context, key string) (string, error)
}

// Result is one worker's rendered output, plus the frame metadata
// delivered alongside the image: the request's frame number, the
// master file's global frame range, and (for HDF5 sources) the full
// detector metadata object.
type Result struct {
	Type       request.Type
	JPEG       []byte
	Profile    []byte
	Frame      int
	FirstFrame int
	LastFrame  int
	Meta       map[string]interface{}
}

// Sink is where a Worker delivers one rendered Result. The transport
// back to the browser-facing layer lives behind this interface; a real
// deployment plugs its own in.
type Sink interface {
	Deliver(Result) error
}

// Worker pops jobs off one private queue key and dispatches them to
// the render package. Workers are stateless across jobs; the only
// state that outlives a single job is Cache, the supervisor's shared
// image-buffer cache (one hdf5.Context per master file touched).
type Worker struct {
	Queue  Popper
	Key    string
	Cache  *hdf5.Cache
	Sink   Sink
	Logger *log.Helper
}

// NewWorker builds a Worker bound to key, sharing cache with its
// siblings.
func NewWorker(q Popper, key string, cache *hdf5.Cache, sink Sink, logger *log.Helper) *Worker {
	return &Worker{Queue: q, Key: key, Cache: cache, Sink: sink, Logger: logger}
}

// Run loops popping and dispatching jobs until the "end" sentinel
// arrives or the queue reports a fatal error.
func (w *Worker) Run(ctx context.Context) error {
	for {
		payload, err := w.Queue.PopRequest(ctx, w.Key)
		if err != nil {
			return fmt.Errorf("supervisor: worker %s: %w", w.Key, err)
		}
		if payload == request.EndSentinel {
			return nil
		}

		req, err := request.Parse(payload)
		if err != nil {
			w.Logger.Errorf("worker %s: parse error: %v", w.Key, err)
			continue
		}

		if err := w.dispatch(req); err != nil {
			w.Logger.Errorf("worker %s: job %s on %s: %v", w.Key, req.Type, req.Fn, err)
		}
	}
}

// dispatch routes a parsed job by type. Unknown types are logged and
// skipped, never fatal.
func (w *Worker) dispatch(req request.Descriptor) error {
	switch req.Type {
	case request.TypeJPEG, request.TypeProfile:
		return w.render(req)
	default:
		w.Logger.Warnf("worker %s: unknown job type %q", w.Key, req.Type)
		return nil
	}
}

func (w *Worker) render(req request.Descriptor) error {
	src, meta, first, last, err := w.open(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := src.Close(); err != nil {
			w.Logger.Warnf("worker %s: closing source %s: %v", w.Key, req.Fn, err)
		}
	}()

	result := Result{Type: req.Type, Frame: req.Frame, FirstFrame: first, LastFrame: last, Meta: meta}

	switch req.Type {
	case request.TypeJPEG:
		out, err := render.RenderJPEG(src, render.JPEGRequest{
			X: req.X, Y: req.Y, Width: req.Width, Height: req.Height,
			Xsize: req.Xsize, Ysize: req.Ysize,
			Wval: req.Wval, Contrast: req.Contrast,
		})
		if err != nil {
			return fmt.Errorf("render jpeg: %w", err)
		}
		result.JPEG = out

	case request.TypeProfile:
		out, err := render.RenderProfile(src, render.ProfileRequest{
			Pax: req.Pax, Pay: req.Pay, Pbx: req.Pbx, Pby: req.Pby,
		})
		if err != nil {
			return fmt.Errorf("render profile: %w", err)
		}
		result.Profile = out
	}

	return w.Sink.Deliver(result)
}

// open resolves req.Fn to a render.Source: an HDF5 frame read for a
// master file, or the TIFF reader for a legacy file. For the HDF5 path
// the detector metadata object and global frame range accompany the
// frame read so they can be delivered with the result; a TIFF source
// has neither, so they are left empty.
func (w *Worker) open(req request.Descriptor) (*render.Source, map[string]interface{}, int, int, error) {
	if isTIFF(req.Fn) {
		src, err := render.OpenTIFF(req.Fn)
		if err != nil {
			return nil, nil, 0, 0, fmt.Errorf("open tiff %s: %w", req.Fn, err)
		}
		return src, nil, 0, 0, nil
	}

	ctx := w.Cache.Get(req.Fn)
	buf, err := ctx.Frame(req.Frame)
	if err != nil {
		return nil, nil, 0, 0, fmt.Errorf("read frame %d from %s: %w", req.Frame, req.Fn, err)
	}
	first, last, err := ctx.GlobalFrameRange()
	if err != nil {
		return nil, nil, 0, 0, fmt.Errorf("frame range for %s: %w", req.Fn, err)
	}
	meta, err := metadata.NewExtractor().Extract(ctx, req.Fn)
	if err != nil {
		return nil, nil, 0, 0, fmt.Errorf("metadata for %s: %w", req.Fn, err)
	}
	meta["frame"] = int64(req.Frame)
	src, err := render.FromBuffer(buf.Width, buf.Height, buf.Depth, buf.Data)
	if err != nil {
		return nil, nil, 0, 0, fmt.Errorf("decode frame %d from %s: %w", req.Frame, req.Fn, err)
	}
	return src, meta, first, last, nil
}

func isTIFF(fn string) bool {
	lower := strings.ToLower(fn)
	return strings.HasSuffix(lower, ".tif") || strings.HasSuffix(lower, ".tiff")
}
