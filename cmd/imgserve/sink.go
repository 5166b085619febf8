// Copyright 2022 Northwestern University. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nu-is/imgserve/internal/log"
	"github.com/nu-is/imgserve/internal/request"
	"github.com/nu-is/imgserve/internal/supervisor"
)

// fileSink writes each rendered result to dir as a standalone file, a
// minimal concrete Sink so the dispatcher binary is runnable without
// the browser-facing output transport deployed.
type fileSink struct {
	dir    string
	logger *log.Helper
}

func newFileSink(dir string, logger *log.Helper) *fileSink {
	return &fileSink{dir: dir, logger: logger}
}

// Deliver implements supervisor.Sink.
func (s *fileSink) Deliver(r supervisor.Result) error {
	if s.dir == "" {
		s.logger.Debugf("discarding result: frame=%d type=%s (no --output-dir set)", r.Frame, r.Type)
		return nil
	}

	var ext string
	var data []byte
	switch r.Type {
	case request.TypeJPEG:
		ext, data = "jpg", r.JPEG
	case request.TypeProfile:
		ext, data = "xml", r.Profile
	default:
		return fmt.Errorf("filesink: unknown result type %q", r.Type)
	}

	name := filepath.Join(s.dir, fmt.Sprintf("frame-%d.%s", r.Frame, ext))
	return os.WriteFile(name, data, 0o644)
}
