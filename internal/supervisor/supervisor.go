// Copyright 2022 Northwestern University. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package supervisor

import (
	"context"
	"fmt"
	"sync"

	"github.com/nu-is/imgserve/internal/hdf5"
	"github.com/nu-is/imgserve/internal/log"
	"github.com/nu-is/imgserve/internal/request"
)

// DefaultWorkerCount is how many workers one supervisor spawns when
// Config.Workers is unset.
const DefaultWorkerCount = 4

// PrivateQueue is the subset of *queue.Client a Supervisor needs against
// its local connection: popping jobs (via the workers it spawns),
// pushing shutdown sentinels, and deleting the queue key on teardown.
type PrivateQueue interface {
	Popper
	PushPrivate(ctx context.Context, key, payload string) error
	DeletePrivate(ctx context.Context, key string) error
}

// Config parameterizes a Supervisor. Workers defaults to
// DefaultWorkerCount when zero.
type Config struct {
	Key     string
	Workers int
}

// Supervisor is the in-process root of one authenticated user's
// serving pool: it owns the HDF5 image-buffer cache and a fixed pool
// of Workers sharing it.
type Supervisor struct {
	cfg    Config
	queue  PrivateQueue
	cache  *hdf5.Cache
	sink   Sink
	logger *log.Helper
}

// New builds a Supervisor. cache is the shared image-buffer cache,
// closed (along with every hdf5.Context it holds) when Run returns.
func New(cfg Config, queue PrivateQueue, cache *hdf5.Cache, sink Sink, logger *log.Helper) *Supervisor {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkerCount
	}
	return &Supervisor{cfg: cfg, queue: queue, cache: cache, sink: sink, logger: logger}
}

// Run spawns the worker pool and blocks until every worker has
// terminated, then deletes the private queue key and closes the shared
// HDF5 cache. Graceful shutdown is triggered externally by pushing one
// "end" payload per worker onto the private queue key.
func (s *Supervisor) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make(chan error, s.cfg.Workers)

	for i := 0; i < s.cfg.Workers; i++ {
		w := NewWorker(s.queue, s.cfg.Key, s.cache, s.sink, s.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)

	if err := s.queue.DeletePrivate(ctx, s.cfg.Key); err != nil {
		s.logger.Warnf("supervisor %s: deleting private queue: %v", s.cfg.Key, err)
	}

	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Warnf("supervisor %s: closing hdf5 cache: %v", s.cfg.Key, err)
		}
	}

	for err := range errs {
		return fmt.Errorf("supervisor %s: %w", s.cfg.Key, err)
	}
	return nil
}

// Shutdown pushes one EndSentinel payload per worker onto the private
// queue, asking every worker to exit cleanly after its current job.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	for i := 0; i < s.cfg.Workers; i++ {
		if err := s.queue.PushPrivate(ctx, s.cfg.Key, request.EndSentinel); err != nil {
			return fmt.Errorf("supervisor %s: shutdown: %w", s.cfg.Key, err)
		}
	}
	return nil
}
