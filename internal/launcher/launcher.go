// Copyright 2022 Northwestern University. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package launcher turns a verified auth assertion into a running
// Supervisor: it derives the user's private queue key, applies the
// identity switch, and spawns the Supervisor's worker pool as
// goroutines in the dispatcher's own process. The actual OS identity
// switch is the injected, no-op-by-default
// supervisor.IdentitySwitcher.
package launcher

import (
	"context"
	"fmt"

	"github.com/nu-is/imgserve/internal/hdf5"
	"github.com/nu-is/imgserve/internal/log"
	"github.com/nu-is/imgserve/internal/supervisor"
)

// Launcher builds and starts one Supervisor per (identity, esaf) pair.
type Launcher struct {
	Queue    supervisor.PrivateQueue
	Backend  hdf5.Backend
	Sink     supervisor.Sink
	Switcher supervisor.IdentitySwitcher
	Logger   *log.Helper
	Workers  int
}

// New builds a Launcher. A nil Switcher defaults to a logging no-op.
func New(queue supervisor.PrivateQueue, backend hdf5.Backend, sink supervisor.Sink, switcher supervisor.IdentitySwitcher, logger *log.Helper, workers int) *Launcher {
	if switcher == nil {
		switcher = supervisor.NoopIdentitySwitcher{Logger: logger}
	}
	return &Launcher{Queue: queue, Backend: backend, Sink: sink, Switcher: switcher, Logger: logger, Workers: workers}
}

// Start implements dispatcher.Launcher: it derives a private queue
// key for identity/esaf, switches to the authenticated identity, and
// starts a Supervisor in the background with a fresh hdf5.Cache.
func (l *Launcher) Start(identity string, esaf int) (string, error) {
	if err := l.Switcher.SwitchTo(identity); err != nil {
		return "", fmt.Errorf("launcher: switch identity to %s: %w", identity, err)
	}

	key := PrivateQueueKey(identity, esaf)
	cache := hdf5.NewCache(l.Backend, l.Logger)
	sup := supervisor.New(supervisor.Config{Key: key, Workers: l.Workers}, l.Queue, cache, l.Sink, l.Logger)

	go func() {
		if err := sup.Run(context.Background()); err != nil {
			l.Logger.Errorf("launcher: supervisor %s exited: %v", key, err)
		}
	}()

	return key, nil
}

// PrivateQueueKey derives the Redis key a user's private queue lives at.
func PrivateQueueKey(identity string, esaf int) string {
	return fmt.Sprintf("isworker:%s:%d", identity, esaf)
}
