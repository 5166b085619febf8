// Copyright 2022 Northwestern University. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package hdf5

import (
	"sync"

	"github.com/nu-is/imgserve/internal/log"
)

// Cache is the shared image-buffer cache handed to every worker in a
// supervisor's pool: one Context per master file path, created at most
// once and reused across jobs and across workers for the life of the
// supervisor.
type Cache struct {
	backend Backend
	logger  *log.Helper

	mu       sync.Mutex
	contexts map[string]*Context
}

// NewCache returns an empty Cache backed by backend.
func NewCache(backend Backend, logger *log.Helper) *Cache {
	return &Cache{backend: backend, logger: logger, contexts: make(map[string]*Context)}
}

// Get returns the Context for path, constructing and registering one on
// first use. The returned Context has not necessarily run discovery yet;
// that happens lazily on its first Frame/Mask/SoftwareVersion/Master
// call, same as a standalone Context.
func (c *Cache) Get(path string) *Context {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ctx, ok := c.contexts[path]; ok {
		return ctx
	}
	ctx := NewContext(c.backend, path, c.logger)
	c.contexts[path] = ctx
	return ctx
}

// Close releases every Context this cache has created, one per master
// file the supervisor's workers touched.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var first error
	for path, ctx := range c.contexts {
		if err := ctx.Close(); err != nil && first == nil {
			first = err
			c.logger.Warnf("hdf5: closing context for %s: %v", path, err)
		}
	}
	return first
}
