// Copyright 2022 Northwestern University. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package launcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nu-is/imgserve/internal/hdf5"
	"github.com/nu-is/imgserve/internal/log"
	"github.com/nu-is/imgserve/internal/request"
	"github.com/nu-is/imgserve/internal/supervisor"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *log.Helper {
	return log.NewHelper(log.NewStdLogger(discardWriter{}))
}

type fakeQueue struct {
	mu      sync.Mutex
	pending map[string]chan string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{pending: map[string]chan string{}}
}

func (f *fakeQueue) chanFor(key string) chan string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.pending[key]
	if !ok {
		ch = make(chan string, 16)
		f.pending[key] = ch
	}
	return ch
}

func (f *fakeQueue) PopRequest(ctx context.Context, key string) (string, error) {
	return <-f.chanFor(key), nil
}

func (f *fakeQueue) PushPrivate(ctx context.Context, key, payload string) error {
	f.chanFor(key) <- payload
	return nil
}

func (f *fakeQueue) DeletePrivate(ctx context.Context, key string) error {
	return nil
}

type fakeBackend struct{}

func (fakeBackend) OpenMasterFile(path string) (hdf5.MasterFile, error) {
	return nil, context.DeadlineExceeded
}

func TestPrivateQueueKeyIsStablePerIdentityAndEsaf(t *testing.T) {
	a := PrivateQueueKey("alice", 42)
	b := PrivateQueueKey("alice", 42)
	c := PrivateQueueKey("alice", 43)
	if a != b {
		t.Errorf("expected stable key, got %q vs %q", a, b)
	}
	if a == c {
		t.Errorf("expected different esaf to produce a different key, got %q", a)
	}
}

func TestStartSpawnsSupervisorThatDrainsEndSentinels(t *testing.T) {
	q := newFakeQueue()
	l := New(q, fakeBackend{}, noopSink{}, nil, testLogger(), 2)

	key, err := l.Start("alice", 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != PrivateQueueKey("alice", 42) {
		t.Errorf("key = %q, want %q", key, PrivateQueueKey("alice", 42))
	}

	for i := 0; i < 2; i++ {
		if err := q.PushPrivate(context.Background(), key, request.EndSentinel); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	// Give the spawned supervisor's workers a moment to drain the
	// sentinels and tear down; this only checks the channel empties,
	// not any ordering guarantee.
	time.Sleep(50 * time.Millisecond)
	if len(q.chanFor(key)) != 0 {
		t.Error("expected end sentinels to be drained by the spawned supervisor")
	}
}

type noopSink struct{}

func (noopSink) Deliver(supervisor.Result) error { return nil }
