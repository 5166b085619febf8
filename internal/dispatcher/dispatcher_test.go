// Copyright 2022 Northwestern University. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package dispatcher

import (
	"context"
	"errors"
	"testing"

	"github.com/nu-is/imgserve/internal/auth"
	"github.com/nu-is/imgserve/internal/log"
	"github.com/nu-is/imgserve/internal/request"
)

type fakeShared struct {
	authByPID  map[string]string
	aliveByPID map[string]bool
	getAuthErr error
	existsErr  error
}

func (f *fakeShared) PopRequest(ctx context.Context, key string) (string, error) {
	return "", errors.New("not used in these tests")
}

func (f *fakeShared) GetAuth(ctx context.Context, pid string) (string, bool, error) {
	if f.getAuthErr != nil {
		return "", false, f.getAuthErr
	}
	raw, ok := f.authByPID[pid]
	return raw, ok, nil
}

func (f *fakeShared) SessionExists(ctx context.Context, pid string) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.aliveByPID[pid], nil
}

type fakePrivate struct {
	pushed map[string][]string
}

func newFakePrivate() *fakePrivate { return &fakePrivate{pushed: map[string][]string{}} }

func (f *fakePrivate) PushPrivate(ctx context.Context, key, payload string) error {
	f.pushed[key] = append(f.pushed[key], payload)
	return nil
}

type fakeDecoder struct {
	assertion auth.Assertion
	err       error
}

func (f *fakeDecoder) Decode(raw string) (auth.Assertion, error) {
	return f.assertion, f.err
}

type fakeLauncher struct {
	key string
	err error
}

func (f *fakeLauncher) Start(identity string, esaf int) (string, error) {
	return f.key, f.err
}

func newTestDispatcher(shared *fakeShared, local *fakePrivate, decoder AssertionDecoder, launcher Launcher) *Dispatcher {
	logger := log.NewHelper(log.NewStdLogger(discardWriter{}))
	return New(shared, local, decoder, launcher, logger)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestHandleMissingPID(t *testing.T) {
	d := newTestDispatcher(&fakeShared{}, newFakePrivate(), &fakeDecoder{}, &fakeLauncher{})
	err := d.handle(context.Background(), request.Descriptor{})
	if err == nil {
		t.Fatalf("expected error for request without pid")
	}
}

func TestHandleAuthMismatchDrops(t *testing.T) {
	shared := &fakeShared{authByPID: map[string]string{"A": "blob"}}
	local := newFakePrivate()
	decoder := &fakeDecoder{assertion: auth.Assertion{PID: "B", Identity: "bob"}}
	d := newTestDispatcher(shared, local, decoder, &fakeLauncher{key: "queue:B"})

	err := d.handle(context.Background(), request.Descriptor{PID: "A", ESAF: 42, Type: request.TypeJPEG})
	if err == nil {
		t.Fatalf("expected pid mismatch to be dropped")
	}
	if len(local.pushed) != 0 {
		t.Errorf("expected no push to private queue on mismatch, got %v", local.pushed)
	}
}

func TestHandleHappyPathStartsSupervisorAndPushes(t *testing.T) {
	shared := &fakeShared{authByPID: map[string]string{"A": "blob"}}
	local := newFakePrivate()
	decoder := &fakeDecoder{assertion: auth.Assertion{PID: "A", Identity: "alice"}}
	d := newTestDispatcher(shared, local, decoder, &fakeLauncher{key: "queue:alice:42"})

	req := request.Descriptor{PID: "A", ESAF: 42, Type: request.TypeJPEG, Frame: 150}
	if err := d.handle(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pushed := local.pushed["queue:alice:42"]
	if len(pushed) != 1 {
		t.Fatalf("expected one push, got %d", len(pushed))
	}

	key, ok := d.Processes.Find("A", 42)
	if !ok || key != "queue:alice:42" {
		t.Errorf("expected process table to remember the new supervisor, got key=%q ok=%v", key, ok)
	}
}

func TestHandleCacheHitSessionGoneMarksDoNotCall(t *testing.T) {
	shared := &fakeShared{aliveByPID: map[string]bool{"A": false}}
	local := newFakePrivate()
	d := newTestDispatcher(shared, local, &fakeDecoder{}, &fakeLauncher{})
	d.Processes.Run("A", 42, "queue:A:42")

	err := d.handle(context.Background(), request.Descriptor{PID: "A", ESAF: 42})
	if err == nil {
		t.Fatalf("expected error when session no longer exists")
	}
	if _, ok := d.Processes.Find("A", 42); ok {
		t.Errorf("expected process entry to be marked do-not-call")
	}
	if len(local.pushed) != 0 {
		t.Errorf("expected no push when session is gone")
	}
}

func TestHandleCacheHitExistsErrorIsFatal(t *testing.T) {
	shared := &fakeShared{existsErr: errors.New("redis: connection refused")}
	local := newFakePrivate()
	d := newTestDispatcher(shared, local, &fakeDecoder{}, &fakeLauncher{})
	d.Processes.Run("A", 42, "queue:A:42")

	err := d.handle(context.Background(), request.Descriptor{PID: "A", ESAF: 42})
	if !errors.Is(err, ErrFatal) {
		t.Fatalf("expected ErrFatal, got %v", err)
	}
}

func TestHandleCacheHitSessionAlivePushesWithoutReauth(t *testing.T) {
	shared := &fakeShared{aliveByPID: map[string]bool{"A": true}}
	local := newFakePrivate()
	launcher := &fakeLauncher{err: errors.New("should not be called")}
	d := newTestDispatcher(shared, local, &fakeDecoder{}, launcher)
	d.Processes.Run("A", 42, "queue:A:42")

	if err := d.handle(context.Background(), request.Descriptor{PID: "A", ESAF: 42}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(local.pushed["queue:A:42"]) != 1 {
		t.Fatalf("expected push to existing queue key")
	}
}
