// Copyright 2022 Northwestern University. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package dispatcher implements the single-threaded loop that pulls
// signed job descriptors off the shared queue, authenticates the
// submitter, and routes each job to a per-user private queue, starting
// a new supervisor on first contact.
package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/nu-is/imgserve/internal/auth"
	"github.com/nu-is/imgserve/internal/log"
	"github.com/nu-is/imgserve/internal/request"
)

// SharedQueue is the subset of *queue.Client the dispatcher needs from
// its remote (shared) connection.
type SharedQueue interface {
	PopRequest(ctx context.Context, key string) (string, error)
	GetAuth(ctx context.Context, pid string) (string, bool, error)
	SessionExists(ctx context.Context, pid string) (bool, error)
}

// PrivateQueue is the subset of *queue.Client the dispatcher needs from
// its local connection to push onto per-user private queues.
type PrivateQueue interface {
	PushPrivate(ctx context.Context, key, payload string) error
}

// AssertionDecoder decodes and verifies an encrypted assertion string.
// *auth.Decoder implements this.
type AssertionDecoder interface {
	Decode(raw string) (auth.Assertion, error)
}

// Launcher starts a new per-user supervisor once an assertion has been
// verified, returning the private queue key jobs for that user should
// be pushed to. The actual OS-identity switch happens behind this
// interface, not in the dispatcher.
type Launcher interface {
	Start(identity string, esaf int) (privateQueueKey string, err error)
}

// SharedRequestsKey names the blocking list the dispatcher pops from.
const SharedRequestsKey = "ISREQUESTS"

// ErrFatal marks a shared-queue or auth-store protocol failure: the
// dispatcher cannot make progress and must exit rather than
// log-and-continue. handle wraps every such error with ErrFatal so Run
// can tell it apart from an ordinary per-request drop.
var ErrFatal = errors.New("dispatcher: fatal infrastructure error")

// Dispatcher is the dispatcher-process singleton.
type Dispatcher struct {
	Shared    SharedQueue
	Local     PrivateQueue
	Decoder   AssertionDecoder
	Launcher  Launcher
	Processes *ProcessTable
	Logger    *log.Helper
}

// New builds a Dispatcher.
func New(shared SharedQueue, local PrivateQueue, decoder AssertionDecoder, launcher Launcher, logger *log.Helper) *Dispatcher {
	return &Dispatcher{
		Shared:    shared,
		Local:     local,
		Decoder:   decoder,
		Launcher:  launcher,
		Processes: NewProcessTable(),
		Logger:    logger,
	}
}

// Run loops forever, popping and routing requests. It returns only on
// a fatal, infrastructure-level error; per-request errors are logged
// and the loop continues.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		payload, err := d.Shared.PopRequest(ctx, SharedRequestsKey)
		if err != nil {
			return fmt.Errorf("dispatcher: fatal queue error: %w", err)
		}

		req, err := request.Parse(payload)
		if err != nil {
			d.Logger.Errorf("failed to parse request %q: %v", payload, err)
			continue
		}

		if err := d.handle(ctx, req); err != nil {
			if errors.Is(err, ErrFatal) {
				return fmt.Errorf("dispatcher: %w", err)
			}
			d.Logger.Errorf("dropping request: %v", err)
		}
	}
}

// handle processes a single parsed request. A non-nil error here is a
// per-request failure unless wrapped as fatal, in which case Run's
// caller should treat the process as unable to continue.
func (d *Dispatcher) handle(ctx context.Context, req request.Descriptor) error {
	if req.PID == "" {
		return errors.New("request without pid")
	}

	queueKey, ok := d.Processes.Find(req.PID, req.ESAF)
	if !ok {
		key, err := d.authenticate(ctx, req)
		if err != nil {
			return err
		}
		queueKey = key
	} else {
		alive, err := d.Shared.SessionExists(ctx, req.PID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrFatal, err)
		}
		if !alive {
			d.Processes.DoNotCall(req.PID, req.ESAF)
			return fmt.Errorf("process %s is no longer active", req.PID)
		}
	}

	jobstr, err := req.Marshal()
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if err := d.Local.PushPrivate(ctx, queueKey, jobstr); err != nil {
		return fmt.Errorf("%w: %v", ErrFatal, err)
	}
	return nil
}

// authenticate performs the cache-miss path: fetch the assertion,
// decrypt, verify, then launch a supervisor and register it.
func (d *Dispatcher) authenticate(ctx context.Context, req request.Descriptor) (string, error) {
	raw, ok, err := d.Shared.GetAuth(ctx, req.PID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFatal, err)
	}
	if !ok {
		return "", fmt.Errorf("process %s is not active", req.PID)
	}

	assertion, err := d.Decoder.Decode(raw)
	if err != nil {
		return "", fmt.Errorf("decode assertion for %s: %w", req.PID, err)
	}
	if err := auth.VerifyPID(assertion, req.PID); err != nil {
		return "", err
	}

	queueKey, err := d.Launcher.Start(assertion.Identity, req.ESAF)
	if err != nil {
		return "", fmt.Errorf("start supervisor for %s: %w", assertion.Identity, err)
	}
	d.Processes.Run(req.PID, req.ESAF, queueKey)
	return queueKey, nil
}
