// Copyright 2022 Northwestern University. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package request defines the job descriptor carried on the shared
// and private Redis queues.
package request

import "encoding/json"

// Type is the job-type tag carried by a Descriptor.
type Type string

// Recognized job types.
const (
	TypeJPEG    Type = "jpeg"
	TypeProfile Type = "profile"
)

// Descriptor is one unit of work popped from a queue. The JSON keys
// are fixed by the upstream submitter's wire format.
type Descriptor struct {
	PID  string `json:"pid"`
	ESAF int    `json:"esaf"`
	Type Type   `json:"type"`

	// Source file and frame selection.
	Fn    string `json:"fn"`
	Frame int    `json:"frame"`

	// Viewport, in source pixels, and output size (jpeg jobs).
	X     int `json:"x"`
	Y     int `json:"y"`
	Width int `json:"width"`

	Height int `json:"height"`
	Xsize  int `json:"xsize"`
	Ysize  int `json:"ysize"`

	// Contrast window.
	Wval     int `json:"wval"`
	Contrast int `json:"contrast"`

	// Profile endpoints (profile jobs).
	Pax int `json:"pax"`
	Pay int `json:"pay"`
	Pbx int `json:"pbx"`
	Pby int `json:"pby"`
}

// Sentinel payload that terminates exactly one worker.
const EndSentinel = "end"

// Parse decodes a popped queue payload into a Descriptor.
func Parse(payload string) (Descriptor, error) {
	var d Descriptor
	err := json.Unmarshal([]byte(payload), &d)
	return d, err
}

// Marshal renders the descriptor back to compact JSON for re-queuing
// onto a private queue.
func (d Descriptor) Marshal() (string, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
