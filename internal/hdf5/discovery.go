// Copyright 2022 Northwestern University. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package hdf5

import (
	"fmt"
	"sort"
)

// Record is one entry of the frame-discovery list: a data file's
// dataset plus the inclusive frame range it covers. The list as a
// whole preserves /entry/data visit order; rangeIndex below is a
// separate sorted-slice accelerator for frame lookup.
type Record struct {
	Name       string
	Dataset    Dataset
	FirstFrame int
	LastFrame  int
}

// discoverFrames walks master's /entry/data links in visit order and
// builds the ordered Record list, reading each link's image_nr_low/
// image_nr_high attributes.
func discoverFrames(master MasterFile) ([]Record, error) {
	names, err := master.ListDataLinks()
	if err != nil {
		return nil, fmt.Errorf("hdf5: list /entry/data links: %w", err)
	}

	records := make([]Record, 0, len(names))
	// fail closes every dataset opened so far (ds, if not yet recorded,
	// plus all records) before returning err.
	fail := func(ds Dataset, err error) ([]Record, error) {
		if ds != nil {
			ds.Close()
		}
		for _, r := range records {
			r.Dataset.Close()
		}
		return nil, err
	}
	for _, name := range names {
		ds, err := master.OpenDataset("/entry/data/" + name)
		if err != nil {
			return fail(nil, fmt.Errorf("hdf5: open data link %s: %w", name, err))
		}

		low, err := readIntAttr(ds, "image_nr_low")
		if err != nil {
			return fail(ds, fmt.Errorf("hdf5: read image_nr_low on %s: %w", name, err))
		}
		high, err := readIntAttr(ds, "image_nr_high")
		if err != nil {
			return fail(ds, fmt.Errorf("hdf5: read image_nr_high on %s: %w", name, err))
		}
		if low > high {
			return fail(ds, fmt.Errorf("hdf5: %s has first_frame %d > last_frame %d", name, low, high))
		}

		records = append(records, Record{
			Name:       name,
			Dataset:    ds,
			FirstFrame: int(low),
			LastFrame:  int(high),
		})
	}
	return records, nil
}

func readIntAttr(ds Dataset, name string) (int64, error) {
	attr, err := ds.Attr(name)
	if err != nil {
		return 0, err
	}
	return attr.ReadInt()
}

// rangeIndex accelerates frame -> Record lookup with a sorted-by-start
// slice and binary search.
type rangeIndex struct {
	byFirst []Record
}

func newRangeIndex(records []Record) rangeIndex {
	byFirst := make([]Record, len(records))
	copy(byFirst, records)
	sort.Slice(byFirst, func(i, j int) bool { return byFirst[i].FirstFrame < byFirst[j].FirstFrame })
	return rangeIndex{byFirst: byFirst}
}

// find returns the single Record whose [FirstFrame, LastFrame] range
// contains frame. Ranges are disjoint, so at most one record matches.
func (ri rangeIndex) find(frame int) (Record, bool) {
	// Binary search for the last record whose FirstFrame <= frame.
	i := sort.Search(len(ri.byFirst), func(i int) bool {
		return ri.byFirst[i].FirstFrame > frame
	}) - 1
	if i < 0 {
		return Record{}, false
	}
	r := ri.byFirst[i]
	if frame < r.FirstFrame || frame > r.LastFrame {
		return Record{}, false
	}
	return r, true
}

// globalRange returns the minimum FirstFrame and maximum LastFrame
// over all records.
func globalRange(records []Record) (first, last int) {
	if len(records) == 0 {
		return 0, 0
	}
	first, last = records[0].FirstFrame, records[0].LastFrame
	for _, r := range records[1:] {
		if r.FirstFrame < first {
			first = r.FirstFrame
		}
		if r.LastFrame > last {
			last = r.LastFrame
		}
	}
	return first, last
}
