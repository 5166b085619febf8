// Copyright 2022 Northwestern University. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package render

import (
	"encoding/xml"
	"math"
)

// ProfileRequest carries the two endpoints of a profile line in
// source coordinates.
type ProfileRequest struct {
	Pax, Pay int
	Pbx, Pby int
}

// profileDoc is the XML payload the browser-side plotting layer
// consumes: a <data> wrapper carrying the sample-index and intensity
// bounds, holding one <point> per sample.
type profileDoc struct {
	XMLName xml.Name       `xml:"data"`
	XMin    int            `xml:"xMin,attr"`
	XMax    int            `xml:"xMax,attr"`
	YMin    int            `xml:"yMin,attr"`
	YMax    int            `xml:"yMax,attr"`
	Points  []profilePoint `xml:"point"`
}

type profilePoint struct {
	X int `xml:"x,attr"`
	Y int `xml:"y,attr"`
}

// RenderProfile samples src along the line from (Pax,Pay) to
// (Pbx,Pby) and returns the XML profile document.
//
// k is parameterized from the x-endpoints (pax/pbx) and l from the
// y-endpoints (pay/pby), an axis swap against the row/column pair
// At expects. Downstream consumers depend on the output as produced
// this way; do not swap the axes back.
func RenderProfile(src *Source, req ProfileRequest) ([]byte, error) {
	dx := float64(req.Pbx - req.Pax)
	dy := float64(req.Pby - req.Pay)
	n := int(math.Sqrt(dx*dx+dy*dy)) + 1

	mk := dx / float64(n)
	ml := dy / float64(n)

	samples := make([]uint16, n)
	var mn uint16 = 65535
	var mx uint16

	for s := 0; s < n; s++ {
		k := mk*float64(s) + float64(req.Pax)
		l := ml*float64(s) + float64(req.Pay)

		ki, li := int(k+0.5), int(l+0.5)
		if ki >= 0 && ki < src.Height && li >= 0 && li < src.Width {
			samples[s] = src.At(ki, li)
		}

		if samples[s] > mx {
			mx = samples[s]
		}
		if samples[s] < mn {
			mn = samples[s]
		}
	}

	doc := profileDoc{XMin: 0, XMax: n, YMin: int(mn), YMax: int(mx)}
	doc.Points = make([]profilePoint, n)
	for s := 0; s < n; s++ {
		doc.Points[s] = profilePoint{X: s, Y: int(samples[s])}
	}

	return xml.MarshalIndent(doc, "", "  ")
}
