// Copyright 2022 Northwestern University. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package render

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
)

// JPEGRequest carries the viewport and contrast parameters for one
// jpeg-type render job.
type JPEGRequest struct {
	X, Y          int // viewport origin, source pixels
	Width, Height int // viewport size, source pixels
	Xsize, Ysize  int // output size
	Wval          int // contrast floor
	Contrast      int // contrast ceiling
}

// RenderJPEG renders src's viewport into a quality-100 RGB JPEG of size
// Xsize x Ysize: max-pool downscaling (nearest-pixel when upscaling),
// linear contrast mapping, inverted grayscale output.
func RenderJPEG(src *Source, req JPEGRequest) ([]byte, error) {
	img := renderRGBA(src, req)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// renderRGBA runs the sampling and contrast-mapping pipeline and
// returns the output buffer before JPEG encoding. Output pixels whose
// sampling box falls outside the source image are left black,
// matching the zero-filled scanline buffer the skipped rows are
// emitted from.
func renderRGBA(src *Source, req JPEGRequest) *image.RGBA {
	ya := req.Height / req.Ysize
	xa := req.Width / req.Xsize

	yal := ya / 2
	yau := ya / 2
	if yal+yau < ya {
		yau++
	}
	xal := xa / 2
	xau := xa / 2
	if xal+xau < xa {
		xau++
	}

	jmin := -(req.X*req.Xsize)/req.Width + xal
	jmax := ((src.Width-req.X)*req.Xsize)/req.Width - xau + 1
	if jmin < 0 {
		jmin = 0
	}
	if jmax > req.Xsize {
		jmax = req.Xsize
	}

	img := image.NewRGBA(image.Rect(0, 0, req.Xsize, req.Ysize))

	for i := 0; i < req.Ysize; i++ {
		k := float64(i*req.Height)/float64(req.Ysize) + float64(req.Y)

		if !(k-float64(yal) >= -0.5 && k+float64(yau) < float64(src.Height)-0.5) {
			continue
		}

		for j := jmin; j < jmax; j++ {
			l := float64(j*req.Width)/float64(req.Xsize) + float64(req.X)

			var d uint16
			if ya <= 1 && xa <= 1 {
				d = nearestValue(src, k, l)
			} else {
				d = maxBox(src, k, l, yal, yau, xal, xau)
			}

			img.Set(j, i, contrastColor(d, req.Wval, req.Contrast))
		}
	}

	return img
}

// nearestValue samples the source pixel nearest (k,l), used at 1:1 or
// when upscaling.
func nearestValue(src *Source, k, l float64) uint16 {
	return src.At(int(k+0.5), int(l+0.5))
}

// maxBox returns the maximum source pixel over the box
// [k-yal, k+yau) x [l-xal, l+xau). Diffraction images are sparse
// bright spots on a dark background, so downscaling takes the max
// rather than the mean to keep spots visible.
func maxBox(src *Source, k, l float64, yal, yau, xal, xau int) uint16 {
	var d uint16
	for m := int(k - float64(yal)); float64(m) < k+float64(yau); m++ {
		for n := int(l - float64(xal)); float64(n) < l+float64(xau); n++ {
			if v := src.At(m, n); v > d {
				d = v
			}
		}
	}
	return d
}

// contrastColor maps a 16-bit source value to an output RGB color:
// linear contrast stretch between wval and contrast, inverted to
// grayscale, with the saturation sentinel 65535 forced to pure red
// regardless of the contrast window.
func contrastColor(d uint16, wval, contrast int) color.RGBA {
	if d == 65535 {
		return color.RGBA{R: 255, G: 0, B: 0, A: 255}
	}

	var dout uint8
	switch {
	case int(d) <= wval:
		dout = 0
	case int(d) >= contrast:
		dout = 255
	default:
		dout = uint8(((int(d) - wval) * 255) / (contrast - wval))
	}

	v := 255 - dout
	return color.RGBA{R: v, G: v, B: v, A: 255}
}
