package template

import (
	"image"
	"image/draw"
	"math"
)

// plane is a single-channel float image in row-major order.
type plane struct {
	w, h int
	pix  []float64
}

// toPlane converts any image to luma.
func toPlane(img image.Image) *plane {
	b := img.Bounds()
	gray, ok := img.(*image.Gray)
	if !ok || gray.Rect.Min != (image.Point{}) {
		gray = image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(gray, gray.Rect, img, b.Min, draw.Src)
	}

	p := &plane{w: b.Dx(), h: b.Dy(), pix: make([]float64, b.Dx()*b.Dy())}
	for y := 0; y < p.h; y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+p.w]
		for x, v := range row {
			p.pix[y*p.w+x] = float64(v)
		}
	}
	return p
}

// half returns a 2x box-downsampled copy. A trailing odd row or column is dropped.
func (p *plane) half() *plane {
	w, h := p.w/2, p.h/2
	out := &plane{w: w, h: h, pix: make([]float64, w*h)}
	for y := 0; y < h; y++ {
		r0 := (2 * y) * p.w
		r1 := r0 + p.w
		for x := 0; x < w; x++ {
			c := 2 * x
			out.pix[y*w+x] = (p.pix[r0+c] + p.pix[r0+c+1] + p.pix[r1+c] + p.pix[r1+c+1]) / 4
		}
	}
	return out
}

// integral holds summed-area tables of values and squared values, sized (w+1)*(h+1).
type integral struct {
	stride int
	sum    []float64
	sq     []float64
}

func newIntegral(p *plane) *integral {
	stride := p.w + 1
	ii := &integral{
		stride: stride,
		sum:    make([]float64, stride*(p.h+1)),
		sq:     make([]float64, stride*(p.h+1)),
	}
	for y := 0; y < p.h; y++ {
		var rowSum, rowSq float64
		for x := 0; x < p.w; x++ {
			v := p.pix[y*p.w+x]
			rowSum += v
			rowSq += v * v
			i := (y+1)*stride + x + 1
			ii.sum[i] = ii.sum[i-stride] + rowSum
			ii.sq[i] = ii.sq[i-stride] + rowSq
		}
	}
	return ii
}

// window returns the sum and sum of squares over the w*h rectangle at (x, y).
func (ii *integral) window(x, y, w, h int) (float64, float64) {
	a := y*ii.stride + x
	b := a + w
	c := (y+h)*ii.stride + x
	d := c + w
	return ii.sum[d] - ii.sum[b] - ii.sum[c] + ii.sum[a],
		ii.sq[d] - ii.sq[b] - ii.sq[c] + ii.sq[a]
}

// kernel is a template level prepared for correlation.
type kernel struct {
	w, h int
	zm   []float64 // pixels minus their mean
	norm float64   // sqrt(sum(zm^2))
}

func newKernel(p *plane) *kernel {
	n := float64(len(p.pix))
	var mean float64
	for _, v := range p.pix {
		mean += v
	}
	mean /= n

	k := &kernel{w: p.w, h: p.h, zm: make([]float64, len(p.pix))}
	var ss float64
	for i, v := range p.pix {
		d := v - mean
		k.zm[i] = d
		ss += d * d
	}
	k.norm = math.Sqrt(ss)
	return k
}

// flatEpsilon is the variance below which a region is treated as uniform.
const flatEpsilon = 1e-6

// score computes the CCOEFF_NORMED coefficient of k placed at (x, y) in p.
// Uniform windows or kernels score 0.
func score(p *plane, ii *integral, k *kernel, x, y int) float64 {
	if k.norm < flatEpsilon {
		return 0
	}

	var cross float64
	for j := 0; j < k.h; j++ {
		row := p.pix[(y+j)*p.w+x : (y+j)*p.w+x+k.w]
		krow := k.zm[j*k.w : (j+1)*k.w]
		for i, kv := range krow {
			cross += kv * row[i]
		}
	}

	n := float64(k.w * k.h)
	s, sq := ii.window(x, y, k.w, k.h)
	variance := sq - s*s/n
	if variance < flatEpsilon {
		return 0
	}

	r := cross / (k.norm * math.Sqrt(variance))
	switch {
	case r > 1:
		return 1
	case r < -1:
		return -1
	}
	return r
}
