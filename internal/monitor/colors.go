package monitor

import (
	"image/color"
	"math"
)

// palette returns n colours evenly spaced in hue.
func palette(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := range colors {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL in [0,1] to 8-bit RGB.
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	if s == 0 {
		v := uint8(math.Round(l * 255))
		return v, v, v
	}
	q := l + s - l*s
	if l < 0.5 {
		q = l * (1 + s)
	}
	p := 2*l - q
	return uint8(math.Round(hueToRGB(p, q, h+1.0/3) * 255)),
		uint8(math.Round(hueToRGB(p, q, h) * 255)),
		uint8(math.Round(hueToRGB(p, q, h-1.0/3) * 255))
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6:
		return p + (q-p)*6*t
	case t < 1.0/2:
		return q
	case t < 2.0/3:
		return p + (q-p)*(2.0/3-t)*6
	}
	return p
}

// bucket maps v in [lo, hi] onto one of n palette slots.
func bucket(v, lo, hi float64, n int) int {
	if n <= 1 || !(hi > lo) {
		return 0
	}
	i := int((v - lo) / (hi - lo) * float64(n))
	return min(max(i, 0), n-1)
}
