package resizer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-compressor-go/internal/testutil"
)

func TestComputeTargetDimensions(t *testing.T) {
	tests := []struct {
		name         string
		w, h, max    int
		wantW, wantH int
	}{
		{"fits", 800, 600, 1024, 800, 600},
		{"exact edge", 1024, 768, 1024, 1024, 768},
		{"landscape", 4000, 3000, 1024, 1024, 768},
		{"portrait", 3000, 4000, 1024, 768, 1024},
		{"square", 2048, 2048, 1024, 1024, 1024},
		{"rounding", 1500, 1001, 1024, 1024, 683},
		{"thin strip", 100000, 10, 1024, 1024, 1},
		{"tall strip", 3, 5000, 1024, 1, 1024},
		{"disabled", 5000, 4000, 0, 5000, 4000},
		{"tiny", 1, 1, 1024, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := ComputeTargetDimensions(tt.w, tt.h, tt.max)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}

func TestComputeTargetDimensions_NeverUpscales(t *testing.T) {
	for w := 1; w <= 1024; w += 37 {
		for h := 1; h <= 1024; h += 41 {
			gw, gh := ComputeTargetDimensions(w, h, 1024)
			require.Equal(t, w, gw)
			require.Equal(t, h, gh)
		}
	}
}

func TestComputeTargetDimensions_LongerEdgeAndAspect(t *testing.T) {
	const maxEdge = 1024
	for w := 1025; w <= 9000; w += 331 {
		for h := 7; h <= 9000; h += 419 {
			gw, gh := ComputeTargetDimensions(w, h, maxEdge)
			require.Equal(t, maxEdge, max(gw, gh), "%dx%d", w, h)

			// the shorter edge must be within a pixel of the exact proportion
			if w >= h {
				exact := float64(h) * float64(maxEdge) / float64(w)
				require.LessOrEqual(t, math.Abs(float64(gh)-exact), 1.0, "%dx%d", w, h)
			} else {
				exact := float64(w) * float64(maxEdge) / float64(h)
				require.LessOrEqual(t, math.Abs(float64(gw)-exact), 1.0, "%dx%d", w, h)
			}
		}
	}
}

func TestResize_PassThroughWhenSameSize(t *testing.T) {
	img := testutil.Gradient(30, 20)
	out := Resize(img, 30, 20)
	assert.Same(t, img, out)
}

func TestResize_Deterministic(t *testing.T) {
	img := testutil.Noisy(300, 200, 7)
	a := Resize(img, 150, 100)
	b := Resize(img, 150, 100)
	assert.Equal(t, 150, a.Bounds().Dx())
	assert.Equal(t, 100, a.Bounds().Dy())
	assert.Equal(t, a, b)
}

func TestFit(t *testing.T) {
	img := testutil.Gradient(200, 100)

	out, resized := Fit(img, 50)
	assert.True(t, resized)
	assert.Equal(t, 50, out.Bounds().Dx())
	assert.Equal(t, 25, out.Bounds().Dy())

	out, resized = Fit(img, 400)
	assert.False(t, resized)
	assert.Same(t, img, out)
}
