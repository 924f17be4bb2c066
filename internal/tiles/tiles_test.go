package tiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumKnownValues(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		zoom     int
		x, y     int
	}{
		{"origin at zoom 0", 0, 0, 0, 0, 0},
		{"origin at zoom 1", 0, 0, 1, 1, 1},
		{"northwest corner", 85, -180, 4, 0, 0},
		{"cebu at zoom 10", 10.3157, 123.8854, 10, 864, 482},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y := num(tt.lat, tt.lon, tt.zoom)
			assert.Equal(t, tt.x, x)
			assert.Equal(t, tt.y, y)
		})
	}
}

func TestBoundsBuffersTenPercentPerSide(t *testing.T) {
	box, ok := Bounds([]Point{
		{Lat: 10.0, Lon: 120.0},
		{Lat: 11.0, Lon: 121.0},
	})
	require.True(t, ok)
	assert.InDelta(t, 11.1, box.North, 1e-9)
	assert.InDelta(t, 9.9, box.South, 1e-9)
	assert.InDelta(t, 121.1, box.East, 1e-9)
	assert.InDelta(t, 119.9, box.West, 1e-9)
}

func TestBoundsEmpty(t *testing.T) {
	_, ok := Bounds(nil)
	assert.False(t, ok, "no points means no area to cover")
}

func TestEnumerateCoversBox(t *testing.T) {
	box := BoundingBox{North: 0.5, South: -0.5, East: 0.5, West: -0.5}
	coords := Enumerate(box, []int{2})
	require.Len(t, coords, 4)
	for _, c := range []Coord{
		{X: 1, Y: 1, Z: 2}, {X: 1, Y: 2, Z: 2},
		{X: 2, Y: 1, Z: 2}, {X: 2, Y: 2, Z: 2},
	} {
		assert.Contains(t, coords, c)
	}
}

func TestEnumerateSinglePointBox(t *testing.T) {
	// A degenerate box still yields one tile per zoom level.
	box, ok := Bounds([]Point{{Lat: 10.3157, Lon: 123.8854}})
	require.True(t, ok)
	coords := Enumerate(box, []int{10, 11})
	assert.Len(t, coords, 2)
}

func TestZoomRange(t *testing.T) {
	assert.Equal(t, []int{10, 11, 12}, ZoomRange(10, 12))
	assert.Equal(t, []int{5}, ZoomRange(5, 5))
	assert.Equal(t, []int{3, 4}, ZoomRange(4, 3), "reversed bounds are normalized")
}

func TestURLSubstitution(t *testing.T) {
	url := URL("https://tiles.example.com/{z}/{x}/{y}@2x.png?token=abc", Coord{X: 864, Y: 482, Z: 10})
	assert.Equal(t, "https://tiles.example.com/10/864/482@2x.png?token=abc", url)
}
