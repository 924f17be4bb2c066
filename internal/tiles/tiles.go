// Package tiles computes the slippy-map tile set covering a tour area,
// so the map stays usable offline alongside the tour's own content.
package tiles

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Zoom levels cached by default: city overview down to street level.
const (
	DefaultZoomMin = 10
	DefaultZoomMax = 18
)

// The box around the stops is widened by this fraction per side so the
// map does not cut off right at the outermost stop.
const boundsBuffer = 0.1

// Coord identifies one map tile.
type Coord struct {
	X, Y, Z int
}

// Path returns the z/x/y form used in tile URLs and cache keys.
func (c Coord) Path() string {
	return fmt.Sprintf("%d/%d/%d", c.Z, c.X, c.Y)
}

// Point is a stop location in degrees.
type Point struct {
	Lat, Lon float64
}

// BoundingBox is a lat/lon rectangle in degrees.
type BoundingBox struct {
	North, South, East, West float64
}

// Bounds returns the buffered bounding box around the given points. The
// second return is false when there are no points to bound.
func Bounds(points []Point) (BoundingBox, bool) {
	if len(points) == 0 {
		return BoundingBox{}, false
	}
	box := BoundingBox{
		North: points[0].Lat,
		South: points[0].Lat,
		East:  points[0].Lon,
		West:  points[0].Lon,
	}
	for _, pt := range points[1:] {
		box.North = math.Max(box.North, pt.Lat)
		box.South = math.Min(box.South, pt.Lat)
		box.East = math.Max(box.East, pt.Lon)
		box.West = math.Min(box.West, pt.Lon)
	}
	latBuffer := (box.North - box.South) * boundsBuffer
	lonBuffer := (box.East - box.West) * boundsBuffer
	box.North += latBuffer
	box.South -= latBuffer
	box.East += lonBuffer
	box.West -= lonBuffer
	return box, true
}

// num converts a location to tile indices at the given zoom.
func num(lat, lon float64, zoom int) (x, y int) {
	n := math.Pow(2, float64(zoom))
	x = int(math.Floor((lon + 180) / 360 * n))
	latRad := lat * math.Pi / 180
	y = int(math.Floor((1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * n))
	return x, y
}

// Enumerate lists every tile covering box at each of the given zooms.
func Enumerate(box BoundingBox, zooms []int) []Coord {
	var coords []Coord
	for _, zoom := range zooms {
		x0, y0 := num(box.South, box.West, zoom)
		x1, y1 := num(box.North, box.East, zoom)
		if x1 < x0 {
			x0, x1 = x1, x0
		}
		if y1 < y0 {
			y0, y1 = y1, y0
		}
		for x := x0; x <= x1; x++ {
			for y := y0; y <= y1; y++ {
				coords = append(coords, Coord{X: x, Y: y, Z: zoom})
			}
		}
	}
	return coords
}

// ZoomRange expands an inclusive min..max zoom range into a level list.
func ZoomRange(min, max int) []int {
	if max < min {
		min, max = max, min
	}
	zooms := make([]int, 0, max-min+1)
	for z := min; z <= max; z++ {
		zooms = append(zooms, z)
	}
	return zooms
}

// URL substitutes a tile's coordinates into a template containing {z},
// {x} and {y} placeholders.
func URL(template string, c Coord) string {
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(c.Z),
		"{x}", strconv.Itoa(c.X),
		"{y}", strconv.Itoa(c.Y),
	)
	return r.Replace(template)
}
