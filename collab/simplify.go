package collab

import (
	"math"

	"whiteboard-server/core"
)

// DefaultTolerance is the minimum distance, in canvas units, between two
// retained points of a simplified stroke.
const DefaultTolerance = 2.0

// SimplifyPoints reduces a raw stroke to a perceptually equivalent point
// sequence. The first and last points are always retained; an intermediate
// point is retained only when its straight-line distance from the last
// retained point exceeds the tolerance. Greedy, single pass, idempotent on
// its own output. Lists with fewer than three points pass through unchanged.
func SimplifyPoints(points []core.Point, tolerance float64) []core.Point {
	if len(points) < 3 {
		return points
	}

	simplified := make([]core.Point, 0, len(points))
	simplified = append(simplified, points[0])

	for i := 1; i < len(points)-1; i++ {
		prev := simplified[len(simplified)-1]
		curr := points[i]

		dist := math.Hypot(curr.X-prev.X, curr.Y-prev.Y)
		if dist > tolerance {
			simplified = append(simplified, curr)
		}
	}

	simplified = append(simplified, points[len(points)-1])
	return simplified
}
