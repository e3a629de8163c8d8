package tiled

// ChooseTileShape picks a tile shape for a cell shape. weights biases which
// axes keep coherency (heavier axes shrink last); tol accepts a tile length
// within the given relative tolerance of an even divisor so tiles waste
// little padding; maxElements bounds the tile element product best-effort.
// The strict guarantee is per-axis containment: 1 <= tile[i] <= cell[i].
func ChooseTileShape(cellShape []int, weights, tol []float64, maxElements int) []int {
	d := len(cellShape)
	tile := make([]int, d)
	for i, c := range cellShape {
		if c < 1 {
			c = 1
		}
		tile[i] = c
	}
	if maxElements < 1 {
		maxElements = 1
	}
	w := make([]float64, d)
	for i := range w {
		w[i] = 1
		if weights != nil && i < len(weights) && weights[i] > 0 {
			w[i] = weights[i]
		}
	}

	for product(tile) > maxElements {
		// Halve the axis where a cut hurts coherency least: the largest
		// tile length scaled down by its weight.
		best, bestScore := -1, 0.0
		for i := range tile {
			if tile[i] <= 1 {
				continue
			}
			score := float64(tile[i]) / w[i]
			if best < 0 || score > bestScore {
				best, bestScore = i, score
			}
		}
		if best < 0 {
			break
		}
		tile[best] = (tile[best] + 1) / 2
	}

	// Snap each axis to an even divisor of the cell length when the move
	// stays within tolerance.
	for i := range tile {
		t := tol
		rel := 0.5
		if t != nil && i < len(t) && t[i] > 0 {
			rel = t[i]
		}
		n := (cellShape[i] + tile[i] - 1) / tile[i]
		snapped := (cellShape[i] + n - 1) / n
		if snapped >= 1 && snapped <= cellShape[i] {
			diff := float64(snapped-tile[i]) / float64(tile[i])
			if diff < 0 {
				diff = -diff
			}
			if diff <= rel {
				tile[i] = snapped
			}
		}
		if tile[i] < 1 {
			tile[i] = 1
		}
		if tile[i] > cellShape[i] && cellShape[i] >= 1 {
			tile[i] = cellShape[i]
		}
	}
	return tile
}

func product(s []int) int {
	p := 1
	for _, v := range s {
		p *= v
	}
	return p
}
