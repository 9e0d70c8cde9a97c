package geom

// Disk rasterizes a filled circle into a size x size mask using the
// midpoint circle algorithm. The circle is centred at (size-1)/2 with the
// same radius, so size must be odd for the mask to be symmetric.
func Disk(size int) [][]bool {
	mask := make([][]bool, size)
	for i := range mask {
		mask[i] = make([]bool, size)
	}
	if size <= 0 {
		return mask
	}

	c := (size - 1) / 2

	hline := func(x0, y, length int) {
		for i := 0; i < length; i++ {
			mask[x0+i][y] = true
		}
	}
	fourPoints := func(x, y int) {
		hline(c-x, c+y, 2*x+1)
		hline(c-x, c-y, 2*x+1)
	}

	err := -c
	x, y := c, 0
	for x >= y {
		fourPoints(x, y)
		if x != y {
			fourPoints(y, x)
		}

		err += y
		y++
		err += y

		if err >= 0 {
			err -= x
			x--
			err -= x
		}
	}
	return mask
}
