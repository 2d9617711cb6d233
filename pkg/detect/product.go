package detect

import "iter"

// Product yields every index vector of the cartesian product of ranges with
// the given sizes, last position varying fastest. A zero size yields nothing;
// no sizes yield a single empty vector.
func Product(sizes []int) iter.Seq[[]int] {
	return func(yield func([]int) bool) {
		for _, n := range sizes {
			if n <= 0 {
				return
			}
		}
		idx := make([]int, len(sizes))
		for {
			if !yield(append([]int(nil), idx...)) {
				return
			}
			k := len(idx) - 1
			for ; k >= 0; k-- {
				idx[k]++
				if idx[k] < sizes[k] {
					break
				}
				idx[k] = 0
			}
			if k < 0 {
				return
			}
		}
	}
}
