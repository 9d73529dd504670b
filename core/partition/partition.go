// Package partition splits work into batches.
package partition

// Chunk splits items into consecutive batches of at most size elements. The
// last batch holds the remainder. size < 1 is treated as 1.
func Chunk[T any](items []T, size int) [][]T {
	if size < 1 {
		size = 1
	}
	var batches [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, items[start:end:end])
	}
	return batches
}

// Distribute splits total as evenly as possible over bins: every bin gets the
// quotient and the first total%bins bins get one more. Returns nil when bins
// is not positive.
func Distribute(total, bins int) []int {
	if bins <= 0 {
		return nil
	}
	quotient, remainder := total/bins, total%bins
	values := make([]int, bins)
	for i := range values {
		values[i] = quotient
		if i < remainder {
			values[i]++
		}
	}
	return values
}
