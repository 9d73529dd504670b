package partition

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDistribute(t *testing.T) {
	tests := []struct {
		total, bins int
		want        []int
	}{
		{10, 3, []int{4, 3, 3}},
		{0, 3, []int{0, 0, 0}},
		{2, 4, []int{1, 1, 0, 0}},
		{9, 3, []int{3, 3, 3}},
		{7, 1, []int{7}},
	}
	for _, tt := range tests {
		got := Distribute(tt.total, tt.bins)
		require.Equal(t, tt.want, got, "Distribute(%d, %d)", tt.total, tt.bins)

		sum := 0
		for _, v := range got {
			sum += v
			require.LessOrEqual(t, got[0]-v, 1)
		}
		require.Equal(t, tt.total, sum)
	}
	require.Nil(t, Distribute(5, 0))
}

func TestChunk(t *testing.T) {
	require.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, Chunk([]int{1, 2, 3, 4, 5}, 2))
	require.Equal(t, [][]int{{1}, {2}}, Chunk([]int{1, 2}, 0))
	require.Nil(t, Chunk([]int{}, 3))
}

func TestChunkBatchesDoNotAlias(t *testing.T) {
	batches := Chunk([]int{1, 2, 3}, 2)
	batches[0] = append(batches[0], 99)
	require.Equal(t, []int{3}, batches[1])
}
