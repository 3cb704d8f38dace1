package neighbors

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// lineScores places four cells on a line at x = 0, 1, 2, 3.
func lineScores() *mat.Dense {
	return mat.NewDense(4, 2, []float64{
		0, 0,
		1, 0,
		2, 0,
		3, 0,
	})
}

func TestKNNLine(t *testing.T) {
	knn, err := Compute(lineScores(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, knn.K)
	assert.Equal(t, 4, knn.NCells())

	assert.Equal(t, []int32{1, 2}, knn.Idx[0])
	// Cells 0 and 2 are both at distance 1 from cell 1; index order breaks
	// the tie.
	assert.Equal(t, []int32{0, 2}, knn.Idx[1])
	assert.Equal(t, []int32{1, 3}, knn.Idx[2])
	assert.Equal(t, []int32{2, 1}, knn.Idx[3])

	assert.Equal(t, []float32{1, 2}, knn.Dist[0])
	assert.Equal(t, []float32{1, 1}, knn.Dist[1])
	assert.Equal(t, []float32{1, 1}, knn.Dist[2])
	assert.Equal(t, []float32{1, 2}, knn.Dist[3])
}

func TestKNNClampsK(t *testing.T) {
	scores := mat.NewDense(3, 1, []float64{0, 1, 2})
	knn, err := Compute(scores, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, knn.K)
	for i := 0; i < 3; i++ {
		assert.Len(t, knn.Idx[i], 2)
	}
}

func TestKNNErrors(t *testing.T) {
	_, err := Compute(mat.NewDense(1, 2, []float64{0, 0}), 2)
	assert.Error(t, err)

	_, err = Compute(lineScores(), 0)
	assert.Error(t, err)
}

func TestSNNLine(t *testing.T) {
	knn, err := Compute(lineScores(), 2)
	require.NoError(t, err)

	// Neighborhoods with self: {0,1,2}, {0,1,2}, {1,2,3}, {1,2,3}. Adjacent
	// pairs on the same side share all three members, everything else shares
	// two of six.
	g := knn.SNN(DefaultOpts.Prune)
	require.Equal(t, 4, g.NCells)
	assert.Equal(t, []Edge{
		{Src: 0, Dst: 1, Weight: 1},
		{Src: 0, Dst: 2, Weight: 0.5},
		{Src: 0, Dst: 3, Weight: 0.5},
		{Src: 1, Dst: 2, Weight: 0.5},
		{Src: 1, Dst: 3, Weight: 0.5},
		{Src: 2, Dst: 3, Weight: 1},
	}, g.Edges)

	pruned := knn.SNN(0.6)
	assert.Equal(t, []Edge{
		{Src: 0, Dst: 1, Weight: 1},
		{Src: 2, Dst: 3, Weight: 1},
	}, pruned.Edges)
	assert.Equal(t, []int{1, 1, 1, 1}, pruned.Degrees())
}

func TestKNNDeterministic(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	data := make([]float64, 30*5)
	for i := range data {
		data[i] = rnd.NormFloat64()
	}
	scores := mat.NewDense(30, 5, data)

	first, err := Compute(scores, 8)
	require.NoError(t, err)
	second, err := Compute(scores, 8)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, first.SNN(DefaultOpts.Prune), second.SNN(DefaultOpts.Prune))
}
