package vector

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "index", "vectors.hnsw")
}

func TestOpen_CreatesEmptyIndex(t *testing.T) {
	idx, err := Open(testPath(t), 4, Config{})
	require.NoError(t, err)
	defer idx.Close()

	assert.Equal(t, 4, idx.Dim())
	assert.Equal(t, 0, idx.Count())

	results, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestAdd_ChecksDimension(t *testing.T) {
	idx, err := Open(testPath(t), 4, Config{})
	require.NoError(t, err)
	defer idx.Close()

	err = idx.Add(context.Background(), []int64{1}, [][]float32{{1, 0}})
	require.Error(t, err)

	var mismatch ErrDimensionMismatch
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, 4, mismatch.Expected)
	assert.Equal(t, 2, mismatch.Got)
}

func TestSearch_ReturnsNearestByInnerProduct(t *testing.T) {
	idx, err := Open(testPath(t), 3, Config{})
	require.NoError(t, err)
	defer idx.Close()

	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, []int64{10, 20, 30}, [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0.9, 0.1, 0},
	}))

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, int64(10), results[0].ChunkID)
	assert.InDelta(t, 1.0, float64(results[0].Score), 1e-5)
	assert.Equal(t, int64(30), results[1].ChunkID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSearch_NormalizesInputs(t *testing.T) {
	idx, err := Open(testPath(t), 2, Config{})
	require.NoError(t, err)
	defer idx.Close()

	ctx := context.Background()
	// Same direction, different magnitude.
	require.NoError(t, idx.Add(ctx, []int64{1}, [][]float32{{10, 0}}))

	results, err := idx.Search(ctx, []float32{0.5, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, float64(results[0].Score), 1e-5)
}

func TestAdd_CheckpointSurvivesReopen(t *testing.T) {
	path := testPath(t)
	ctx := context.Background()

	idx, err := Open(path, 3, Config{})
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, []int64{1, 2}, [][]float32{
		{1, 0, 0},
		{0, 1, 0},
	}))
	require.NoError(t, idx.Close())

	reopened, err := Open(path, 0, Config{})
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 3, reopened.Dim())
	assert.Equal(t, 2, reopened.Count())
	assert.Positive(t, reopened.SizeBytes())

	results, err := reopened.Search(ctx, []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(2), results[0].ChunkID)
}

func TestOpen_ConflictingDimRejected(t *testing.T) {
	path := testPath(t)

	idx, err := Open(path, 3, Config{})
	require.NoError(t, err)
	require.NoError(t, idx.Add(context.Background(), []int64{1}, [][]float32{{1, 0, 0}}))
	require.NoError(t, idx.Close())

	_, err = Open(path, 5, Config{})
	require.Error(t, err)

	var mismatch ErrDimensionMismatch
	assert.True(t, errors.As(err, &mismatch))
}

func TestReadIndexDim_WithoutLoadingGraph(t *testing.T) {
	path := testPath(t)

	dim, err := ReadIndexDim(path)
	require.NoError(t, err)
	assert.Equal(t, 0, dim, "missing checkpoint reads as dimension 0")

	idx, err := Open(path, 7, Config{})
	require.NoError(t, err)
	require.NoError(t, idx.Add(context.Background(), []int64{1},
		[][]float32{{1, 0, 0, 0, 0, 0, 0}}))
	require.NoError(t, idx.Close())

	dim, err = ReadIndexDim(path)
	require.NoError(t, err)
	assert.Equal(t, 7, dim)

	count, err := ReadIndexCount(path)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNormalizeInPlace(t *testing.T) {
	v := []float32{3, 4}
	normalizeInPlace(v)

	norm := math.Sqrt(float64(v[0]*v[0] + v[1]*v[1]))
	assert.InDelta(t, 1.0, norm, 1e-6)

	zero := []float32{0, 0}
	normalizeInPlace(zero)
	assert.Equal(t, []float32{0, 0}, zero)
}
