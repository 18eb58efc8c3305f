package markduplicates

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsCollectionGetCreatesPerLibraryEntry(t *testing.T) {
	mc := newMetricsCollection()
	m := mc.Get("lib1")
	m.UnpairedDups = 3

	assert.Same(t, m, mc.Get("lib1"))
	assert.Len(t, mc.LibraryMetrics, 1)
}

func TestMetricsAdd(t *testing.T) {
	a := &Metrics{UnpairedReads: 1, ReadPairsExamined: 2, UnpairedDups: 1}
	b := &Metrics{UnpairedReads: 4, ReadPairsExamined: 6, UnpairedDups: 2}
	a.Add(b)

	assert.Equal(t, 5, a.UnpairedReads)
	assert.Equal(t, 8, a.ReadPairsExamined)
	assert.Equal(t, 3, a.UnpairedDups)
}

func TestMetricsCollectionMergeSumsExistingLibraries(t *testing.T) {
	mc := newMetricsCollection()
	mc.Get("lib1").UnpairedReads = 5

	other := newMetricsCollection()
	other.Get("lib1").UnpairedReads = 7
	other.Get("lib2").UnpairedReads = 3

	mc.Merge(other)

	assert.Equal(t, 12, mc.LibraryMetrics["lib1"].UnpairedReads)
	assert.Equal(t, 3, mc.LibraryMetrics["lib2"].UnpairedReads)
}

func TestMetricsCollectionAddDistanceBucketsByBagSize(t *testing.T) {
	mc := newMetricsCollection()
	mc.AddDistance(2, 10)
	mc.AddDistance(4, 10)
	mc.AddDistance(7, 10)
	mc.AddDistance(9, 10)

	assert.Equal(t, int64(1), mc.OpticalDistance[0][10])
	assert.Equal(t, int64(1), mc.OpticalDistance[1][10])
	assert.Equal(t, int64(1), mc.OpticalDistance[2][10])
	assert.Equal(t, int64(1), mc.OpticalDistance[3][10])
}

func TestMetricsCollectionAddDistanceGrowsHistogram(t *testing.T) {
	mc := newMetricsCollection()
	mc.AddDistance(1, len(mc.OpticalDistance[0])+100)

	assert.True(t, len(mc.OpticalDistance[0]) > 60000)
}

func TestWriteMetricsProducesOneRowPerLibrary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metrics.txt")

	mc := newMetricsCollection()
	m := mc.Get("lib1")
	m.UnpairedReads = 2
	m.ReadPairsExamined = 10
	m.UnpairedDups = 1

	opts := &Opts{MetricsFile: path}
	assert.Nil(t, writeMetrics(context.Background(), opts, mc))

	body, err := os.ReadFile(path)
	assert.Nil(t, err)
	assert.True(t, strings.Contains(string(body), "lib1\t"))
	assert.True(t, strings.Contains(string(body), "LIBRARY\t"))
}

func TestWriteOpticalHistogramProducesHeaderAndBuckets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "optical.txt")

	mc := newMetricsCollection()
	mc.AddDistance(2, 5)

	opts := &Opts{OpticalHistogram: path}
	assert.Nil(t, writeOpticalHistogram(context.Background(), opts, mc))

	body, err := os.ReadFile(path)
	assert.Nil(t, err)
	assert.True(t, strings.HasPrefix(string(body), "#bag_size_range"))
	assert.True(t, strings.Contains(string(body), "bagsize-2\t5\t1\n"))
}
