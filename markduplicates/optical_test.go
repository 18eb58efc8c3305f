package markduplicates

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLocationFiveFields(t *testing.T) {
	loc := ParseLocation("A:1:1101:1000:2000")
	assert.Equal(t, 1, loc.Lane)
	assert.Equal(t, 1101, loc.TileName)
	assert.Equal(t, 1000, loc.X)
	assert.Equal(t, 2000, loc.Y)
	assert.Equal(t, 1, loc.Surface)
	assert.Equal(t, 1, loc.Swath)
	assert.Equal(t, 1, loc.TileNumber)
}

func TestParseLocationSevenFields(t *testing.T) {
	loc := ParseLocation("INST:RUN:FC:1:2203:1500:2500")
	assert.Equal(t, 1, loc.Lane)
	assert.Equal(t, 2203, loc.TileName)
	assert.Equal(t, 1500, loc.X)
	assert.Equal(t, 2500, loc.Y)
	// four-digit tile: surface/swath/tile derived, not section
	assert.Equal(t, 2, loc.Surface)
	assert.Equal(t, 2, loc.Swath)
	assert.Equal(t, 3, loc.TileNumber)
}

func TestParseLocationEightFieldsFiveDigitTile(t *testing.T) {
	loc := ParseLocation("INST:RUN:FC:2:12304:1500:2500:AACCGG")
	assert.Equal(t, 2, loc.Lane)
	assert.Equal(t, 12304, loc.TileName)
	assert.Equal(t, 1, loc.Surface)
	assert.Equal(t, 2, loc.Swath)
	assert.Equal(t, 3, loc.Section)
	assert.Equal(t, 4, loc.TileNumber)
}

func TestOpticalDistance(t *testing.T) {
	a := &PhysicalLocation{X: 0, Y: 0}
	b := &PhysicalLocation{X: 3, Y: 4}
	assert.Equal(t, 5, opticalDistance(a, b))
}

func TestTileOpticalDetectorFlagsNearbyRecordsOnSameTile(t *testing.T) {
	// bestIndex 0 is the primary; index 1 sits within OpticalDistance
	// pixels of it on the same lane/tile, index 2 is far away.
	keep := &ReadEnd{Name: "A:1:1101:100:100", ReadGroup: "rg1", Orient: Orientation(f)}
	near := &ReadEnd{Name: "A:1:1101:105:105", ReadGroup: "rg1", Orient: Orientation(f)}
	far := &ReadEnd{Name: "A:1:1101:9000:9000", ReadGroup: "rg1", Orient: Orientation(f)}

	det := &TileOpticalDetector{OpticalDistance: 100}
	names := det.Detect([]*ReadEnd{keep, near, far}, 0)

	assert.Equal(t, []string{near.Name}, names)
}

func TestTileOpticalDetectorSkipsDifferentTiles(t *testing.T) {
	keep := &ReadEnd{Name: "A:1:1101:100:100", ReadGroup: "rg1", Orient: Orientation(f)}
	other := &ReadEnd{Name: "A:1:1102:100:100", ReadGroup: "rg1", Orient: Orientation(f)}

	det := &TileOpticalDetector{OpticalDistance: 100}
	names := det.Detect([]*ReadEnd{keep, other}, 0)

	assert.Empty(t, names)
}
