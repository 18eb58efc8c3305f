package markduplicates

import (
	"sort"
	"strings"

	"github.com/gbcs-embl/Je-sub001/encoding/bampair"
	"github.com/grailbio/base/log"
)

type sortingEntry struct {
	entry     *ReadEnd
	location  PhysicalLocation
	duplicate bool
}
type sortingTable []sortingEntry

func (t sortingTable) Swap(i, j int) { t[i], t[j] = t[j], t[i] }
func (t sortingTable) Len() int      { return len(t) }

// Less uses the same sort order as picard.
func (t sortingTable) Less(i, j int) bool {
	a, b := t[i].entry, t[j].entry
	diff := strings.Compare(a.LibraryID, b.LibraryID)
	if diff == 0 {
		diff = a.Ref1 - b.Ref1
	}
	if diff == 0 {
		diff = a.Coord1 - b.Coord1
	}
	if diff == 0 {
		diff = int(a.Orient) - int(b.Orient)
	}
	if diff == 0 {
		diff = a.Ref2 - b.Ref2
	}
	if diff == 0 {
		diff = a.Coord2 - b.Coord2
	}
	if diff == 0 {
		if a.FileIndex1 > b.FileIndex1 {
			diff = 1
		} else if a.FileIndex1 < b.FileIndex1 {
			diff = -1
		}
	}
	if diff == 0 {
		if a.FileIndex2 > b.FileIndex2 {
			diff = 1
		} else if a.FileIndex2 < b.FileIndex2 {
			diff = -1
		}
	}
	return diff < 0
}

// TileOpticalDetector detects optical duplicates within a tile. For two
// reads to be optical duplicates, their tile, lane, surface, library,
// and read orientations must be identical.
type TileOpticalDetector struct {
	OpticalDistance int
}

// GetRecordProcessor implements OpticalDetector.
func (t *TileOpticalDetector) GetRecordProcessor() bampair.RecordProcessor {
	return nil
}

// RecordProcessorsDone implements OpticalDetector.
func (t *TileOpticalDetector) RecordProcessorsDone() {
}

// Detect implements OpticalDetector. duplicates is every ReadEnd in one
// positional group, kept records included; bestIndex names the index,
// within duplicates, of a kept (non-duplicate) record, used to seed the
// first batch comparison.
func (t *TileOpticalDetector) Detect(duplicates []*ReadEnd, bestIndex int) []string {
	// Split duplicates by tile number into batches before marking the
	// optical duplicates, to reduce the cost of comparing each pair
	// against the other pairs.
	type batchKey struct {
		lane        int
		tile        int
		readGroup   string
		orientation Orientation
	}

	batches := make(map[batchKey]sortingTable)
	var bestBatchKey batchKey
	bestName := ""
	duplicateNames := make([]string, 0)
	for i, re := range duplicates {
		location := ParseLocation(re.Name)
		key := batchKey{
			lane:        location.Lane,
			tile:        location.TileName,
			readGroup:   re.ReadGroup,
			orientation: re.Orient,
		}

		if i == bestIndex {
			bestBatchKey = key
			bestName = re.Name
		}

		batches[key] = append(batches[key], sortingEntry{entry: re, location: location})
	}

	// Mark optical duplicates one tile at a time.
	for key, batch := range batches {
		if log.At(log.Debug) && len(batch) > 1 {
			log.Debug.Printf("optical batch size: %d, %v", len(batch), key)
		}
		sort.Sort(batch)
		bestIdx := -1
		foundOptical := false
		if key == bestBatchKey {
			// If this batch contains the primary record, compare all
			// records against the primary first.
			for i := range batch {
				if batch[i].entry.Name == bestName {
					bestIdx = i
					break
				}
			}
			for i := range batch {
				if bestIdx == i {
					continue
				}
				if isOpticalDup(t.OpticalDistance, &batch[bestIdx].location, &batch[i].location) {
					foundOptical = true
					batch[i].duplicate = true
					duplicateNames = append(duplicateNames, batch[i].entry.Name)
					if log.At(log.Debug) {
						log.Debug.Printf("optical dups: %s %s (dup)", batch[bestIdx].entry.Name, batch[i].entry.Name)
					}
				}
			}
		}

		// Next, compare each record with each other record.
		for i := 0; i < len(batch); i++ {
			if i == bestIdx {
				continue
			}
			for j := i + 1; j < len(batch); j++ {
				if j == bestIdx {
					continue
				}
				if batch[i].duplicate && batch[j].duplicate {
					continue
				}
				if isOpticalDup(t.OpticalDistance, &batch[i].location, &batch[j].location) {
					if batch[j].duplicate {
						foundOptical = true
						batch[i].duplicate = true
						duplicateNames = append(duplicateNames, batch[i].entry.Name)
						if log.At(log.Debug) {
							log.Debug.Printf("optical dups: %s %s (dup)", batch[j].entry.Name, batch[i].entry.Name)
						}
					} else {
						foundOptical = true
						batch[j].duplicate = true
						duplicateNames = append(duplicateNames, batch[j].entry.Name)
						if log.At(log.Debug) {
							log.Debug.Printf("optical dups: %s %s (dup)", batch[i].entry.Name, batch[j].entry.Name)
						}
					}
				}
			}
		}
		if log.At(log.Debug) && foundOptical {
			log.Debug.Printf("duplicate group:")
			for i, e := range batch {
				log.Debug.Printf("  names[%d] %s optical dup: %v, best: %v", i, e.entry.Name, e.duplicate, i == bestIdx)
			}
		}
	}
	return duplicateNames
}

func isOpticalDup(opticalDistance int, a, b *PhysicalLocation) bool {
	return abs(a.X-b.X) <= opticalDistance && abs(a.Y-b.Y) <= opticalDistance
}
