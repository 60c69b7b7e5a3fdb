package persistence

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"

	"github.com/natefinch/atomic"

	"github.com/pathscale/worktable/pagestore"
)

// spaceInfoMagic identifies a SpaceInfo page, matching spec.md §6's "every
// file begins with a SpaceInfo page containing magic bytes, ...".
var spaceInfoMagic = [4]byte{'W', 'T', 'S', 'I'}

// SpaceInfo is the header Engine.Persist writes beside each index file
// (one per index), tracking enough state to resume without replaying
// anything already durable.
type SpaceInfo struct {
	Magic      [4]byte
	TableName  string
	NextPageID uint32
	// HighWater maps an index name ("__primary__" reserved for the primary
	// index) to the last cdcindex event_id applied to its on-disk pages —
	// spec.md §4.8's recovery hinge.
	HighWater map[string]uint64
	// FreeLinks has room for pagestore's EmptyLinksRegistry contents;
	// Engine.Persist leaves it empty, so freed row space is not carried
	// across a restart.
	FreeLinks []pagestore.Link
	// PkGeneratorState has room for the last value an Autoincrement
	// generator issued; Engine.Persist leaves it zero.
	PkGeneratorState uint64
}

// PrimaryIndexName is the reserved HighWater key for the primary index,
// since "" would collide with a secondary index someone names empty.
const PrimaryIndexName = "__primary__"

func newSpaceInfo(tableName string) *SpaceInfo {
	return &SpaceInfo{
		Magic:      spaceInfoMagic,
		TableName:  tableName,
		NextPageID: 1,
		HighWater:  make(map[string]uint64),
	}
}

func encodeSpaceInfo(si *SpaceInfo) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(si); err != nil {
		return nil, fmt.Errorf("persistence: encode space info: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeSpaceInfo(data []byte) (*SpaceInfo, error) {
	var si SpaceInfo
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&si); err != nil {
		return nil, fmt.Errorf("persistence: decode space info: %w", err)
	}
	if si.Magic != spaceInfoMagic {
		return nil, fmt.Errorf("persistence: bad space info magic %v", si.Magic)
	}
	return &si, nil
}

// saveSpaceInfo rewrites path atomically via natefinch/atomic, so a crash
// mid-write never leaves a torn SpaceInfo — the same whole-file rewrite
// SpaceIndex.WriteFile uses for index pages (data pages, by contrast, are
// WriteAt'd in place through pagestore's WAL).
func saveSpaceInfo(path string, si *SpaceInfo) error {
	data, err := encodeSpaceInfo(si)
	if err != nil {
		return err
	}
	return atomic.WriteFile(path, bytes.NewReader(data))
}

func loadSpaceInfo(path string) (*SpaceInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persistence: read space info %s: %w", path, err)
	}
	return decodeSpaceInfo(data)
}

// LoadSpaceInfo reads a SpaceInfo header from path — exported for recovery
// tooling and tests that need to inspect a table's on-disk high-water marks
// without going through a live Engine.
func LoadSpaceInfo(path string) (*SpaceInfo, error) {
	return loadSpaceInfo(path)
}
