package export

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/golang/snappy"

	"github.com/shelfard/shelfard/pkg/types"
)

// ArchiveFormat identifies history archives in their header line.
const ArchiveFormat = "shelfard-history/v1"

// maxArchiveLine bounds a single JSON line when reading an archive.
const maxArchiveLine = 64 << 20

// ArchiveHeader is the first line of an archive.
type ArchiveHeader struct {
	Format string `json:"format"`
	Name   string `json:"name"`
	Count  int    `json:"count"`
}

// Archive is a decoded history.
type Archive struct {
	Name     string
	Versions []types.SchemaVersion
}

// WriteArchive writes the history of name as snappy-framed JSON lines: a
// header followed by one version per line, oldest first.
func WriteArchive(w io.Writer, name string, history []types.SchemaVersion) error {
	sw := snappy.NewBufferedWriter(w)
	enc := json.NewEncoder(sw)

	if err := enc.Encode(ArchiveHeader{Format: ArchiveFormat, Name: name, Count: len(history)}); err != nil {
		return fmt.Errorf("export: failed to write archive header: %w", err)
	}
	for _, sv := range history {
		if err := enc.Encode(sv); err != nil {
			return fmt.Errorf("export: failed to write version %d: %w", sv.Version, err)
		}
	}

	if err := sw.Close(); err != nil {
		return fmt.Errorf("export: failed to flush archive: %w", err)
	}
	return nil
}

// ReadArchive decodes an archive written by WriteArchive and checks that the
// versions are complete and strictly increasing.
func ReadArchive(r io.Reader) (*Archive, error) {
	sc := bufio.NewScanner(snappy.NewReader(r))
	sc.Buffer(make([]byte, 0, 64*1024), maxArchiveLine)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("export: failed to read archive: %w", err)
		}
		return nil, errors.New("export: archive is empty")
	}

	var hdr ArchiveHeader
	if err := json.Unmarshal(sc.Bytes(), &hdr); err != nil {
		return nil, fmt.Errorf("export: invalid archive header: %w", err)
	}
	if hdr.Format != ArchiveFormat {
		return nil, fmt.Errorf("export: unsupported archive format %q", hdr.Format)
	}

	a := &Archive{Name: hdr.Name, Versions: make([]types.SchemaVersion, 0, hdr.Count)}
	for sc.Scan() {
		var sv types.SchemaVersion
		if err := json.Unmarshal(sc.Bytes(), &sv); err != nil {
			return nil, fmt.Errorf("export: invalid version at line %d: %w", len(a.Versions)+2, err)
		}
		if n := len(a.Versions); n > 0 && sv.Version <= a.Versions[n-1].Version {
			return nil, fmt.Errorf("export: version %d follows version %d", sv.Version, a.Versions[n-1].Version)
		}
		a.Versions = append(a.Versions, sv)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("export: failed to read archive: %w", err)
	}
	if len(a.Versions) != hdr.Count {
		return nil, fmt.Errorf("export: archive declares %d versions but holds %d", hdr.Count, len(a.Versions))
	}
	return a, nil
}
