package auditlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ulikunitz/xz"
)

// ArchiveName is the download file name for an archive made at t.
func ArchiveName(t time.Time) string {
	return "audit-logs-" + t.UTC().Format("20060102-150405") + ".jsonl.xz"
}

// WriteArchive writes one JSON object per line through an xz stream.
func WriteArchive(w io.Writer, entries []Entry) error {
	zw, err := xz.NewWriter(w)
	if err != nil {
		return fmt.Errorf("xz writer: %w", err)
	}
	enc := json.NewEncoder(zw)
	for i := range entries {
		if err := enc.Encode(entries[i]); err != nil {
			_ = zw.Close()
			return fmt.Errorf("encode entry %s: %w", entries[i].ID, err)
		}
	}
	return zw.Close()
}

func ReadArchive(r io.Reader) ([]Entry, error) {
	zr, err := xz.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("xz reader: %w", err)
	}
	dec := json.NewDecoder(zr)
	var out []Entry
	for {
		var e Entry
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("decode entry %d: %w", len(out)+1, err)
		}
		out = append(out, e)
	}
}
