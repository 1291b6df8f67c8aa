// Package crate provides the crate row entity.
package crate

import (
	"strconv"
	"strings"

	"github.com/osa030/cratebox/internal/domain/track"
)

// Row represents a track saved to the user's crate.
type Row struct {
	Title  string  `json:"title"`
	Artist string  `json:"artist"`
	BPM    float64 `json:"bpm,omitempty"`
	Key    string  `json:"key,omitempty"`
	URL    string  `json:"url,omitempty"`
}

// FromItem builds a crate row from a queue item.
// The URL is taken from the item's first link.
func FromItem(t track.Item) Row {
	row := Row{
		Title:  t.Title,
		Artist: t.ArtistName,
		BPM:    t.BPM,
		Key:    t.KeyText,
	}
	if l, ok := t.PrimaryLink(); ok {
		row.URL = l.URL
	}
	return row
}

// CSVHeader is the first line of an exported crate.
const CSVHeader = "Title,Artist,BPM,Key,URL"

// ExportCSV renders rows as CSV with every field quoted.
// Rows are separated by newlines; there is no trailing newline.
func ExportCSV(rows []Row) string {
	var b strings.Builder
	b.WriteString(CSVHeader)
	b.WriteByte('\n')

	for i, r := range rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		bpm := ""
		if r.BPM != 0 {
			bpm = strconv.FormatFloat(r.BPM, 'f', -1, 64)
		}
		for j, field := range []string{r.Title, r.Artist, bpm, r.Key, r.URL} {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteByte('"')
			b.WriteString(strings.ReplaceAll(field, `"`, `""`))
			b.WriteByte('"')
		}
	}

	return b.String()
}
