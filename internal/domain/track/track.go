// Package track provides the playable track entity.
package track

// Link represents a purchase or source destination for a track.
type Link struct {
	ID         int64  // Link ID
	Source     string // Store or service name
	URL        string // Destination URL
	PreviewURL string // Preview offered by this source (empty if none)
}

// Item represents a playable unit in the play queue.
// An Item is never modified once it has been placed in a queue.
type Item struct {
	ID              int64   // Unique within a queue, not across the catalog
	Title           string  // Track title
	ArtistName      string  // Artist display name
	CoverURL        string  // Cover art URL (empty if unknown)
	DurationSeconds float64 // Known duration (0 if unknown)
	PreviewURL      string  // Authoritative preview (empty if not permitted)
	BPM             float64 // Tempo (0 if unknown)
	KeyText         string  // Musical key (empty if unknown)
	Links           []Link  // Purchase/source links in display order
}

// PreviewSource returns the effective preview URL for the item.
// The authoritative preview wins; otherwise the first link offering a preview is used.
func (t *Item) PreviewSource() (string, bool) {
	if t.PreviewURL != "" {
		return t.PreviewURL, true
	}
	for _, l := range t.Links {
		if l.PreviewURL != "" {
			return l.PreviewURL, true
		}
	}
	return "", false
}

// HasPreview reports whether the item has any playable preview.
func (t *Item) HasPreview() bool {
	_, ok := t.PreviewSource()
	return ok
}

// Duration returns the known duration in seconds.
func (t *Item) Duration() (float64, bool) {
	if t.DurationSeconds <= 0 {
		return 0, false
	}
	return t.DurationSeconds, true
}

// PrimaryLink returns the first link, if any.
func (t *Item) PrimaryLink() (Link, bool) {
	if len(t.Links) == 0 {
		return Link{}, false
	}
	return t.Links[0], true
}
