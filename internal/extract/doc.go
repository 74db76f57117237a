// Package extract turns a loaded page into structured records.
//
// Extraction runs on a Snapshot: the page HTML parsed with goquery, with each
// element's vertical position stamped into an attribute beforehand. A Profile
// lists card strategies in priority order; the Engine picks the first one
// that yields enough candidates, deduplicates them by link, extracts fields
// and assigns each card the label of the nearest section header above it.
package extract
