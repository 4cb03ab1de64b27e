package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/orbitalfiles/orbital/internal/vfs"
)

// Statusf prints a status message to stderr unless --quiet is set. Status
// lines never go to stdout so `cat` output stays clean.
func (cc *CLIContext) Statusf(format string, args ...any) {
	if !cc.Quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// Size unit constants for human-readable formatting.
const (
	sizeKB = 1024
	sizeMB = 1024 * sizeKB
	sizeGB = 1024 * sizeMB
	sizeTB = 1024 * sizeGB
)

// formatSize returns a human-readable size string (e.g. "1.2 MB").
func formatSize(bytes int64) string {
	switch {
	case bytes >= sizeTB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/float64(sizeTB))
	case bytes >= sizeGB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(sizeGB))
	case bytes >= sizeMB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(sizeMB))
	case bytes >= sizeKB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(sizeKB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// formatTime returns a compact timestamp: time of day within the current
// year, the year otherwise.
func formatTime(t time.Time) string {
	if t.Year() == time.Now().Year() {
		return t.Format("Jan _2 15:04")
	}

	return t.Format("Jan _2  2006")
}

// printTable writes aligned columns. headers and each row must have the
// same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}

// entryJSON is the `ls --json` schema for one entry.
type entryJSON struct {
	Ref      string        `json:"ref"`
	Name     string        `json:"name"`
	Type     vfs.FileType  `json:"type"`
	Metadata *metadataJSON `json:"metadata,omitempty"`
}

func newEntryJSON(ref objectRef, f vfs.File) entryJSON {
	e := entryJSON{Ref: formatRef(ref.Provider, f.ID), Name: f.Name, Type: f.ID.Type}
	if f.Metadata != nil {
		md := newMetadataJSON(*f.Metadata)
		e.Metadata = &md
	}

	return e
}

// metadataJSON is the `stat --json` schema. Absent fields are omitted
// rather than zero.
type metadataJSON struct {
	MimeType      *string    `json:"mime_type,omitempty"`
	OpenPath      *string    `json:"open_path,omitempty"`
	Size          *uint64    `json:"size,omitempty"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
	ModifiedAt    *time.Time `json:"modified_at,omitempty"`
	MetaChangedAt *time.Time `json:"meta_changed_at,omitempty"`
	AccessedAt    *time.Time `json:"accessed_at,omitempty"`
	OwnerID       string     `json:"owner_id,omitempty"`
	OwnerName     *string    `json:"owner_name,omitempty"`
	Permissions   string     `json:"permissions,omitempty"`
}

func newMetadataJSON(md vfs.Metadata) metadataJSON {
	out := metadataJSON{
		MimeType:      md.MimeType,
		OpenPath:      md.OpenPath,
		Size:          md.Size,
		CreatedAt:     md.CreatedAt,
		ModifiedAt:    md.ModifiedAt,
		MetaChangedAt: md.MetaChangedAt,
		AccessedAt:    md.AccessedAt,
	}

	if md.Owner != nil {
		if md.Owner.ID != nil {
			out.OwnerID = md.Owner.ID.String()
		}

		out.OwnerName = md.Owner.Name
	}

	if md.Permissions != nil {
		out.Permissions = md.Permissions.String()
	}

	return out
}

// refJSON is the output of commands that return a new object id.
type refJSON struct {
	Ref  string       `json:"ref"`
	Path string       `json:"path"`
	Type vfs.FileType `json:"type"`
}

// printMetadata writes one "key: value" line per reported field.
func printMetadata(w io.Writer, ref objectRef, md metadataJSON) {
	line := func(key, value string) {
		fmt.Fprintf(w, "%-12s %s\n", key+":", value)
	}

	line("Ref", ref.String())

	if md.MimeType != nil {
		line("Type", *md.MimeType)
	}

	if md.Size != nil {
		line("Size", fmt.Sprintf("%s (%d bytes)", formatSize(int64(*md.Size)), *md.Size))
	}

	for _, ts := range []struct {
		key string
		t   *time.Time
	}{
		{"Created", md.CreatedAt},
		{"Modified", md.ModifiedAt},
		{"Changed", md.MetaChangedAt},
		{"Accessed", md.AccessedAt},
	} {
		if ts.t != nil {
			line(ts.key, ts.t.Format(time.RFC3339))
		}
	}

	if md.OwnerID != "" {
		owner := md.OwnerID
		if md.OwnerName != nil {
			owner = fmt.Sprintf("%s (%s)", *md.OwnerName, md.OwnerID)
		}

		line("Owner", owner)
	}

	if md.Permissions != "" {
		line("Permissions", md.Permissions)
	}

	if md.OpenPath != nil {
		line("Open", *md.OpenPath)
	}
}
