// Package m3u provides streaming M3U playlist parsing.
// It supports extended M3U (EXTINF metadata) and the url-tvg header hint.
package m3u

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/ulikunitz/xz"
)

// Entry represents a single channel entry in an M3U playlist.
type Entry struct {
	// TvgID is the EPG channel identifier.
	TvgID string

	// TvgName is the display name from the tvg-name attribute.
	TvgName string

	// TvgLogo is the URL to the channel logo.
	TvgLogo string

	// GroupTitle is the category/group from the group-title attribute.
	GroupTitle string

	// Title is the display title from the EXTINF line.
	Title string

	// URL is the stream URL.
	URL string
}

// ID returns the channel identifier, preferring tvg-id over the title.
func (e *Entry) ID() string {
	if e.TvgID != "" {
		return e.TvgID
	}
	return e.Title
}

// Parser provides streaming M3U parsing with callback-based processing.
type Parser struct {
	// OnEntry is called for each parsed entry.
	OnEntry func(entry *Entry) error

	// OnHeader is called once with the #EXTM3U header attributes, before
	// any entry. url-tvg and x-tvg-url EPG hints are surfaced here.
	OnHeader func(attrs map[string]string)

	// OnError is called for recoverable parsing errors.
	// If nil, errors are silently ignored.
	OnError func(lineNum int, err error)
}

var (
	// Matches duration and attributes portion: #EXTINF:-1 tvg-id="..." tvg-name="...",Title
	extinfRegex = regexp.MustCompile(`^#EXTINF:\s*(-?\d+)\s*(.*)$`)

	// Matches key="value" or key=value patterns
	attrRegex = regexp.MustCompile(`([a-zA-Z0-9_-]+)=(?:"([^"]*)"|([^\s,]+))`)
)

// EpgHint extracts the EPG URL from #EXTM3U header attributes.
// url-tvg takes precedence over x-tvg-url; multiple URLs separated by
// commas collapse to the first.
func EpgHint(attrs map[string]string) string {
	for _, key := range []string{"url-tvg", "x-tvg-url"} {
		if v, ok := attrs[key]; ok && v != "" {
			if i := strings.IndexByte(v, ','); i >= 0 {
				v = v[:i]
			}
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Parse parses an M3U playlist from a reader, calling OnEntry for each channel.
func (p *Parser) Parse(r io.Reader) error {
	if p.OnEntry == nil {
		return fmt.Errorf("OnEntry callback is required")
	}

	scanner := bufio.NewScanner(r)
	// Some playlists carry very long URL lines.
	const maxLineSize = 1024 * 1024
	buf := make([]byte, maxLineSize)
	scanner.Buffer(buf, maxLineSize)

	var currentEntry *Entry
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#EXTM3U") {
			if p.OnHeader != nil {
				p.OnHeader(parseAttrs(strings.TrimPrefix(line, "#EXTM3U")))
			}
			continue
		}

		if strings.HasPrefix(line, "#EXTINF:") {
			entry, err := parseExtinf(line)
			if err != nil {
				p.handleError(lineNum, err)
				continue
			}
			currentEntry = entry
			continue
		}

		// Skip other comment lines.
		if strings.HasPrefix(line, "#") {
			continue
		}

		// URL line.
		if currentEntry != nil {
			currentEntry.URL = line
			if err := p.OnEntry(currentEntry); err != nil {
				return fmt.Errorf("callback error at line %d: %w", lineNum, err)
			}
			currentEntry = nil
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanning playlist: %w", err)
	}
	return nil
}

// ParseCompressed parses a potentially compressed playlist.
// It auto-detects gzip, bzip2, and xz based on magic bytes.
func (p *Parser) ParseCompressed(r io.Reader) error {
	br := bufio.NewReader(r)

	header, err := br.Peek(6)
	if err != nil && err != io.EOF {
		return fmt.Errorf("peeking header: %w", err)
	}

	var reader io.Reader = br

	switch {
	case len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b:
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return fmt.Errorf("creating gzip reader: %w", err)
		}
		defer gzr.Close()
		reader = gzr

	case len(header) >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h':
		reader = bzip2.NewReader(br)

	case len(header) >= 6 && header[0] == 0xfd && header[1] == '7' && header[2] == 'z' && header[3] == 'X' && header[4] == 'Z' && header[5] == 0x00:
		xzr, err := xz.NewReader(br)
		if err != nil {
			return fmt.Errorf("creating xz reader: %w", err)
		}
		reader = xzr
	}

	return p.Parse(reader)
}

// parseExtinf parses an EXTINF line into an Entry.
func parseExtinf(line string) (*Entry, error) {
	m := extinfRegex.FindStringSubmatch(line)
	if m == nil {
		return nil, fmt.Errorf("malformed EXTINF line: %q", line)
	}

	rest := m[2]
	entry := &Entry{}

	// Title follows the last comma after the attribute list.
	title := rest
	if attrEnd := lastAttrEnd(rest); attrEnd >= 0 {
		attrs := parseAttrs(rest[:attrEnd])
		entry.TvgID = attrs["tvg-id"]
		entry.TvgName = attrs["tvg-name"]
		entry.TvgLogo = attrs["tvg-logo"]
		entry.GroupTitle = attrs["group-title"]
		title = rest[attrEnd:]
	}
	entry.Title = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(title), ","))

	return entry, nil
}

// lastAttrEnd returns the index just past the last key=value attribute,
// or -1 when the line carries no attributes.
func lastAttrEnd(s string) int {
	locs := attrRegex.FindAllStringIndex(s, -1)
	if len(locs) == 0 {
		return -1
	}
	return locs[len(locs)-1][1]
}

// parseAttrs extracts key=value pairs from an attribute string.
func parseAttrs(s string) map[string]string {
	attrs := make(map[string]string)
	for _, m := range attrRegex.FindAllStringSubmatch(s, -1) {
		key := strings.ToLower(m[1])
		value := m[2]
		if value == "" {
			value = m[3]
		}
		attrs[key] = value
	}
	return attrs
}

// handleError calls the OnError callback if set.
func (p *Parser) handleError(lineNum int, err error) {
	if p.OnError != nil {
		p.OnError(lineNum, err)
	}
}
