// Package xmltv provides streaming XMLTV parsing and writing.
// It supports standard XMLTV format for electronic program guide data.
package xmltv

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ulikunitz/xz"
	"golang.org/x/text/cases"
)

// Programme represents a single program entry in an XMLTV file.
//
// StartRaw and StopRaw hold the original timestamp attribute text verbatim,
// including its numeric offset, so writers can pass it through bit-exact.
type Programme struct {
	Channel     string
	Start       time.Time
	Stop        *time.Time
	StartRaw    string
	StopRaw     string
	Title       string
	Description string
	Category    string
	Icon        string
}

// Channel represents a channel definition in an XMLTV file.
type Channel struct {
	ID          string
	DisplayName string
	Icon        string
}

// idFolder performs Unicode case folding for channel id comparison.
var idFolder = cases.Fold()

// NormalizeID normalizes a channel id for comparison: whitespace is trimmed
// and the result is Unicode case-folded.
func NormalizeID(id string) string {
	return idFolder.String(strings.TrimSpace(id))
}

// Filter restricts which programmes a Parser emits.
// The zero value accepts everything.
type Filter struct {
	allowed   map[string]struct{}
	from, to  time.Time
	hasWindow bool
	limit     int
	hasLimit  bool
}

// NewFilter creates an empty filter that accepts all channels and times.
func NewFilter() *Filter {
	return &Filter{}
}

// WithAllowedIDs restricts programmes to channels whose normalized id is in
// ids. An empty set accepts all channels.
func (f *Filter) WithAllowedIDs(ids []string) *Filter {
	if len(ids) == 0 {
		return f
	}
	f.allowed = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		f.allowed[NormalizeID(id)] = struct{}{}
	}
	return f
}

// WithAllowedIDSet is like WithAllowedIDs for an already-normalized set.
func (f *Filter) WithAllowedIDSet(ids map[string]struct{}) *Filter {
	if len(ids) > 0 {
		f.allowed = ids
	}
	return f
}

// WithWindow restricts programmes to those whose [start, stop) interval
// overlaps the half-open window [from, to).
func (f *Filter) WithWindow(from, to time.Time) *Filter {
	f.from, f.to = from, to
	f.hasWindow = true
	return f
}

// WithProgrammeLimit stops parsing after n programme elements have been
// observed, before any filtering. A limit of 0 yields a channels-only pass.
func (f *Filter) WithProgrammeLimit(n int) *Filter {
	f.limit = n
	f.hasLimit = true
	return f
}

// acceptsChannel reports whether the normalized channel id passes the filter.
func (f *Filter) acceptsChannel(normID string) bool {
	if f == nil || len(f.allowed) == 0 {
		return true
	}
	_, ok := f.allowed[normID]
	return ok
}

// acceptsWindow reports whether [start, stop) overlaps the window.
func (f *Filter) acceptsWindow(start time.Time, stop *time.Time) bool {
	if f == nil || !f.hasWindow {
		return true
	}
	if !start.Before(f.to) {
		return false
	}
	return stop == nil || stop.After(f.from)
}

// Parser provides streaming XMLTV parsing with callback-based processing.
// Element and attribute names are matched case-insensitively.
type Parser struct {
	// Filter restricts emitted programmes; nil accepts everything.
	Filter *Filter

	// OnChannel is called for each channel definition.
	OnChannel func(channel *Channel) error

	// OnProgramme is called for each programme that passes the filter.
	OnProgramme func(programme *Programme) error

	// OnError is called for recoverable parsing errors.
	OnError func(err error)
}

// ErrStop may be returned from OnChannel or OnProgramme to terminate the
// parse early without error.
var ErrStop = errors.New("xmltv: stop")

// ParseTime parses the XMLTV timestamp grammar: YYYYMMDDhhmmss optionally
// followed by whitespace and ±HHMM or Z. A missing offset is treated as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) < 14 {
		return time.Time{}, fmt.Errorf("timestamp too short: %q", s)
	}

	digits := s[:14]
	base, err := time.Parse("20060102150405", digits)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}

	rest := strings.TrimSpace(s[14:])
	switch {
	case rest == "" || rest == "Z" || rest == "z":
		return base, nil
	case len(rest) == 5 && (rest[0] == '+' || rest[0] == '-'):
		hours, err1 := strconv.Atoi(rest[1:3])
		mins, err2 := strconv.Atoi(rest[3:5])
		if err1 != nil || err2 != nil {
			return time.Time{}, fmt.Errorf("invalid offset in %q", s)
		}
		offset := (hours*60 + mins) * 60
		if rest[0] == '-' {
			offset = -offset
		}
		return base.Add(-time.Duration(offset) * time.Second), nil
	default:
		return time.Time{}, fmt.Errorf("invalid offset in %q", s)
	}
}

// RawOffset extracts the ±HHMM offset suffix of an XMLTV timestamp, or ""
// when the timestamp carries none. "Z" is reported as "+0000".
func RawOffset(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 14 {
		if strings.HasSuffix(s, "Z") || strings.HasSuffix(s, "z") {
			return "+0000"
		}
		return ""
	}
	rest := strings.TrimSpace(s[14:])
	if rest == "Z" || rest == "z" {
		return "+0000"
	}
	if len(rest) == 5 && (rest[0] == '+' || rest[0] == '-') {
		return rest
	}
	return ""
}

// Parse parses an XMLTV document from a reader.
//
// Channels are emitted as their closing tag is seen; programmes likewise,
// subject to the filter. A fatal XML error aborts the parse, but callbacks
// already delivered remain valid.
func (p *Parser) Parse(r io.Reader) error {
	decoder := xml.NewDecoder(r)
	decoder.Strict = false
	decoder.AutoClose = xml.HTMLAutoClose
	decoder.Entity = xml.HTMLEntity

	seen := 0
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading XML token: %w", err)
		}

		elem, ok := token.(xml.StartElement)
		if !ok {
			continue
		}

		switch {
		case strings.EqualFold(elem.Name.Local, "channel"):
			channel, err := p.parseChannel(decoder, elem)
			if err != nil {
				p.handleError(err)
				continue
			}
			if p.OnChannel != nil {
				if err := p.OnChannel(channel); err != nil {
					if errors.Is(err, ErrStop) {
						return nil
					}
					return fmt.Errorf("channel callback: %w", err)
				}
			}

		case strings.EqualFold(elem.Name.Local, "programme"):
			if p.Filter != nil && p.Filter.hasLimit && seen >= p.Filter.limit {
				return nil
			}
			seen++

			programme, err := p.parseProgramme(decoder, elem)
			if err != nil {
				p.handleError(err)
				continue
			}
			if programme.StartRaw == "" || programme.Start.IsZero() {
				// Records with an unparseable start are dropped.
				continue
			}
			if !p.Filter.acceptsChannel(NormalizeID(programme.Channel)) {
				continue
			}
			if !p.Filter.acceptsWindow(programme.Start, programme.Stop) {
				continue
			}
			if p.OnProgramme != nil {
				if err := p.OnProgramme(programme); err != nil {
					if errors.Is(err, ErrStop) {
						return nil
					}
					return fmt.Errorf("programme callback: %w", err)
				}
			}
		}
	}

	return nil
}

// ParseCompressed parses a potentially compressed XMLTV document.
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

// attr returns the value of the named attribute, matched case-insensitively.
func attr(elem xml.StartElement, name string) string {
	for _, a := range elem.Attr {
		if strings.EqualFold(a.Name.Local, name) {
			return a.Value
		}
	}
	return ""
}

// parseChannel parses a channel element.
func (p *Parser) parseChannel(decoder *xml.Decoder, start xml.StartElement) (*Channel, error) {
	channel := &Channel{ID: attr(start, "id")}

	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, err
		}

		switch elem := token.(type) {
		case xml.StartElement:
			switch {
			case strings.EqualFold(elem.Name.Local, "display-name"):
				var name string
				if err := decoder.DecodeElement(&name, &elem); err == nil && channel.DisplayName == "" {
					channel.DisplayName = strings.TrimSpace(name)
				}
			case strings.EqualFold(elem.Name.Local, "icon"):
				if src := attr(elem, "src"); src != "" {
					channel.Icon = src
				}
				_ = decoder.Skip()
			default:
				_ = decoder.Skip()
			}
		case xml.EndElement:
			if strings.EqualFold(elem.Name.Local, "channel") {
				return channel, nil
			}
		}
	}
}

// parseProgramme parses a programme element.
func (p *Parser) parseProgramme(decoder *xml.Decoder, start xml.StartElement) (*Programme, error) {
	prog := &Programme{Channel: attr(start, "channel")}

	if raw := attr(start, "start"); raw != "" {
		if t, err := ParseTime(raw); err == nil {
			prog.Start = t
			prog.StartRaw = raw
		}
	}
	if raw := attr(start, "stop"); raw != "" {
		if t, err := ParseTime(raw); err == nil {
			prog.Stop = &t
			prog.StopRaw = raw
		}
	}

	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, err
		}

		switch elem := token.(type) {
		case xml.StartElement:
			switch {
			case strings.EqualFold(elem.Name.Local, "title"):
				var title string
				if err := decoder.DecodeElement(&title, &elem); err == nil && prog.Title == "" {
					prog.Title = strings.TrimSpace(title)
				}
			case strings.EqualFold(elem.Name.Local, "desc"):
				var desc string
				if err := decoder.DecodeElement(&desc, &elem); err == nil && prog.Description == "" {
					prog.Description = strings.TrimSpace(desc)
				}
			case strings.EqualFold(elem.Name.Local, "category"):
				var cat string
				if err := decoder.DecodeElement(&cat, &elem); err == nil && prog.Category == "" {
					prog.Category = strings.TrimSpace(cat)
				}
			case strings.EqualFold(elem.Name.Local, "icon"):
				if src := attr(elem, "src"); src != "" {
					prog.Icon = src
				}
				_ = decoder.Skip()
			default:
				_ = decoder.Skip()
			}
		case xml.EndElement:
			if strings.EqualFold(elem.Name.Local, "programme") {
				return prog, nil
			}
		}
	}
}

// handleError calls the OnError callback if set.
func (p *Parser) handleError(err error) {
	if p.OnError != nil {
		p.OnError(err)
	}
}
