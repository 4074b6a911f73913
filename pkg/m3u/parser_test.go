package m3u

import (
	"bytes"
	"compress/gzip"
	"strings"
	"testing"

	"github.com/dsnet/compress/bzip2"
)

const samplePlaylist = `#EXTM3U url-tvg="http://example.com/epg.xml.gz"
#EXTINF:-1 tvg-id="bbc1.uk" tvg-name="BBC One" tvg-logo="http://example.com/bbc1.png" group-title="UK",BBC One HD
http://example.com/stream/bbc1
#EXTINF:-1 tvg-id="itv.uk" group-title="UK",ITV
http://example.com/stream/itv
#EXTINF:-1,Bare Title Channel
http://example.com/stream/bare
`

func TestParser_Parse(t *testing.T) {
	var entries []*Entry
	var header map[string]string
	p := &Parser{
		OnEntry: func(e *Entry) error {
			entries = append(entries, e)
			return nil
		},
		OnHeader: func(attrs map[string]string) {
			header = attrs
		},
	}

	if err := p.Parse(strings.NewReader(samplePlaylist)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	first := entries[0]
	if first.TvgID != "bbc1.uk" {
		t.Errorf("expected tvg-id 'bbc1.uk', got %q", first.TvgID)
	}
	if first.TvgName != "BBC One" {
		t.Errorf("expected tvg-name 'BBC One', got %q", first.TvgName)
	}
	if first.GroupTitle != "UK" {
		t.Errorf("expected group 'UK', got %q", first.GroupTitle)
	}
	if first.Title != "BBC One HD" {
		t.Errorf("expected title 'BBC One HD', got %q", first.Title)
	}
	if first.URL != "http://example.com/stream/bbc1" {
		t.Errorf("unexpected URL %q", first.URL)
	}

	// Entry without tvg-id falls back to its title as id.
	bare := entries[2]
	if bare.ID() != "Bare Title Channel" {
		t.Errorf("expected title fallback id, got %q", bare.ID())
	}

	if header == nil {
		t.Fatal("header callback not invoked")
	}
	if got := EpgHint(header); got != "http://example.com/epg.xml.gz" {
		t.Errorf("expected url-tvg hint, got %q", got)
	}
}

func TestEpgHint(t *testing.T) {
	tests := []struct {
		name  string
		attrs map[string]string
		want  string
	}{
		{"url-tvg wins", map[string]string{"url-tvg": "http://a", "x-tvg-url": "http://b"}, "http://a"},
		{"x-tvg-url fallback", map[string]string{"x-tvg-url": "http://b"}, "http://b"},
		{"first of comma list", map[string]string{"url-tvg": "http://a,http://b"}, "http://a"},
		{"none", map[string]string{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EpgHint(tt.attrs); got != tt.want {
				t.Errorf("EpgHint() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParser_SkipsMalformedExtinf(t *testing.T) {
	playlist := `#EXTM3U
#EXTINF:bogus
http://example.com/orphan
#EXTINF:-1,Good
http://example.com/good
`
	var entries []*Entry
	errs := 0
	p := &Parser{
		OnEntry: func(e *Entry) error {
			entries = append(entries, e)
			return nil
		},
		OnError: func(lineNum int, err error) {
			errs++
		},
	}

	if err := p.Parse(strings.NewReader(playlist)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].Title != "Good" {
		t.Fatalf("expected only the valid entry, got %d", len(entries))
	}
	if errs != 1 {
		t.Errorf("expected 1 recoverable error, got %d", errs)
	}
}

func TestParser_ParseCompressedGzip(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write([]byte(samplePlaylist)); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}

	count := 0
	p := &Parser{OnEntry: func(e *Entry) error {
		count++
		return nil
	}}

	if err := p.ParseCompressed(&buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 entries, got %d", count)
	}
}

func TestParser_ParseCompressedBzip2(t *testing.T) {
	var buf bytes.Buffer
	bw, err := bzip2.NewWriter(&buf, &bzip2.WriterConfig{Level: bzip2.BestSpeed})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bw.Write([]byte(samplePlaylist)); err != nil {
		t.Fatal(err)
	}
	if err := bw.Close(); err != nil {
		t.Fatal(err)
	}

	count := 0
	p := &Parser{OnEntry: func(e *Entry) error {
		count++
		return nil
	}}

	if err := p.ParseCompressed(&buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 entries, got %d", count)
	}
}
