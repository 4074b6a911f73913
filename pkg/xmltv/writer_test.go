package xmltv

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestWriter_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	stop := mustParse(t, "20240115190000 +0100")
	if err := w.WriteChannel(&Channel{ID: "c1", DisplayName: "Channel & One", Icon: "http://example.com/l.png"}); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteProgramme(&Programme{
		Channel:     "c1",
		Start:       mustParse(t, "20240115180000 +0100"),
		Stop:        &stop,
		StartRaw:    "20240115180000 +0100",
		StopRaw:     "20240115190000 +0100",
		Title:       "News <Late>",
		Description: "Tonight's news",
		Category:    "News",
	}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, `<?xml version="1.0" encoding="UTF-8"?>`) {
		t.Error("missing XML declaration")
	}
	if !strings.Contains(out, `<!DOCTYPE tv SYSTEM "xmltv.dtd">`) {
		t.Error("missing DOCTYPE")
	}
	if !strings.Contains(out, `generator-info-name="epg-viewer export"`) {
		t.Error("missing generator name")
	}
	if !strings.Contains(out, "Channel &amp; One") {
		t.Error("display name not escaped")
	}
	if !strings.Contains(out, "News &lt;Late&gt;") {
		t.Error("title not escaped")
	}
	if !strings.HasSuffix(strings.TrimSpace(out), "</tv>") {
		t.Error("document not terminated")
	}

	// Raw timestamps pass through verbatim.
	if !strings.Contains(out, `start="20240115180000 +0100"`) {
		t.Error("raw start not preserved")
	}
	if !strings.Contains(out, `stop="20240115190000 +0100"`) {
		t.Error("raw stop not preserved")
	}

	// The output must parse back with identical content.
	var progs []*Programme
	p := &Parser{OnProgramme: func(pr *Programme) error {
		progs = append(progs, pr)
		return nil
	}}
	if err := p.Parse(strings.NewReader(out)); err != nil {
		t.Fatalf("reparsing output: %v", err)
	}
	if len(progs) != 1 {
		t.Fatalf("expected 1 programme, got %d", len(progs))
	}
	if progs[0].Title != "News <Late>" {
		t.Errorf("title lost in round trip: %q", progs[0].Title)
	}
	if progs[0].StartRaw != "20240115180000 +0100" {
		t.Errorf("raw start lost in round trip: %q", progs[0].StartRaw)
	}
}

func TestWriter_OmitsMissingStop(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	if err := w.WriteProgramme(&Programme{
		Channel:  "c1",
		Start:    mustParse(t, "20240115180000"),
		StartRaw: "20240115180000",
		Title:    "Open Ended",
	}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	if strings.Contains(buf.String(), "stop=") {
		t.Error("stop attribute should be omitted")
	}
}

func TestWriter_DisplayNameFallsBackToID(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteChannel(&Channel{ID: "bare.id"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "<display-name>bare.id</display-name>") {
		t.Error("expected id as display name fallback")
	}
}

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := ParseTime(s)
	if err != nil {
		t.Fatal(err)
	}
	return ts
}
