package xmltv

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// GeneratorName identifies this exporter in the tv element.
const GeneratorName = "epg-viewer export"

// Writer emits XMLTV documents incrementally. Channels must be written
// before programmes. Close must be called to terminate the document.
type Writer struct {
	w       io.Writer
	started bool
	closed  bool
}

// NewWriter creates an XMLTV writer targeting w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// writeHeader emits the XML declaration, DOCTYPE, and opening tv element.
func (w *Writer) writeHeader() error {
	if w.started {
		return nil
	}
	w.started = true
	_, err := fmt.Fprintf(w.w,
		"<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<!DOCTYPE tv SYSTEM \"xmltv.dtd\">\n<tv generator-info-name=\"%s\">\n",
		GeneratorName)
	return err
}

// WriteChannel writes a channel element.
func (w *Writer) WriteChannel(c *Channel) error {
	if err := w.writeHeader(); err != nil {
		return err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "  <channel id=\"%s\">\n", escape(c.ID))
	name := c.DisplayName
	if name == "" {
		name = c.ID
	}
	fmt.Fprintf(&sb, "    <display-name>%s</display-name>\n", escape(name))
	if c.Icon != "" {
		fmt.Fprintf(&sb, "    <icon src=\"%s\"/>\n", escape(c.Icon))
	}
	sb.WriteString("  </channel>\n")

	_, err := io.WriteString(w.w, sb.String())
	return err
}

// WriteProgramme writes a programme element. The start and stop attribute
// values are taken verbatim from the Programme's raw timestamp strings.
func (w *Writer) WriteProgramme(p *Programme) error {
	if err := w.writeHeader(); err != nil {
		return err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "  <programme start=\"%s\"", escape(p.StartRaw))
	if p.StopRaw != "" {
		fmt.Fprintf(&sb, " stop=\"%s\"", escape(p.StopRaw))
	}
	fmt.Fprintf(&sb, " channel=\"%s\">\n", escape(p.Channel))

	fmt.Fprintf(&sb, "    <title>%s</title>\n", escape(p.Title))
	if p.Description != "" {
		fmt.Fprintf(&sb, "    <desc>%s</desc>\n", escape(p.Description))
	}
	if p.Category != "" {
		fmt.Fprintf(&sb, "    <category>%s</category>\n", escape(p.Category))
	}
	if p.Icon != "" {
		fmt.Fprintf(&sb, "    <icon src=\"%s\"/>\n", escape(p.Icon))
	}
	sb.WriteString("  </programme>\n")

	_, err := io.WriteString(w.w, sb.String())
	return err
}

// Close terminates the document. Safe to call once.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.writeHeader(); err != nil {
		return err
	}
	_, err := io.WriteString(w.w, "</tv>\n")
	return err
}

// escape XML-escapes text and attribute content.
func escape(s string) string {
	var sb strings.Builder
	if err := xml.EscapeText(&sb, []byte(s)); err != nil {
		return s
	}
	return sb.String()
}
