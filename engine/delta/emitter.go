// Package delta implements the DeltaRouter (§4.9): it turns raw LLM text
// chunks into card.delta events, handling section markers that may be
// split across chunk boundaries and flushing on size/paragraph triggers.
// This is a direct translation of the original implementation's
// _CardDeltaEmitter, kept faithful to its marker-splitting edge cases.
package delta

import "strings"

const (
	commentStart = "<!--"
	commentEnd   = "-->"
)

// minFlushChars is the floor the original implementation clamps flush_chars
// to, regardless of what a stream spec configures.
const minFlushChars = 40

// defaultFlushChars matches the original's flush_chars default.
const defaultFlushChars = 160

// Spec configures one card's streaming behavior, mirroring card_specs.py's
// _STREAM_SPECS entries.
type Spec struct {
	Field      string
	Format     string
	Section    string
	Sections   []string
	Route      string
	FlushChars int
}

// Delta is the payload shape emitted for a card.delta event, matching §6.2.
type Delta struct {
	Card    string
	Field   string
	Section string
	Format  string
	Text    string
}

// Sink receives flushed Deltas. Callers typically wire this to
// EventStore.AppendEvent(EventCardDelta, ...).
type Sink func(Delta)

// Emitter buffers streamed text for one card and flushes it to a Sink as
// card.delta events, splitting on section markers when the spec routes by
// marker. It is not safe for concurrent use; one Emitter per card per
// in-flight stream.
type Emitter struct {
	sink     Sink
	cardType string

	field      string
	format     string
	sections   []string
	allowed    map[string]string // lowercase name -> canonical name
	section    string
	routeByMarker bool
	flushChars int

	carry  string
	buffer strings.Builder
	size   int
}

// NewEmitter constructs an Emitter for a card with the given Spec.
func NewEmitter(sink Sink, cardType string, spec Spec) *Emitter {
	field := spec.Field
	if field == "" {
		field = "content"
	}
	format := spec.Format
	if format == "" {
		format = "markdown"
	}
	var sections []string
	allowed := make(map[string]string, len(spec.Sections))
	for _, s := range spec.Sections {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		sections = append(sections, s)
		allowed[strings.ToLower(s)] = s
	}
	section := strings.TrimSpace(spec.Section)
	if section == "" {
		if len(sections) > 0 {
			section = sections[0]
		} else {
			section = "main"
		}
	}
	route := strings.ToLower(strings.TrimSpace(spec.Route))
	if route == "" {
		route = "fixed"
	}
	flushChars := spec.FlushChars
	if flushChars <= 0 {
		flushChars = defaultFlushChars
	}
	if flushChars < minFlushChars {
		flushChars = minFlushChars
	}
	return &Emitter{
		sink:          sink,
		cardType:      cardType,
		field:         field,
		format:        format,
		sections:      sections,
		allowed:       allowed,
		section:       section,
		routeByMarker: route == "marker" && len(sections) > 1,
		flushChars:    flushChars,
	}
}

// OnDelta feeds one incoming text chunk through the emitter.
func (e *Emitter) OnDelta(chunk string) {
	if chunk == "" {
		return
	}
	if !e.routeByMarker {
		e.append(chunk)
		return
	}

	pieces, finalSection := e.splitByMarkers(chunk)
	for _, p := range pieces {
		if p.text == "" {
			continue
		}
		if p.section != e.section {
			e.Flush()
			e.section = p.section
		}
		e.append(p.text)
	}
	if finalSection != e.section {
		// Section marker landed at the chunk boundary with no content yet:
		// flush the current buffer first so sections never mix.
		e.Flush()
		e.section = finalSection
	}
}

func (e *Emitter) append(text string) {
	if text == "" {
		return
	}
	e.buffer.WriteString(text)
	e.size += len(text)
	if strings.Contains(text, "\n\n") || e.size >= e.flushChars {
		e.Flush()
	}
}

type piece struct {
	section string
	text    string
}

// splitByMarkers scans buf (carry-over plus chunk) for "<!--section:NAME-->"
// markers wherever they appear in the text (a marker need not stand on a
// line of its own), returning the text pieces attributed to each
// section in order plus the section active after the scan. Incomplete
// markers and unconsumed trailing text that might be the start of one are
// carried into e.carry for the next call.
func (e *Emitter) splitByMarkers(chunk string) ([]piece, string) {
	buf := e.carry + chunk
	e.carry = ""

	cur := e.section
	var pieces []piece

	pos := 0
	for {
		idx := strings.Index(buf[pos:], commentStart)
		if idx == -1 {
			break
		}
		idx += pos

		if idx > pos {
			pieces = append(pieces, piece{cur, buf[pos:idx]})
		}

		end := strings.Index(buf[idx+len(commentStart):], commentEnd)
		if end == -1 {
			// Incomplete marker: keep the rest for the next chunk.
			e.carry = buf[idx:]
			return pieces, cur
		}
		end += idx + len(commentStart)

		body := strings.TrimSpace(buf[idx+len(commentStart) : end])
		if strings.HasPrefix(strings.ToLower(body), "section:") {
			rawName := strings.TrimSpace(strings.SplitN(body, ":", 2)[1])
			if canonical, ok := e.allowed[strings.ToLower(rawName)]; ok {
				cur = canonical
			} else {
				// Unknown section marker: preserve as literal text.
				pieces = append(pieces, piece{cur, buf[idx : end+len(commentEnd)]})
			}
		} else {
			// Not a section marker: preserve as literal text.
			pieces = append(pieces, piece{cur, buf[idx : end+len(commentEnd)]})
		}

		pos = end + len(commentEnd)
	}

	tail := buf[pos:]
	// A trailing suffix of tail might be the start of a marker split across
	// chunks; hold back the longest such suffix.
	carry := ""
	maxCheck := len(commentStart) - 1
	if len(tail) < maxCheck {
		maxCheck = len(tail)
	}
	for i := maxCheck; i > 0; i-- {
		suffix := tail[len(tail)-i:]
		if strings.HasPrefix(commentStart, suffix) {
			carry = suffix
			tail = tail[:len(tail)-i]
			break
		}
	}
	if carry != "" {
		e.carry = carry
	}
	if tail != "" {
		pieces = append(pieces, piece{cur, tail})
	}
	return pieces, cur
}

// Flush emits any buffered text as a card.delta event. No-op if the buffer
// is empty.
func (e *Emitter) Flush() {
	if e.buffer.Len() == 0 {
		return
	}
	text := e.buffer.String()
	e.buffer.Reset()
	e.size = 0
	e.sink(Delta{
		Card:    e.cardType,
		Field:   e.field,
		Section: e.section,
		Format:  e.format,
		Text:    text,
	})
}
