package sandbox

import (
	"encoding/json"
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"
)

const (
	// DefaultSentinel prefixes control lines.
	DefaultSentinel = "--MSG--"
	// DefaultMaxLineLength bounds an unterminated line before reading stops.
	DefaultMaxLineLength = 1_000_000
	// ControlTypeField is the discriminator of a control object.
	ControlTypeField = "msgtype"

	readChunkSize = 32 * 1024
)

// LineAssembler rebuilds lines from arbitrarily sized chunks while keeping
// at most maxLineLength bytes of an unterminated line in memory.
type LineAssembler struct {
	maxLineLength int
	remainder     string
}

// NewLineAssembler creates a LineAssembler.
func NewLineAssembler(maxLineLength int) *LineAssembler {
	return &LineAssembler{maxLineLength: maxLineLength}
}

// Feed adds a chunk and returns the lines it completed, each with its
// trailing newline. overflow reports that the pending unterminated text
// exceeded the limit; the caller must stop feeding input.
func (a *LineAssembler) Feed(chunk string) (lines []string, overflow bool) {
	text := a.remainder + chunk
	a.remainder = ""

	if i := strings.LastIndexByte(text, '\n'); i >= 0 {
		lines = strings.SplitAfter(text[:i+1], "\n")
		// SplitAfter yields a trailing empty element after the last separator.
		lines = lines[:len(lines)-1]
		text = text[i+1:]
	}

	if len(text) > a.maxLineLength {
		return lines, true
	}
	a.remainder = text
	return lines, false
}

// Flush returns the pending unterminated text, if any.
func (a *LineAssembler) Flush() (string, bool) {
	rest := a.remainder
	a.remainder = ""
	return rest, rest != ""
}

// DrainStats summarizes one Drain call.
type DrainStats struct {
	Lines     int
	Controls  int
	Dropped   int
	Truncated bool
	Stopped   bool
}

// Demuxer splits a sandbox's output stream into Write and Control messages.
type Demuxer struct {
	sentinel      string
	maxLineLength int
	logger        *zap.Logger
}

// NewDemuxer creates a Demuxer. Zero values select the defaults.
func NewDemuxer(logger *zap.Logger, sentinel string, maxLineLength int) *Demuxer {
	if sentinel == "" {
		sentinel = DefaultSentinel
	}
	if maxLineLength <= 0 {
		maxLineLength = DefaultMaxLineLength
	}
	return &Demuxer{sentinel: sentinel, maxLineLength: maxLineLength, logger: logger}
}

// Classify turns one line into a message. ok is false when the line carries
// the sentinel but is not a usable control object; such lines are dropped.
func (d *Demuxer) Classify(line string) (msg Message, ok bool) {
	body, isControl := strings.CutPrefix(line, d.sentinel)
	if !isControl {
		return Write{Stream: StreamStdout, Data: line}, true
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(body), &payload); err != nil || payload == nil {
		return nil, false
	}

	msgType, _ := payload[ControlTypeField].(string)
	switch Kind(msgType) {
	case "", KindWrite, KindExitStatus:
		// Reserved kinds would let user code forge pipeline messages.
		return nil, false
	}
	delete(payload, ControlTypeField)

	return Control{Type: msgType, Payload: payload}, true
}

// Drain reads r in chunks until end of stream, a read error, the line
// length guard, or emit returning false. Messages are handed to emit in the
// order their lines were read.
func (d *Demuxer) Drain(r io.Reader, emit func(Message) bool) (DrainStats, error) {
	var stats DrainStats
	asm := NewLineAssembler(d.maxLineLength)
	buf := make([]byte, readChunkSize)

	dispatch := func(line string) bool {
		stats.Lines++
		msg, ok := d.Classify(line)
		if !ok {
			stats.Dropped++
			d.logger.Debug("dropping malformed control line", zap.Int("length", len(line)))
			return true
		}
		if msg.Kind() == KindControl {
			stats.Controls++
		}
		if !emit(msg) {
			stats.Stopped = true
			return false
		}
		return true
	}

	for {
		n, err := r.Read(buf)
		if n > 0 {
			lines, overflow := asm.Feed(string(buf[:n]))
			for _, line := range lines {
				if !dispatch(line) {
					return stats, nil
				}
			}
			if overflow {
				stats.Truncated = true
				d.logger.Warn("line length limit exceeded, output truncated",
					zap.Int("max_line_length", d.maxLineLength))
				return stats, nil
			}
		}

		if errors.Is(err, io.EOF) {
			if rest, ok := asm.Flush(); ok {
				dispatch(rest)
			}
			return stats, nil
		}
		if err != nil {
			return stats, err
		}
	}
}
