// Package sse extracts JSON payloads from the data lines of a server-sent
// event stream that arrives in arbitrary chunks.
package sse

import (
	"bytes"
	"encoding/json"
	"strings"
)

const dataPrefix = "data:"

// doneSentinel terminates OpenAI-style streams and carries no payload.
const doneSentinel = "[DONE]"

// Decoder reassembles lines across chunk boundaries and collects every
// data line whose payload is valid JSON. It is not safe for concurrent use;
// the streaming relay owns one Decoder per response.
type Decoder struct {
	residual []byte
	events   []json.RawMessage
	dropped  int
}

// Feed consumes the next chunk of the stream and returns the number of
// events it completed. A line split across chunks is held back until its
// terminator arrives.
func (d *Decoder) Feed(chunk []byte) int {
	before := len(d.events)
	for len(chunk) > 0 {
		i := bytes.IndexAny(chunk, "\r\n")
		if i < 0 {
			d.residual = append(d.residual, chunk...)
			break
		}
		if len(d.residual) > 0 {
			d.residual = append(d.residual, chunk[:i]...)
			d.line(d.residual)
			d.residual = d.residual[:0]
		} else {
			d.line(chunk[:i])
		}
		// "\r\n" yields an empty line between the two bytes, which line ignores.
		chunk = chunk[i+1:]
	}
	return len(d.events) - before
}

// Flush processes a final line that had no terminator. Call it once the
// stream has ended normally.
func (d *Decoder) Flush() int {
	if len(d.residual) == 0 {
		return 0
	}
	before := len(d.events)
	d.line(d.residual)
	d.residual = nil
	return len(d.events) - before
}

// Events returns the decoded payloads in stream order. The result is never nil.
func (d *Decoder) Events() []json.RawMessage {
	if d.events == nil {
		return []json.RawMessage{}
	}
	return d.events
}

// Dropped returns how many non-empty data lines failed to parse as JSON.
func (d *Decoder) Dropped() int {
	return d.dropped
}

func (d *Decoder) line(raw []byte) {
	if !bytes.HasPrefix(raw, []byte(dataPrefix)) {
		return
	}
	payload := strings.TrimSpace(strings.ToValidUTF8(string(raw[len(dataPrefix):]), "\uFFFD"))
	if payload == "" || payload == doneSentinel {
		return
	}
	if !json.Valid([]byte(payload)) {
		d.dropped++
		return
	}
	d.events = append(d.events, json.RawMessage(payload))
}
