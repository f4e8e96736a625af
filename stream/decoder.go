package stream

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
)

// Decoder incrementally decodes a streamed JSON reasoning response. The model
// emits one JSON object ({"thought": ..., "progress_step": ...,
// "should_update_artifact": ...}) as raw text deltas; Feed extracts the
// thought prefix that is already safe to show, so the consumer sees text as
// it is generated rather than after the object closes.
type Decoder struct {
	buf strings.Builder
}

// Feed appends a raw text delta and returns the reasoning chunk visible so
// far. The returned thought only ever grows.
func (d *Decoder) Feed(delta string) ReasoningChunk {
	d.buf.WriteString(delta)
	s := d.buf.String()

	chunk := ReasoningChunk{}
	if thought, _ := partialStringField(s, "thought"); thought != "" {
		chunk.Thought = thought
	}
	// Progress is only surfaced once its value is complete; a half-streamed
	// step name is useless to display.
	if step, complete := partialStringField(s, "progress_step"); complete {
		chunk.ProgressStep = step
	}
	return chunk
}

// Final decodes the complete buffered object. Markdown fences around the
// object are tolerated.
func (d *Decoder) Final() (ReasoningChunk, error) {
	s := strings.TrimSpace(d.buf.String())
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	var chunk ReasoningChunk
	if err := json.Unmarshal([]byte(s), &chunk); err != nil {
		return ReasoningChunk{}, fmt.Errorf("decode reasoning response: %w", err)
	}
	return chunk, nil
}

// partialStringField extracts the (possibly incomplete) string value of a
// top-level field from partially received JSON. complete reports whether the
// closing quote has arrived. Escape sequences are decoded; a trailing
// incomplete escape is held back until more bytes arrive.
func partialStringField(s, field string) (value string, complete bool) {
	idx := strings.Index(s, `"`+field+`"`)
	if idx < 0 {
		return "", false
	}
	rest := s[idx+len(field)+2:]

	// Skip whitespace and the colon before the value.
	i := 0
	for i < len(rest) && (rest[i] == ' ' || rest[i] == '\t' || rest[i] == '\n' || rest[i] == '\r') {
		i++
	}
	if i >= len(rest) || rest[i] != ':' {
		return "", false
	}
	i++
	for i < len(rest) && (rest[i] == ' ' || rest[i] == '\t' || rest[i] == '\n' || rest[i] == '\r') {
		i++
	}
	if i >= len(rest) || rest[i] != '"' {
		return "", false
	}
	i++

	var sb strings.Builder
	for i < len(rest) {
		ch := rest[i]
		if ch == '"' {
			return sb.String(), true
		}
		if ch != '\\' {
			sb.WriteByte(ch)
			i++
			continue
		}

		// Escape sequence; hold back if incomplete.
		if i+1 >= len(rest) {
			return sb.String(), false
		}
		switch rest[i+1] {
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		case 'r':
			sb.WriteByte('\r')
		case '"':
			sb.WriteByte('"')
		case '\\':
			sb.WriteByte('\\')
		case '/':
			sb.WriteByte('/')
		case 'b':
			sb.WriteByte('\b')
		case 'f':
			sb.WriteByte('\f')
		case 'u':
			if i+6 > len(rest) {
				return sb.String(), false
			}
			code, err := strconv.ParseUint(rest[i+2:i+6], 16, 32)
			if err != nil {
				// Broken escape: stop extending, Final will report it.
				return sb.String(), false
			}
			r := rune(code)
			if utf16.IsSurrogate(r) {
				// Need the low surrogate too.
				if i+12 > len(rest) {
					return sb.String(), false
				}
				if rest[i+6] == '\\' && rest[i+7] == 'u' {
					low, err := strconv.ParseUint(rest[i+8:i+12], 16, 32)
					if err == nil {
						sb.WriteRune(utf16.DecodeRune(r, rune(low)))
						i += 12
						continue
					}
				}
				return sb.String(), false
			}
			sb.WriteRune(r)
			i += 6
			continue
		default:
			// Unknown escape, keep it verbatim.
			sb.WriteByte(rest[i+1])
		}
		i += 2
	}
	return sb.String(), false
}
