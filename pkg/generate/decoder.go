package generate

import "bytes"

// LineDecoder reassembles newline-delimited lines from a byte stream that
// arrives in arbitrarily split chunks. The zero value is ready to use.
type LineDecoder struct {
	pending []byte
}

// Feed appends chunk to the pending buffer and returns every line completed
// by it, without the terminating "\n" or "\r\n". The trailing partial line is
// retained for the next call.
func (d *LineDecoder) Feed(chunk []byte) [][]byte {
	d.pending = append(d.pending, chunk...)

	var lines [][]byte
	start := 0
	for {
		i := bytes.IndexByte(d.pending[start:], '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(d.pending[start:start+i], []byte{'\r'})
		lines = append(lines, bytes.Clone(line))
		start += i + 1
	}

	if start > 0 {
		n := copy(d.pending, d.pending[start:])
		d.pending = d.pending[:n]
	}
	return lines
}

// Flush returns the unterminated remainder, if any, and resets the decoder.
func (d *LineDecoder) Flush() []byte {
	if len(d.pending) == 0 {
		return nil
	}
	line := bytes.TrimSuffix(bytes.Clone(d.pending), []byte{'\r'})
	d.pending = d.pending[:0]
	return line
}

// Buffered returns the number of bytes waiting for a newline.
func (d *LineDecoder) Buffered() int {
	return len(d.pending)
}

type frameKind int

const (
	frameSkip frameKind = iota
	framePayload
	frameDone
)

var (
	dataPrefix   = []byte("data:")
	doneSentinel = []byte("[DONE]")
	sseFields    = [][]byte{[]byte("event:"), []byte("id:"), []byte("retry:")}
)

// parseFrame classifies a complete line. SSE "data:" lines and bare
// newline-delimited JSON lines both yield their JSON payload.
func parseFrame(line []byte) ([]byte, frameKind) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] == ':' {
		return nil, frameSkip
	}

	if bytes.HasPrefix(line, dataPrefix) {
		line = bytes.TrimSpace(line[len(dataPrefix):])
	} else {
		for _, field := range sseFields {
			if bytes.HasPrefix(line, field) {
				return nil, frameSkip
			}
		}
	}

	switch {
	case len(line) == 0:
		return nil, frameSkip
	case bytes.Equal(line, doneSentinel):
		return nil, frameDone
	default:
		return line, framePayload
	}
}
