package generate

import (
	"context"
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/papercomputeco/quill/pkg/llm"
)

// maxSniffSize bounds the raw bytes kept to recover an error body from a
// stream in which no line decoded.
const maxSniffSize = 1 << 20

var errNoDecodableData = errors.New("stream contained no decodable data")

// Stream iterates over the text snapshots of one generation. It is
// single-use: once Next returns false the stream is exhausted.
//
// Snapshots are strictly growing prefixes of the final content. A stream
// that succeeds without producing any text yields exactly one empty
// snapshot, so the last snapshot always equals Result().Content.
type Stream struct {
	ctx     context.Context
	adapter Adapter
	logger  *zap.Logger
	url     string
	status  int

	body    io.ReadCloser
	buf     []byte
	decoder LineDecoder
	pending [][]byte
	eof     bool

	// raw holds the body until the first payload decodes, so an error
	// document that is not line-framed can still be recognized.
	raw         []byte
	decoded     bool
	undecodable int

	acc     strings.Builder
	images  []llm.Image
	current llm.Snapshot
	emitted int

	result   *llm.Result
	err      error
	finished bool
	done     bool
}

// Next advances to the next snapshot. It returns false when the stream has
// ended, after which Err and Result report the outcome.
func (s *Stream) Next() bool {
	for !s.done {
		if s.finished {
			s.done = true
			if !s.result.Failed() && s.emitted == 0 {
				s.emit(s.result.Content, s.result.Content)
				return true
			}
			return false
		}

		if err := s.ctx.Err(); err != nil {
			s.abort(err)
			return false
		}

		if len(s.pending) > 0 {
			line := s.pending[0]
			s.pending = s.pending[1:]
			if s.process(line) {
				return true
			}
			continue
		}

		if s.eof {
			s.finishAtEOF()
			continue
		}
		s.read()
	}
	return false
}

// Snapshot returns the current snapshot.
func (s *Stream) Snapshot() llm.Snapshot {
	return s.current
}

// Err returns the transport or cancellation error that ended the stream.
func (s *Stream) Err() error {
	return s.err
}

// Result returns the final result, or nil while the stream is running or
// when it ended with an error.
func (s *Stream) Result() *llm.Result {
	if !s.done || s.err != nil {
		return nil
	}
	return s.result
}

// Close releases the response body. It is safe to call more than once.
func (s *Stream) Close() error {
	s.done = true
	return s.closeBody()
}

func (s *Stream) read() {
	n, err := s.body.Read(s.buf)
	if n > 0 {
		if !s.decoded && len(s.raw) < maxSniffSize {
			s.raw = append(s.raw, s.buf[:n]...)
		}
		s.pending = append(s.pending, s.decoder.Feed(s.buf[:n])...)
	}
	if err == nil {
		return
	}

	if errors.Is(err, io.EOF) {
		s.eof = true
		if tail := s.decoder.Flush(); tail != nil {
			s.pending = append(s.pending, tail)
		}
		return
	}
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		s.abort(ctxErr)
		return
	}
	s.fail(&llm.TransportError{URL: s.url, Err: err})
}

// process handles one complete line and reports whether it produced a
// snapshot.
func (s *Stream) process(line []byte) bool {
	payload, kind := parseFrame(line)
	switch kind {
	case frameSkip:
		return false
	case frameDone:
		s.finish()
		return false
	}

	chunk, err := s.adapter.DecodeChunk(payload)
	if err != nil {
		s.undecodable++
		s.logger.Debug("skipping undecodable stream line",
			zap.Error(err),
			zap.String("line", truncate(string(payload), 120)),
		)
		return false
	}
	s.decoded = true
	s.raw = nil

	if chunk.Error != "" {
		s.logger.Debug("provider reported error mid-stream", zap.String("error", chunk.Error))
		s.finishWithError(chunk.Error)
		return false
	}

	s.images = append(s.images, chunk.Images...)

	produced := false
	if chunk.Text != "" {
		s.acc.WriteString(chunk.Text)
		s.emit(s.acc.String(), chunk.Text)
		produced = true
	}
	if chunk.Done {
		s.finish()
	}
	return produced
}

func (s *Stream) emit(text, delta string) {
	s.current = llm.Snapshot{Text: text, Delta: delta}
	s.emitted++
}

// finishAtEOF ends a stream whose body ran out without a sentinel. A body in
// which payload lines arrived but none decoded is not a provider stream at
// all, so it fails like an undecodable non-streaming body.
func (s *Stream) finishAtEOF() {
	if !s.decoded && len(s.raw) > 0 {
		if msg, ok := s.adapter.DecodeError(s.raw); ok {
			s.finishWithError(msg)
			return
		}
	}
	if !s.decoded && s.undecodable > 0 {
		s.fail(&llm.TransportError{
			URL:        s.url,
			StatusCode: s.status,
			Body:       truncate(string(s.raw), 512),
			Err:        errNoDecodableData,
		})
		return
	}
	s.finish()
}

func (s *Stream) finish() {
	s.result = &llm.Result{Content: s.acc.String(), Images: s.images}
	s.finished = true
	s.pending = nil
	s.closeBody()
}

func (s *Stream) finishWithError(msg string) {
	s.result = &llm.Result{Error: msg}
	s.finished = true
	s.pending = nil
	s.closeBody()
}

func (s *Stream) abort(err error) {
	s.acc.Reset()
	s.images = nil
	s.current = llm.Snapshot{}
	s.fail(&llm.CancelledError{Err: err})
}

func (s *Stream) fail(err error) {
	s.err = err
	s.done = true
	s.pending = nil
	s.closeBody()
}

func (s *Stream) closeBody() error {
	if s.body == nil {
		return nil
	}
	err := s.body.Close()
	s.body = nil
	return err
}
