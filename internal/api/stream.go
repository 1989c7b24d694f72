package api

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kajande/dulayni-cli/internal/logging"
)

const doneMarker = "[DONE]"

type sseFrame struct {
	name string
	data string
}

// sseReader splits a text/event-stream body into frames. Multi-line data
// fields are joined with "\n"; comments and unknown fields are ignored.
type sseReader struct {
	reader *bufio.Reader
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{reader: bufio.NewReader(r)}
}

// next returns the next frame, or io.EOF once the body is exhausted.
func (p *sseReader) next(ctx context.Context) (sseFrame, error) {
	var (
		name string
		data []string
	)
	for {
		if err := ctx.Err(); err != nil {
			return sseFrame{}, err
		}

		line, readErr := p.reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if len(data) > 0 {
				return sseFrame{name: name, data: strings.Join(data, "\n")}, nil
			}
		case strings.HasPrefix(line, ":"):
		default:
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				name = value
			case "data":
				data = append(data, value)
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) && len(data) > 0 {
				return sseFrame{name: name, data: strings.Join(data, "\n")}, nil
			}
			return sseFrame{}, readErr
		}
	}
}

// idleTimer cancels a stream that stays silent for longer than timeout.
// Every frame read resets it, so a long answer that keeps producing events
// is never cut off.
type idleTimer struct {
	timeout time.Duration
	timer   *time.Timer
	fired   atomic.Bool
}

func newIdleTimer(timeout time.Duration, cancel context.CancelFunc) *idleTimer {
	t := &idleTimer{timeout: timeout}
	t.timer = time.AfterFunc(timeout, func() {
		t.fired.Store(true)
		cancel()
	})
	return t
}

func (t *idleTimer) reset() {
	if !t.fired.Load() {
		t.timer.Reset(t.timeout)
	}
}

func (t *idleTimer) stop() { t.timer.Stop() }

func (t *idleTimer) expired() bool { return t.fired.Load() }

// Stream is a finite, single-use sequence of message events. Tool and
// todo events are handed to the sink as they are read and never surface
// through Next. Call Close when abandoning a stream early.
//
//	stream, err := client.QueryStream(ctx, "list files", api.Params{})
//	if err != nil { ... }
//	defer stream.Close()
//	for stream.Next() {
//	    fmt.Print(stream.Message().Content)
//	}
//	if err := stream.Err(); err != nil { ... }
type Stream struct {
	ctx        context.Context
	cancel     context.CancelFunc
	idle       *idleTimer
	body       io.ReadCloser
	reader     *sseReader
	sink       EventSink
	logger     *logging.Logger
	httpLogger *logging.HTTPLogger
	translate  func(error) error

	openTools map[string]ToolStartEvent
	current   MessageEvent
	err       error
	done      bool
}

// Next advances to the next message event. It returns false when the
// server closes the stream, sends [DONE], reports an error, or the
// connection fails; Err tells them apart.
func (s *Stream) Next() bool {
	if s.done {
		return false
	}

	for {
		frame, err := s.reader.next(s.ctx)
		if s.idle != nil {
			s.idle.reset()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.err = s.translate(err)
			}
			s.finish()
			return false
		}
		if frame.data == doneMarker {
			s.finish()
			return false
		}
		if s.httpLogger != nil {
			s.httpLogger.LogStreamEvent(frame.name, []byte(frame.data))
		}

		ev, err := decodeEvent(frame.name, []byte(frame.data))
		if err != nil {
			s.logger.Warn("skipping malformed stream event", logging.Fields{"error": err.Error()})
			continue
		}

		switch e := ev.(type) {
		case MessageEvent:
			s.current = e
			return true
		case ToolStartEvent:
			s.openTools[e.ToolCallID] = e
			s.sink.ToolStarted(e)
		case ToolEndEvent:
			start, ok := s.openTools[e.ToolCallID]
			if !ok {
				s.logger.Warn("dropping tool_end without matching tool_start", logging.Fields{
					"tool_call_id": e.ToolCallID,
					"tool_name":    e.ToolName,
				})
				continue
			}
			delete(s.openTools, e.ToolCallID)
			if e.ToolName == "" {
				e.ToolName = start.ToolName
			}
			s.sink.ToolFinished(e)
		case TodosUpdateEvent:
			s.sink.TodosUpdated(e)
		case errorEvent:
			msg := e.Message
			if msg == "" {
				msg = e.Error
			}
			s.err = &ClientError{Message: msg}
			s.finish()
			return false
		case nil:
			// unknown event type
		}
	}
}

// Message returns the event read by the last successful Next.
func (s *Stream) Message() MessageEvent {
	return s.current
}

// Err returns the error that ended the stream, if any.
func (s *Stream) Err() error {
	return s.err
}

// Close releases the connection. It is safe to call more than once.
func (s *Stream) Close() error {
	s.finish()
	return nil
}

// ReadAll drains the stream and returns the concatenated message content.
func (s *Stream) ReadAll() (string, error) {
	defer s.finish()
	var sb strings.Builder
	for s.Next() {
		sb.WriteString(s.current.Content)
	}
	return sb.String(), s.err
}

func (s *Stream) finish() {
	if s.done {
		return
	}
	s.done = true
	if s.idle != nil {
		s.idle.stop()
	}
	_ = s.body.Close()
	if s.cancel != nil {
		s.cancel()
	}
}
