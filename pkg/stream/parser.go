// Package stream decodes provider server-sent-event bodies into event records.
package stream

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/troneras/workflow-orchestrator/pkg/models"
)

const (
	dataField     = "data:"
	commentMarker = ":"
	doneToken     = "[DONE]"

	// DefaultMaxLineBytes bounds a single stream line. Node outputs can be large.
	DefaultMaxLineBytes = 10 << 20
)

var (
	// ErrInvalidEncoding is returned when the stream is not valid UTF-8 text.
	ErrInvalidEncoding = errors.New("stream is not valid UTF-8 text")
	// ErrRead wraps failures reading the underlying body.
	ErrRead = errors.New("failed to read stream")
	// ErrLineTooLong is logged for lines above the configured limit.
	ErrLineTooLong = errors.New("stream line exceeds size limit")
)

// Record is one decoded stream message.
type Record struct {
	Event         models.EventType
	TaskID        string
	WorkflowRunID string
	NodeID        string
	CreatedAt     *time.Time
	Data          map[string]any
}

// Payload returns the record's nested "data" object, or an empty map.
func (r *Record) Payload() map[string]any {
	if data, ok := r.Data["data"].(map[string]any); ok {
		return data
	}

	return map[string]any{}
}

// Parser turns "data: <json>" framed lines into records. Malformed lines are
// dropped with a warning and counted; they never stop the stream.
type Parser struct {
	logger       *slog.Logger
	maxLineBytes int
	malformed    atomic.Int64
}

// Option configures a Parser.
type Option func(*Parser)

// WithMaxLineBytes overrides the maximum accepted line length.
func WithMaxLineBytes(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.maxLineBytes = n
		}
	}
}

// NewParser creates a stream parser.
func NewParser(logger *slog.Logger, opts ...Option) *Parser {
	p := &Parser{
		logger:       logger.With("module", "stream_parser"),
		maxLineBytes: DefaultMaxLineBytes,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Malformed returns how many lines have been dropped as undecodable so far.
func (p *Parser) Malformed() int64 {
	return p.malformed.Load()
}

// Parse lazily yields records in input line order. The only errors yielded are
// read failures and non-text input, after which iteration ends. Lines longer
// than the limit are skipped like any other malformed line.
func (p *Parser) Parse(r io.Reader) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		reader := bufio.NewReaderSize(r, min(64*1024, p.maxLineBytes))
		lineNumber := 0

		for {
			line, oversized, err := p.readLine(reader)
			if err != nil && !errors.Is(err, io.EOF) {
				yield(Record{}, fmt.Errorf("%w: %w", ErrRead, err))

				return
			}

			atEOF := err != nil
			if atEOF && len(line) == 0 && !oversized {
				return
			}

			lineNumber++

			switch {
			case oversized:
				p.warn(lineNumber, "", "dropping oversized stream line", ErrLineTooLong)
			case !utf8.Valid(line):
				yield(Record{}, fmt.Errorf("line %d: %w", lineNumber, ErrInvalidEncoding))

				return
			default:
				if record, ok := p.decodeLine(lineNumber, string(line)); ok && !yield(record, nil) {
					return
				}
			}

			if atEOF {
				return
			}
		}
	}
}

// readLine returns the next line without its terminator. Once a line grows
// past the limit the rest of it is read and discarded, and oversized is set.
func (p *Parser) readLine(reader *bufio.Reader) (line []byte, oversized bool, err error) {
	for {
		chunk, readErr := reader.ReadSlice('\n')

		if !oversized {
			line = append(line, chunk...)
			if len(bytes.TrimRight(line, "\r\n")) > p.maxLineBytes {
				oversized = true
				line = nil
			}
		}

		if errors.Is(readErr, bufio.ErrBufferFull) {
			continue
		}

		return bytes.TrimRight(line, "\r\n"), oversized, readErr
	}
}

// ParseString is Parse over an in-memory body.
func (p *Parser) ParseString(body string) iter.Seq2[Record, error] {
	return p.Parse(strings.NewReader(body))
}

// Collect drains Parse into a slice.
func (p *Parser) Collect(r io.Reader) ([]Record, error) {
	records := make([]Record, 0)

	for record, err := range p.Parse(r) {
		if err != nil {
			return records, err
		}

		records = append(records, record)
	}

	return records, nil
}

func (p *Parser) decodeLine(lineNumber int, line string) (Record, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, commentMarker) {
		return Record{}, false
	}

	payload, found := strings.CutPrefix(line, dataField)
	if !found {
		return Record{}, false
	}

	payload = strings.TrimSpace(payload)
	if payload == "" || payload == doneToken {
		return Record{}, false
	}

	var decoded map[string]any

	decoder := json.NewDecoder(bytes.NewReader([]byte(payload)))
	decoder.UseNumber()

	if err := decoder.Decode(&decoded); err != nil {
		p.warn(lineNumber, payload, "failed to decode stream event", err)

		return Record{}, false
	}

	eventName, _ := decoded["event"].(string)
	if eventName == "" {
		p.warn(lineNumber, payload, "stream event has no event field", nil)

		return Record{}, false
	}

	normalizeNumbers(decoded)

	record := Record{
		Event:         models.ParseEventType(eventName),
		TaskID:        stringField(decoded, "task_id"),
		WorkflowRunID: stringField(decoded, "workflow_run_id"),
		Data:          decoded,
	}

	record.NodeID = stringField(record.Payload(), "node_id")
	record.CreatedAt = unixField(record.Payload(), "created_at")

	return record, true
}

func (p *Parser) warn(lineNumber int, payload, message string, err error) {
	p.malformed.Add(1)

	const maxLogged = 500
	if len(payload) > maxLogged {
		payload = payload[:maxLogged]
	}

	attrs := []any{"line", lineNumber, "raw_data", payload}
	if err != nil {
		attrs = append(attrs, "error", err)
	}

	p.logger.Warn(message, attrs...)
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func unixField(m map[string]any, key string) *time.Time {
	switch v := m[key].(type) {
	case int64:
		ts := time.Unix(v, 0).UTC()

		return &ts
	case float64:
		ts := time.Unix(int64(v), 0).UTC()

		return &ts
	default:
		return nil
	}
}

// normalizeNumbers replaces json.Number values with int64 when integral and
// float64 otherwise, so payloads stored verbatim round-trip through JSON.
func normalizeNumbers(value any) any {
	switch v := value.(type) {
	case map[string]any:
		for key, item := range v {
			v[key] = normalizeNumbers(item)
		}

		return v
	case []any:
		for i, item := range v {
			v[i] = normalizeNumbers(item)
		}

		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}

		if f, err := v.Float64(); err == nil {
			return f
		}

		return v.String()
	default:
		return v
	}
}
