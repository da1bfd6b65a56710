package alert

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	// DefaultSeverity is assigned to batch alerts that carry no severity.
	DefaultSeverity = "Low"

	// DefaultSource is assigned to batch alerts that carry no source.
	DefaultSource = "Unknown"

	// IDPrefix prefixes identifiers generated for batch alerts without one.
	IDPrefix = "ALERT-"

	maxLineBytes = 1 << 20
)

// Record is the wire shape of an alert as senders produce it. Message is
// accepted as an alias for Description.
type Record struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	Severity    string    `json:"severity"`
	Description string    `json:"description"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

// Alert converts the record as-is. No defaults are filled in, so a record
// without an id yields an alert that fails validation.
func (r *Record) Alert() *Alert {
	desc := r.Description
	if strings.TrimSpace(desc) == "" {
		desc = r.Message
	}
	return &Alert{
		ID:          r.ID,
		Source:      r.Source,
		Severity:    r.Severity,
		Description: desc,
		Timestamp:   r.Timestamp,
	}
}

// LineError reports a line of a batch file that could not be decoded.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

func (e *LineError) Unwrap() error { return e.Err }

// Reader decodes newline-delimited JSON alert records. Blank lines are
// skipped. Missing ids, sources, severities and timestamps are filled in.
type Reader struct {
	sc   *bufio.Scanner
	line int
	now  func() time.Time
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Reader{sc: sc, now: time.Now}
}

// Next returns the next alert. It returns io.EOF when the input is
// exhausted and a *LineError for a line that is not a JSON object; callers
// may keep reading after a *LineError.
func (r *Reader) Next() (*Alert, error) {
	for r.sc.Scan() {
		r.line++
		raw := strings.TrimSpace(r.sc.Text())
		if raw == "" {
			continue
		}

		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, &LineError{Line: r.line, Err: err}
		}

		al := rec.Alert()
		if strings.TrimSpace(al.ID) == "" {
			al.ID = IDPrefix + ulid.Make().String()
		}
		if al.Severity == "" {
			al.Severity = DefaultSeverity
		}
		if al.Source == "" {
			al.Source = DefaultSource
		}
		if al.Timestamp.IsZero() {
			al.Timestamp = r.now().UTC()
		}
		return al, nil
	}
	// scanner errors are terminal, a too-long line stops the whole file
	if err := r.sc.Err(); err != nil {
		return nil, fmt.Errorf("read alerts after line %d: %w", r.line, err)
	}
	return nil, io.EOF
}

// Line reports the number of the line most recently read.
func (r *Reader) Line() int { return r.line }
