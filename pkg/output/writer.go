package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer outputs JSONL report records.
//
// Implementations must be safe for concurrent use from multiple
// goroutines. Each Write* method emits a complete record as a
// single line of JSON followed by a newline.
type Writer interface {
	// WriteProject emits a project outcome record.
	WriteProject(ctx context.Context, p *ProjectRecord) error

	// WriteQuarantine emits a quarantined pair record.
	WriteQuarantine(ctx context.Context, q *QuarantineRecord) error

	// WriteError emits an error record.
	WriteError(ctx context.Context, err *ErrorRecord) error

	// WriteSummary emits a summary record.
	WriteSummary(ctx context.Context, sum *SummaryRecord) error

	// Close flushes any buffered output and releases resources.
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
//
// JSONLWriter is safe for concurrent use. Writes are serialized using
// a mutex to ensure atomic line writes (no interleaved output).
type JSONLWriter struct {
	w          io.Writer
	runID      string
	qiitaJobID string
	mu         sync.Mutex

	// closed indicates the writer has been closed.
	closed bool
}

// NewJSONLWriter creates a new JSONL writer.
//
// Parameters:
//   - w: The underlying writer (stdout, file, etc.)
//   - runID: Correlation ID for this invocation
//   - qiitaJobID: Upstream job id, may be empty
func NewJSONLWriter(w io.Writer, runID, qiitaJobID string) *JSONLWriter {
	return &JSONLWriter{
		w:          w,
		runID:      runID,
		qiitaJobID: qiitaJobID,
	}
}

// WriteProject emits a project outcome record.
func (jw *JSONLWriter) WriteProject(ctx context.Context, p *ProjectRecord) error {
	return jw.writeRecord(ctx, TypeProject, p)
}

// WriteQuarantine emits a quarantined pair record.
func (jw *JSONLWriter) WriteQuarantine(ctx context.Context, q *QuarantineRecord) error {
	return jw.writeRecord(ctx, TypeQuarantine, q)
}

// WriteError emits an error record.
func (jw *JSONLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, err)
}

// WriteSummary emits a summary record.
func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return jw.writeRecord(ctx, TypeSummary, sum)
}

// Close marks the writer as closed.
//
// If the underlying writer implements io.Closer, it is NOT closed.
// The caller is responsible for closing the underlying writer.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	jw.closed = true
	return nil
}

// writeRecord marshals data into an envelope and writes it as one line.
// The mutex is held across the write so lines never interleave.
func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	record := Record{
		Type:       recordType,
		TS:         time.Now().UTC(),
		RunID:      jw.runID,
		QiitaJobID: jw.qiitaJobID,
		Data:       dataBytes,
	}

	recordBytes, err := json.Marshal(record)
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}

	return nil
}

// writeAll writes p to w, looping over short writes so a report line is
// never truncated.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

// Compile-time check that JSONLWriter implements Writer.
var _ Writer = (*JSONLWriter)(nil)
