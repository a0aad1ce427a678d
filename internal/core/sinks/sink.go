// Package sinks implements the final pipeline stage (C8 of the scan
// pipeline): consuming matched, transformed records into JSONL/array/
// partitioned/spool files, in-memory aggregates, or a lazy username
// sequence. All concrete sinks satisfy scan.Sink structurally (same Write
// method shape) without importing internal/core/scan, per that package's
// Ports-style narrow-interface design
package sinks

import (
	"encoding/json"

	"redarc/internal/core/corpus"
	perr "redarc/internal/platform/errors"
)

// Sink is the full C8 contract: Write per matched record (called
// concurrently across files, so implementations must be safe for
// concurrent use), Close to flush and finalize any buffered output
type Sink interface {
	// Write delivers one record (record.Record or record.Ordered,
	// whatever transform.Transform.Apply produced) sourced from file
	Write(file corpus.MonthlyFile, rec any) error
	// Close flushes and finalizes all output. Must be called exactly once,
	// after the scan that feeds this sink has finished
	Close() error
}

// marshalLine renders rec as a JSON line, LF-terminated, shared by every
// sink that writes one JSON value per record
func marshalLine(rec any) ([]byte, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeDecode, "sinks: marshaling record")
	}
	return append(b, '\n'), nil
}
