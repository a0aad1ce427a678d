package scan

import "redarc/internal/core/corpus"

// Sink is the final-stage consumer the scheduler delivers matched,
// transformed records to. Implemented by internal/core/sinks; kept as a
// narrow interface here (mirroring the teacher's Ports pattern: the
// scheduler depends on a small consumer-side contract, not a concrete
// sink type) so C6 has no import dependency on C8. Its one method is named
// and shaped to match sinks.Sink exactly (structurally, without an import),
// so every concrete sink satisfies Sink for free
type Sink interface {
	// Write delivers one projected record from file. rec is whatever
	// transform.Transform.Apply returned (record.Record or record.Ordered)
	Write(file corpus.MonthlyFile, rec any) error
}

// SinkFunc adapts a plain function to Sink
type SinkFunc func(file corpus.MonthlyFile, rec any) error

// Write implements Sink
func (f SinkFunc) Write(file corpus.MonthlyFile, rec any) error { return f(file, rec) }
