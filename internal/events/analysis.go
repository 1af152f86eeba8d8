package events

import "time"

// AnalysisStart is emitted before a document is analyzed.
type AnalysisStart struct {
	// Transport is "http", "grpc" or "cli".
	Transport     string
	OperationName string
}

// AnalysisFinish is emitted after a document has been analyzed. Err is set
// when the document was rejected.
type AnalysisFinish struct {
	Transport     string
	OperationName string
	Complexity    float64
	Depth         int
	// Code is the error code of a rejection.
	Code     string
	Err      error
	Duration time.Duration
}

// DocumentLookup is emitted by the document cache.
type DocumentLookup struct {
	Hit bool
}
