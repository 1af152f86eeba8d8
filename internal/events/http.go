package events

import (
	"net/http"
	"time"
)

// HTTPStart is emitted when the admission endpoint receives a request.
// The context carries the request ID.
type HTTPStart struct {
	Request *http.Request
}

// HTTPFinish is emitted after the response is written. Requests counts the
// GraphQL requests in the body; batches carry more than one.
type HTTPFinish struct {
	Request  *http.Request
	Status   int
	Requests int
	Duration time.Duration
}
