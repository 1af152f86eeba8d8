package events

import (
	"time"

	"google.golang.org/grpc/codes"
)

// RPCStart is emitted when the cost service receives a call.
type RPCStart struct {
	Method string
}

// RPCFinish is emitted after a call to the cost service returns.
type RPCFinish struct {
	Method   string
	Code     codes.Code
	Err      error
	Duration time.Duration
}
