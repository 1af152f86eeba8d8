// Package logging provides the process logger and the event subscriber that
// writes request and analysis lifecycles to it.
package logging

import (
	"context"
	"errors"
	"math"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/hanpama/querycost/internal/complexity"
	"github.com/hanpama/querycost/internal/eventbus"
	"github.com/hanpama/querycost/internal/events"
	"github.com/hanpama/querycost/internal/reqid"
)

// New creates a JSON logger at level. Every entry carries the service name.
func New(level, service string) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(lvl)
	if service != "" {
		logger.AddHook(serviceHook(service))
	}
	return logger, nil
}

type serviceHook string

func (h serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h serviceHook) Fire(e *logrus.Entry) error {
	if _, ok := e.Data["service"]; !ok {
		e.Data["service"] = string(h)
	}
	return nil
}

// Subscribe logs analysis, HTTP and RPC events from bus. Admitted requests
// log at info, limit rejections at warn, other rejections at info and
// internal failures at error.
func Subscribe(bus *eventbus.Bus, logger *logrus.Logger) (unsubscribe func()) {
	unsubs := []func(){
		eventbus.On(bus, func(ctx context.Context, e events.AnalysisFinish) {
			entry := withRequest(ctx, logger).WithFields(logrus.Fields{
				"transport":   e.Transport,
				"operation":   e.OperationName,
				"duration_ms": e.Duration.Milliseconds(),
			})
			if e.Err == nil {
				entry.WithFields(logrus.Fields{
					"complexity": e.Complexity,
					"depth":      e.Depth,
				}).Info("request admitted")
				return
			}
			entry = entry.WithField("code", e.Code).WithError(e.Err)
			switch complexity.Code(e.Code) {
			case complexity.CodeComplexityExceeded, complexity.CodeDepthExceeded:
				var cerr *complexity.Error
				if errors.As(e.Err, &cerr) {
					entry = entry.WithFields(logrus.Fields{
						"limit":  loggable(cerr.Limit),
						"actual": loggable(cerr.Actual),
					})
				}
				entry.Warn("request rejected")
			case "INTERNAL":
				entry.Error("analysis failed")
			default:
				entry.Info("request rejected")
			}
		}),
		eventbus.On(bus, func(ctx context.Context, e events.HTTPFinish) {
			withRequest(ctx, logger).WithFields(logrus.Fields{
				"method":      e.Request.Method,
				"path":        e.Request.URL.Path,
				"status":      e.Status,
				"requests":    e.Requests,
				"duration_ms": e.Duration.Milliseconds(),
			}).Debug("http request")
		}),
		eventbus.On(bus, func(ctx context.Context, e events.RPCFinish) {
			entry := withRequest(ctx, logger).WithFields(logrus.Fields{
				"method":      e.Method,
				"grpc_code":   e.Code.String(),
				"duration_ms": e.Duration.Milliseconds(),
			})
			if e.Err != nil {
				entry = entry.WithError(e.Err)
			}
			entry.Debug("rpc")
		}),
		eventbus.On(bus, func(ctx context.Context, e events.DocumentLookup) {
			withRequest(ctx, logger).WithField("hit", e.Hit).Trace("document cache lookup")
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func withRequest(ctx context.Context, logger *logrus.Logger) *logrus.Entry {
	if id, ok := reqid.FromContext(ctx); ok {
		return logger.WithField("request_id", id)
	}
	return logrus.NewEntry(logger)
}

// loggable formats non-finite numbers, which the JSON formatter rejects.
func loggable(v float64) any {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return v
}
