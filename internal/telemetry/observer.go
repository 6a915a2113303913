package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/birbparty/aleo-beacon/aleo"
)

// ClientObserver reports Beacon client activity to Prometheus, the span in the
// request context and the service log.
//
//	cfg := aleo.DefaultConfig().WithObserver(telemetry.NewClientObserver())
type ClientObserver struct {
	log *logrus.Entry
}

var _ aleo.Observer = (*ClientObserver)(nil)

// NewClientObserver creates an observer logging through the service logger.
func NewClientObserver() *ClientObserver {
	return &ClientObserver{log: Entry().WithField("component", "aleo-client")}
}

// OnRequestStart adds a span event
func (o *ClientObserver) OnRequestStart(ctx context.Context, method, endpoint string) {
	AddEvent(ctx, "aleo.request.start",
		attribute.String("aleo.method", method),
		attribute.String("aleo.endpoint", endpoint),
	)
}

// OnRequestEnd records the outcome metric and logs failures other than not found
func (o *ClientObserver) OnRequestEnd(ctx context.Context, method, endpoint string, duration time.Duration, err error) {
	outcome := Outcome(err)
	RecordClientRequest(method, endpoint, outcome, duration)

	AddEvent(ctx, "aleo.request.end",
		attribute.String("aleo.endpoint", endpoint),
		attribute.String("aleo.outcome", outcome),
		attribute.Int64("aleo.duration_ms", duration.Milliseconds()),
	)

	if err == nil || aleo.IsNotFound(err) {
		return
	}
	o.log.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"endpoint":    endpoint,
		"outcome":     outcome,
		"duration_ms": duration.Milliseconds(),
	}).WithError(err).Warn("Beacon request failed")
}

// OnRetryAttempt counts and logs the retry
func (o *ClientObserver) OnRetryAttempt(ctx context.Context, method, endpoint string, attempt int, delay time.Duration, err error) {
	RecordClientRetry(method, endpoint)
	o.log.WithContext(ctx).WithFields(logrus.Fields{
		"method":   method,
		"endpoint": endpoint,
		"attempt":  attempt,
		"delay_ms": delay.Milliseconds(),
	}).WithError(err).Debug("Retrying Beacon request")
}

// OnCircuitBreakerStateChange exports the new state and logs the transition
func (o *ClientObserver) OnCircuitBreakerStateChange(endpoint string, oldState, newState aleo.CircuitState) {
	SetCircuitState(endpoint, int(newState))

	entry := o.log.WithFields(logrus.Fields{
		"endpoint": endpoint,
		"from":     oldState.String(),
		"to":       newState.String(),
	})
	if newState == aleo.CircuitOpen {
		entry.Error("Beacon circuit breaker opened")
		return
	}
	entry.Info("Beacon circuit breaker state changed")
}

// Outcome maps a client error to a metric label.
func Outcome(err error) string {
	if err == nil {
		return "success"
	}
	var typed *aleo.Error
	if errors.As(err, &typed) {
		return typed.Type.String()
	}
	var verr *aleo.ValidationError
	if errors.As(err, &verr) {
		return aleo.ErrorTypeValidation.String()
	}
	return aleo.ErrorTypeUnknown.String()
}
