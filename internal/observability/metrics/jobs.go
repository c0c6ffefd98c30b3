// Package metrics defines the standardised metric shapes emitted by the job
// engine: lifecycle transitions, quota decisions, and collaborator calls.
package metrics

import (
	"time"

	"github.com/sublead/sublead-api/internal/observability/obserrors"
	"github.com/sublead/sublead-api/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// JobMetric captures details about a job lifecycle event for metric emission.
type JobMetric struct {
	JobKind    string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits standardised job lifecycle metrics.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"job_kind":   in.JobKind,
		"transition": in.Transition,
		"result":     in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// EmitQuotaDecision records the outcome of a quota check-and-reserve.
func EmitQuotaDecision(sink statsd.Sink, tier string, allowed bool) {
	if sink == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	sink.Count("quota.decision", 1, map[string]string{
		"tier":   tier,
		"result": result,
	})
}

// EmitCollaboratorCall records the latency and outcome of one search source or
// AI service call.
func EmitCollaboratorCall(sink statsd.Sink, collaborator string, duration time.Duration, err error) {
	if sink == nil {
		return
	}
	result := ResultSuccess
	tags := map[string]string{"collaborator": collaborator, "result": result}
	if err != nil {
		tags["result"] = ResultError
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}
	sink.Timing("collaborator.call", duration, tags)
}

// CloneTags creates a shallow copy of a tag map, filtering out empty maps.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
