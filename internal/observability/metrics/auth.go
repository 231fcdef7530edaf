package metrics

import (
	"time"

	domainauth "github.com/junghoonshin3/bemypet/internal/domain/auth"
	obserrors "github.com/junghoonshin3/bemypet/internal/observability/errors"
	"github.com/junghoonshin3/bemypet/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Operation names for one-shot auth calls.
const (
	OpCredential    = "credential"
	OpSignIn        = "signin"
	OpSignOut       = "signout"
	OpDeleteAccount = "delete_account"
	OpRefresh       = "refresh"
)

// AuthMetric captures one auth operation for metric emission.
type AuthMetric struct {
	Operation string
	Duration  time.Duration
	Err       error
}

// EmitAuthOperation emits auth.<operation> counts and timings tagged with the
// result and, on failure, the error class.
func EmitAuthOperation(sink statsd.Sink, in AuthMetric) {
	if sink == nil || in.Operation == "" {
		return
	}

	tags := map[string]string{"result": ResultSuccess}
	if in.Err != nil {
		tags["result"] = ResultError
		tags["error_class"] = obserrors.Classify(in.Err)
	}

	sink.Count("auth."+in.Operation, 1, tags)
	if in.Duration > 0 {
		sink.Timing("auth."+in.Operation+".duration", in.Duration, CloneTags(tags))
	}
}

// EmitSessionTransition counts a session store transition into next.
func EmitSessionTransition(sink statsd.Sink, prev, next domainauth.Session) {
	if sink == nil {
		return
	}
	sink.Count("session.transition", 1, map[string]string{
		"from": domainauth.Kind(prev),
		"to":   domainauth.Kind(next),
	})
}

// EmitStreamFailure counts an absorbed session stream failure.
func EmitStreamFailure(sink statsd.Sink, err error) {
	if sink == nil {
		return
	}
	sink.Count("session.stream_failure", 1, map[string]string{"error_class": obserrors.Classify(err)})
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		if k != "" {
			out[k] = v
		}
	}
	return out
}

// LabelSets lists the tag keys each metric emitted here may carry, for sinks
// that need a fixed label schema up front.
func LabelSets() map[string][]string {
	result := []string{"result", "error_class"}
	out := map[string][]string{
		"session.transition":     {"from", "to"},
		"session.stream_failure": {"error_class"},
	}
	for _, op := range []string{OpCredential, OpSignIn, OpSignOut, OpDeleteAccount, OpRefresh} {
		out["auth."+op] = result
		out["auth."+op+".duration"] = result
	}
	return out
}
