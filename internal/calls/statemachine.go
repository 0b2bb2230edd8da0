package calls

type CallStatus string

const (
	CallStatusQueued            CallStatus = "queued"
	CallStatusScheduled         CallStatus = "scheduled"
	CallStatusInitiating        CallStatus = "initiating"
	CallStatusInitiated         CallStatus = "initiated"
	CallStatusRinging           CallStatus = "ringing"
	CallStatusAnswered          CallStatus = "answered"
	CallStatusRecording         CallStatus = "recording"
	CallStatusRecordingReceived CallStatus = "recording_received"
	CallStatusCompleted         CallStatus = "completed"
	CallStatusFailed            CallStatus = "failed"
	CallStatusCancelled         CallStatus = "cancelled"
)

// Terminal reports whether no further transition is permitted from s.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusFailed, CallStatusCancelled:
		return true
	default:
		return false
	}
}

// transitions is the allowed successor set per status. Cancellation is not
// listed here; any non-terminal status may move to cancelled (see CanTransition).
//
// The provider is authoritative for ringing/answered/completed/failed once a
// call is initiated; webhook events replay those states verbatim, and the
// guard below is what makes duplicate or out-of-order delivery idempotent.
var transitions = map[CallStatus][]CallStatus{
	CallStatusQueued:     {CallStatusScheduled, CallStatusInitiating},
	CallStatusScheduled:  {CallStatusInitiating},
	CallStatusInitiating: {CallStatusInitiated, CallStatusFailed},
	CallStatusInitiated:  {CallStatusRinging, CallStatusAnswered, CallStatusCompleted, CallStatusFailed, CallStatusRecordingReceived},
	CallStatusRinging:    {CallStatusAnswered, CallStatusCompleted, CallStatusFailed, CallStatusRecordingReceived},
	CallStatusAnswered:   {CallStatusRecording, CallStatusCompleted, CallStatusFailed, CallStatusRecordingReceived},
	CallStatusRecording:  {CallStatusRecordingReceived, CallStatusCompleted, CallStatusFailed},
	CallStatusRecordingReceived: {CallStatusCompleted},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
// A rejected transition is not an error condition for webhook delivery;
// callers drop the event and acknowledge it.
func CanTransition(from, to CallStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == CallStatusCancelled {
		return true
	}
	for _, n := range transitions[from] {
		if n == to {
			return true
		}
	}
	return false
}

// SourcesFor returns every status from which a transition to target is legal.
// Used to build the expected-status guard of a conditional update.
func SourcesFor(target CallStatus) []CallStatus {
	all := []CallStatus{
		CallStatusQueued,
		CallStatusScheduled,
		CallStatusInitiating,
		CallStatusInitiated,
		CallStatusRinging,
		CallStatusAnswered,
		CallStatusRecording,
		CallStatusRecordingReceived,
	}
	var out []CallStatus
	for _, s := range all {
		if CanTransition(s, target) {
			out = append(out, s)
		}
	}
	return out
}
