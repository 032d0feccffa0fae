// Package tracking implements the pitch state machine: it turns a stream of
// stereo.Observations into PitchStartEvent/PitchEndEvent pairs.
package tracking

// Phase is one of the five pitch lifecycle states.
type Phase string

const (
	Inactive  Phase = "INACTIVE"
	RampUp    Phase = "RAMP_UP"
	Active    Phase = "ACTIVE"
	Ending    Phase = "ENDING"
	Finalized Phase = "FINALIZED"
)
