package evolve

// Phase is one step of an improvement cycle.
type Phase int

const (
	PhaseTest     Phase = iota // Measure the current generation.
	PhaseAnalyze               // Turn test output into recommendations.
	PhaseApply                 // Change the blueprint.
	PhaseAdvance               // Seal a new generation.
	PhaseValidate              // Accept or flag the new generation.
)

// phases lists every phase in execution order.
var phases = []Phase{PhaseTest, PhaseAnalyze, PhaseApply, PhaseAdvance, PhaseValidate}

// String returns the upper-case name of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseTest:
		return "TEST"
	case PhaseAnalyze:
		return "ANALYZE"
	case PhaseApply:
		return "APPLY"
	case PhaseAdvance:
		return "ADVANCE"
	case PhaseValidate:
		return "VALIDATE"
	default:
		return "UNKNOWN"
	}
}

// key is the lower-case result key of the phase.
func (p Phase) key() string {
	switch p {
	case PhaseTest:
		return "test"
	case PhaseAnalyze:
		return "analyze"
	case PhaseApply:
		return "apply"
	case PhaseAdvance:
		return "advance"
	case PhaseValidate:
		return "validate"
	default:
		return ""
	}
}
