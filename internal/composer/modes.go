package composer

// WritingMode selects a named stylistic instruction block appended to every
// generation prompt.
type WritingMode string

// Recognised writing modes. Unknown values normalise to [ModeBalanced].
const (
	ModeBalanced   WritingMode = "balanced"
	ModeRomance    WritingMode = "romance"
	ModeAction     WritingMode = "action"
	ModeTearjerker WritingMode = "tearjerker"
)

var modeInstructions = map[WritingMode]string{
	ModeBalanced: "Balance plot advancement, character development, and atmosphere. " +
		"Vary the pacing: let quiet scenes breathe and tense scenes move.",
	ModeRomance: "Foreground the emotional currents between characters. " +
		"Dwell on glances, hesitations, and unspoken feelings; let the plot serve the relationship.",
	ModeAction: "Drive the chapter with momentum. Short sentences in the thick of it, " +
		"concrete physical detail, clear spatial staging, real stakes and consequences.",
	ModeTearjerker: "Build toward an emotional payoff. Use sensory memory, small kindnesses, " +
		"and irreversible moments; earn the reader's tears rather than demanding them.",
}

// Normalize returns m if it is a recognised mode and [ModeBalanced] otherwise.
func (m WritingMode) Normalize() WritingMode {
	if _, ok := modeInstructions[m]; ok {
		return m
	}
	return ModeBalanced
}

// Instruction returns the stylistic instruction text for the mode. Unknown
// modes yield the balanced instruction.
func (m WritingMode) Instruction() string {
	return modeInstructions[m.Normalize()]
}
