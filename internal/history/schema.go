package history

// TargetKind says how a tool's loop-detection target is derived from its
// parameters.
type TargetKind int

const (
	// TargetNone means the tool has no per-target tracking key.
	TargetNone TargetKind = iota
	// TargetField means a named string parameter holds the target path.
	TargetField
	// TargetCommand means the command string itself is the target.
	TargetCommand
)

// pathFields is the parameter-name precedence used when a TargetField spec
// does not pin a specific field. Order matters.
var pathFields = []string{"path", "file_path", "filepath", "filename", "file"}

// commandFields is the precedence for TargetCommand specs.
var commandFields = []string{"command", "cmd"}

// TargetSpec describes where a tool's target lives. Resolved once per tool at
// configuration time rather than re-derived by string matching on every call.
type TargetSpec struct {
	Kind  TargetKind
	Field string // optional: pins the exact parameter name
}

// Extract pulls the target string out of a parameter map. Returns "" when
// the tool has no target or the parameter is absent or not a string.
func (s TargetSpec) Extract(params map[string]interface{}) string {
	var candidates []string
	switch s.Kind {
	case TargetField:
		candidates = pathFields
	case TargetCommand:
		candidates = commandFields
	default:
		return ""
	}
	if s.Field != "" {
		candidates = []string{s.Field}
	}

	for _, key := range candidates {
		if v, ok := params[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// ToolPolicy pairs a tool's target schema with its per-target call cap.
// MaxPerTarget of zero disables the cap.
type ToolPolicy struct {
	Target       TargetSpec
	MaxPerTarget int
}

// Config holds the loop-detection thresholds. The defaults mirror observed
// production behavior and are deliberately overridable rather than proven
// optimal.
type Config struct {
	MaxTotalCalls       int
	SimilarityThreshold float64
	Tools               map[string]ToolPolicy
}

// Loop-detection defaults.
const (
	DefaultMaxTotalCalls       = 50
	DefaultSimilarityThreshold = 0.8

	DefaultWriteCap = 3
	DefaultEditCap  = 5
	DefaultRunCap   = 10
)

// DefaultConfig returns the standard tool policies: writes and edits are
// capped per file path, shell commands per command string, reads and listing
// are tracked but uncapped.
func DefaultConfig() Config {
	return Config{
		MaxTotalCalls:       DefaultMaxTotalCalls,
		SimilarityThreshold: DefaultSimilarityThreshold,
		Tools: map[string]ToolPolicy{
			"file_write": {Target: TargetSpec{Kind: TargetField, Field: "path"}, MaxPerTarget: DefaultWriteCap},
			"file_edit":  {Target: TargetSpec{Kind: TargetField, Field: "path"}, MaxPerTarget: DefaultEditCap},
			"shell_run":  {Target: TargetSpec{Kind: TargetCommand}, MaxPerTarget: DefaultRunCap},
			"file_read":  {Target: TargetSpec{Kind: TargetField}},
			"file_list":  {Target: TargetSpec{Kind: TargetField}},
		},
	}
}
