// Package sym defines canonical symbols for weir engine components and system markers.
// These symbols are stable across log fields, CLI output, and documentation.
package sym

// Primary components, each with a CLI command.
const (
	AM      = "≡" // am: configuration and system settings
	Trans   = "⇶" // trans: dataflow graph of concurrent workers
	Job     = "⟶" // job: control-flow walk over entries
	History = "✦" // history: recorded runs
)

// System infrastructure symbols.
const (
	Open   = "✿" // graph start
	Close  = "❀" // graph finish or stop
	DB     = "⊔" // database/storage layer
	Hook   = "⌁" // extension hook dispatch
	Nested = "⌗" // nested run inside a job entry
)

// SymbolToCommand maps glyph strings to their CLI command equivalents.
var SymbolToCommand = map[string]string{
	AM:      "am",
	Trans:   "trans",
	Job:     "job",
	History: "history",
}

// CommandToSymbol maps CLI commands to their canonical glyph strings.
var CommandToSymbol = map[string]string{
	"am":      AM,
	"trans":   Trans,
	"job":     Job,
	"history": History,
}

// CommandDescriptions provides human-readable explanations for help output.
var CommandDescriptions = map[string]string{
	"am":      "Configuration: engine settings and state",
	"trans":   "Transformation: run a dataflow graph",
	"job":     "Job: run a control-flow graph",
	"history": "History: inspect recorded runs",
}

// Prefix returns "<glyph> <text>", or text unchanged for an empty glyph.
func Prefix(glyph, text string) string {
	if glyph == "" {
		return text
	}
	return glyph + " " + text
}
