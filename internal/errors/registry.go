package errors

import "sort"

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
	DocURL   string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Project Errors (E200-E202)
	// ============================================

	"E200": {
		Category: CategoryConfig,
		Message:  "Project file not found",
		Detail:   "No jetbuild.json or jetbuild.yaml was found in the project directory or any parent directory.",
		DocURL:   "https://jetbuild.dev/docs/errors/E200",
	},
	"E201": {
		Category: CategoryConfig,
		Message:  "Invalid configuration",
		Detail:   "The project file could not be parsed or contains an invalid value.",
		DocURL:   "https://jetbuild.dev/docs/errors/E201",
	},
	"E202": {
		Category: CategoryCache,
		Message:  "Artifact cache unavailable",
		Detail:   "The artifact cache could not be opened or written. Builds cannot be incremental without it.",
		DocURL:   "https://jetbuild.dev/docs/errors/E202",
	},

	// ============================================
	// Build Errors (E203-E206)
	// ============================================

	"E203": {
		Category: CategoryGraph,
		Message:  "Dependency cycle",
		Detail:   "Build outputs depend on each other in a cycle, so no order exists in which they can be built.",
		DocURL:   "https://jetbuild.dev/docs/errors/E203",
	},
	"E204": {
		Category: CategoryGenerate,
		Message:  "Generator failed",
		Detail:   "A build step could not produce its output. The previous output is kept and the step will run again on the next build.",
		DocURL:   "https://jetbuild.dev/docs/errors/E204",
	},
	"E205": {
		Category: CategoryGraph,
		Message:  "Missing dependency",
		Detail:   "A build step depends on an input file that does not exist or on an output that no step produces.",
		DocURL:   "https://jetbuild.dev/docs/errors/E205",
	},
	"E206": {
		Category: CategoryIO,
		Message:  "Filesystem error",
		Detail:   "An input could not be read or an output could not be written.",
		DocURL:   "https://jetbuild.dev/docs/errors/E206",
	},

	// ============================================
	// Delivery Errors (E207-E210)
	// ============================================

	"E207": {
		Category: CategoryPublish,
		Message:  "Publish failed",
		Detail:   "The build output could not be uploaded.",
		DocURL:   "https://jetbuild.dev/docs/errors/E207",
	},
	"E208": {
		Category: CategoryServe,
		Message:  "Development server failed",
		Detail:   "The development server could not start or stopped unexpectedly.",
		DocURL:   "https://jetbuild.dev/docs/errors/E208",
	},
	"E209": {
		Category: CategoryCLI,
		Message:  "Build interrupted",
		Detail:   "The build was cancelled before it finished. Completed outputs are cached; the rest will be built next time.",
		DocURL:   "https://jetbuild.dev/docs/errors/E209",
	},
	"E210": {
		Category: CategoryCLI,
		Message:  "Invalid command",
		Detail:   "The command line could not be parsed. Run jetbuild help for usage.",
		DocURL:   "https://jetbuild.dev/docs/errors/E210",
	},
}

// GetAllCodes returns all registered error codes in order.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}
