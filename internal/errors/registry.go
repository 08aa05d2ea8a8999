package errors

import "net/http"

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
	Status   int
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Config Errors (E120-E129)
	// ============================================

	"E120": {
		Category: CategoryConfig,
		Message:  "Invalid config file",
		Detail:   "The project config file could not be parsed.",
	},
	"E122": {
		Category: CategoryConfig,
		Message:  "Invalid config value",
		Detail:   "A value in the project config is out of range or malformed.",
	},

	// ============================================
	// CLI Errors (E140-E149)
	// ============================================

	"E141": {
		Category: CategoryCLI,
		Message:  "Config file not found",
		Detail:   "No devpack.json or devpack.yaml was found in the project root.",
		Status:   http.StatusNotFound,
	},
	"E142": {
		Category: CategoryCLI,
		Message:  "Port in use",
		Detail:   "The requested server port is already bound by another process.",
	},

	// ============================================
	// Worker Errors (E200-E209)
	// ============================================

	"E200": {
		Category: CategoryWorker,
		Message:  "Worker spawn failed",
		Detail:   "The build worker process for this platform could not be started.",
	},
	"E201": {
		Category: CategoryWorker,
		Message:  "Worker crashed",
		Detail:   "The build worker process exited unexpectedly.",
	},
	"E208": {
		Category: CategoryWorker,
		Message:  "Server shutting down",
		Detail:   "The dev server stopped before the build finished.",
		Status:   http.StatusServiceUnavailable,
	},
	"E209": {
		Category: CategoryWorker,
		Message:  "Build failed",
		Detail:   "The build engine reported a compilation error.",
	},

	// ============================================
	// Asset Errors (E202, E207)
	// ============================================

	"E202": {
		Category: CategoryAsset,
		Message:  "Asset not found",
		Detail:   "The asset is not in the build output and no build is in progress.",
		Status:   http.StatusNotFound,
	},
	"E207": {
		Category: CategoryAsset,
		Message:  "Asset wait timed out",
		Detail:   "The build did not finish within dev.assetWaitTimeout.",
		Status:   http.StatusGatewayTimeout,
	},

	// ============================================
	// Request Errors (E203, E206)
	// ============================================

	"E203": {
		Category: CategoryRequest,
		Message:  "Cannot infer platform",
		Detail:   "Pass the platform as a query parameter (?platform=ios) or as the first path segment (/ios/index.bundle).",
		Status:   http.StatusBadRequest,
	},
	"E206": {
		Category: CategoryRequest,
		Message:  "Request forwarding failed",
		Detail:   "The platform worker could not be reached.",
	},

	// ============================================
	// Protocol Errors (E204)
	// ============================================

	"E204": {
		Category: CategoryProtocol,
		Message:  "Protocol violation",
		Detail:   "A WebSocket message was malformed, used the wrong protocol version or targeted an unknown client.",
		Status:   http.StatusBadRequest,
	},

	// ============================================
	// Symbolication Errors (E205)
	// ============================================

	"E205": {
		Category: CategorySymbolication,
		Message:  "Symbolication failed",
		Detail:   "A source map or source file could not be loaded.",
	},
}

// GetAllCodes returns all registered error codes.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}
