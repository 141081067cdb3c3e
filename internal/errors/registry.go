package errors

import (
	"sort"
	"sync"
)

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
	DocURL     string
}

// Error codes used across the command line and dev server.
const (
	CodeConfigNotFound   = "E120"
	CodeConfigInvalid    = "E121"
	CodeConfigParse      = "E122"
	CodeConfigEnv        = "E123"
	CodeAddrPortInvalid  = "E200"
	CodePortInvalid      = "E201"
	CodeIPv6Invalid      = "E202"
	CodeIPv6Unsupported  = "E203"
	CodeBindPermission   = "E210"
	CodeBindInUse        = "E211"
	CodeBindNotAvailable = "E212"
	CodeBindFailed       = "E213"
	CodePluginSkipped    = "E230"
	CodeNameCollision    = "E231"
	CodeNoFunctions      = "E232"
)

var (
	registryMu sync.RWMutex
	registry   = map[string]ErrorTemplate{
		// Configuration (E120-E199)
		CodeConfigNotFound: {
			Category:   CategoryConfig,
			Message:    "No mushroom.json or mushroom.yaml found",
			Detail:     "The project root is found by walking up from the working directory until a config file is found.",
			Suggestion: "Run the command from your project directory, or pass --config.",
		},
		CodeConfigInvalid: {
			Category: CategoryConfig,
			Message:  "Invalid configuration",
		},
		CodeConfigParse: {
			Category:   CategoryConfig,
			Message:    "Could not parse the configuration file",
			Suggestion: "Check the file for syntax errors.",
		},
		CodeConfigEnv: {
			Category:   CategoryConfig,
			Message:    "Invalid environment override",
			Detail:     "A MUSHROOM_* environment variable could not be parsed.",
			Suggestion: "Unset the variable or fix its value.",
		},

		// Address and port (E200-E209)
		CodeAddrPortInvalid: {
			Category: CategoryAddress,
			Message:  "Address is not a valid ipv6 address, ipv4 address, or FQDN",
			Detail:   "The address must be a port, an address and port, or an IPv6 address in brackets with a port.",
		},
		CodePortInvalid: {
			Category: CategoryAddress,
			Message:  "Port is not a number",
		},
		CodeIPv6Invalid: {
			Category: CategoryAddress,
			Message:  "Address is not a valid IPv6 address",
		},
		CodeIPv6Unsupported: {
			Category: CategoryAddress,
			Message:  "Your Go runtime does not support IPv6",
		},

		// Listener bind (E210-E229)
		CodeBindPermission: {
			Category:   CategoryBind,
			Message:    "You don't have permission to access that port.",
			Suggestion: "Use a port above 1024, or run with the required privileges.",
		},
		CodeBindInUse: {
			Category:   CategoryBind,
			Message:    "That port is already in use.",
			Suggestion: "Stop the other process or choose another port.",
		},
		CodeBindNotAvailable: {
			Category:   CategoryBind,
			Message:    "That IP address can't be assigned-to.",
			Suggestion: "Use an address that belongs to this machine, such as 127.0.0.1.",
		},
		CodeBindFailed: {
			Category: CategoryBind,
			Message:  "Could not start the listener",
		},

		// Plugins (E230-E249)
		CodePluginSkipped: {
			Category:   CategoryPlugin,
			Message:    "Installed app was skipped",
			Detail:     "The app is listed in installedApps but its mushroom module is not registered or failed to load.",
			Suggestion: "Add a blank import of the plugin package to your main package.",
		},
		CodeNameCollision: {
			Category:   CategoryPlugin,
			Message:    "Two functions were registered under the same name",
			Suggestion: "Rename one of the functions, or set mushroom.collisions to \"last-write-wins\".",
		},
		CodeNoFunctions: {
			Category: CategoryPlugin,
			Message:  "No mushroom functions were discovered",
			Detail:   "The server will start, but clients cannot call anything.",
		},
	}
)

// GetAllCodes returns all registered error codes, sorted.
func GetAllCodes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	t, ok := registry[code]
	return t, ok
}

// Register adds or replaces an error template.
func Register(code string, template ErrorTemplate) {
	registryMu.Lock()
	registry[code] = template
	registryMu.Unlock()
}
