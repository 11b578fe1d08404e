// errors.go: structured error definitions for the bot plugin host
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package bothost

import (
	"github.com/agilira/go-errors"
)

// Error codes for the bot plugin host
const (
	// Configuration errors (1000-1099)
	ErrCodeInvalidConfig     = "HOST_1001"
	ErrCodeConfigParseError  = "HOST_1002"
	ErrCodeConfigFileError   = "HOST_1003"
	ErrCodeConfigWatchError  = "HOST_1004"
	ErrCodeMissingPluginsDir = "HOST_1005"

	// Plugin lifecycle errors (1100-1199)
	ErrCodePluginNotFound        = "PLUGIN_1101"
	ErrCodePluginInvalid         = "PLUGIN_1102"
	ErrCodePluginLoadFailed      = "PLUGIN_1103"
	ErrCodePluginDependency      = "PLUGIN_1104"
	ErrCodePluginTimeout         = "PLUGIN_1105"
	ErrCodePluginExecutionFailed = "PLUGIN_1106"
	ErrCodePluginClosed          = "PLUGIN_1107"

	// State store errors (1200-1299)
	ErrCodeIntegrityViolation = "STATE_1201"
	ErrCodeStateAccessDenied  = "STATE_1202"

	// Gateway errors (1300-1399)
	ErrCodeGatewayRequestFailed = "GATEWAY_1301"
	ErrCodeGatewayBadResponse   = "GATEWAY_1302"

	// Dispatch errors (1400-1499)
	ErrCodeDispatchFailed = "DISPATCH_1401"
	ErrCodeEventRejected  = "DISPATCH_1402"
)

// Configuration error constructors

func NewInvalidConfigError(field, reason string) *errors.Error {
	return errors.New(ErrCodeInvalidConfig, "Invalid host configuration").
		WithUserMessage("The host configuration contains an invalid value").
		WithContext("field", field).
		WithContext("reason", reason).
		WithSeverity("error")
}

func NewConfigParseError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeConfigParseError, "Failed to parse configuration file").
		WithUserMessage("The configuration file could not be parsed").
		WithContext("path", path).
		WithSeverity("error")
}

func NewConfigFileError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeConfigFileError, "Failed to read configuration file").
		WithUserMessage("The configuration file could not be read").
		WithContext("path", path).
		WithSeverity("error")
}

// Plugin lifecycle error constructors

func NewPluginNotFoundError(name string) *errors.Error {
	return errors.New(ErrCodePluginNotFound, "Plugin not found").
		WithUserMessage("No plugin is registered under the requested name").
		WithContext("plugin_name", name).
		WithSeverity("error")
}

// NewPluginInvalidError marks a plugin candidate that does not expose the
// required handle_event entry point. Such candidates are rejected at load
// and never partially registered.
func NewPluginInvalidError(name, reason string) *errors.Error {
	return errors.New(ErrCodePluginInvalid, "Incompatible plugin candidate").
		WithUserMessage("Plugin does not satisfy the required handler contract").
		WithContext("plugin_name", name).
		WithContext("reason", reason).
		WithSeverity("error")
}

func NewPluginLoadError(name string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodePluginLoadFailed, "Plugin load failed").
		WithUserMessage("The plugin source could not be loaded").
		WithContext("plugin_name", name).
		WithSeverity("error")
}

func NewPluginDependencyError(name, module string) *errors.Error {
	return errors.New(ErrCodePluginDependency, "Plugin dependency installation failed").
		WithUserMessage("A module required by the plugin could not be installed").
		WithContext("plugin_name", name).
		WithContext("module", module).
		WithSeverity("error")
}

func NewPluginTimeoutError(name string) *errors.Error {
	return errors.New(ErrCodePluginTimeout, "Plugin handler timed out").
		WithUserMessage("The plugin did not finish handling the event within its budget").
		WithContext("plugin_name", name).
		WithSeverity("warning")
}

func NewPluginExecutionError(name string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodePluginExecutionFailed, "Plugin handler failed").
		WithUserMessage("The plugin raised an error while handling an event").
		WithContext("plugin_name", name).
		WithSeverity("error")
}

func NewPluginClosedError(name string) *errors.Error {
	return errors.New(ErrCodePluginClosed, "Plugin is closed").
		WithUserMessage("The plugin has been unloaded and can no longer handle events").
		WithContext("plugin_name", name).
		WithSeverity("error")
}

// State store error constructors

// NewIntegrityViolationError reports a state value whose recomputed hash no
// longer matches the hash stored at write time. The condition is raised,
// never silently repaired.
func NewIntegrityViolationError(key string) *errors.Error {
	return errors.New(ErrCodeIntegrityViolation, "State value integrity violation").
		WithUserMessage("A stored value was mutated outside the state store setters").
		WithContext("key", key).
		WithSeverity("critical")
}

// Gateway error constructors

func NewGatewayRequestError(action string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeGatewayRequestFailed, "Gateway request failed").
		WithUserMessage("The outbound gateway call did not complete").
		WithContext("action", action).
		WithSeverity("error")
}

func NewGatewayBadResponseError(action string, statusCode int) *errors.Error {
	return errors.New(ErrCodeGatewayBadResponse, "Gateway returned an unexpected response").
		WithUserMessage("The gateway answered with a non-success status").
		WithContext("action", action).
		WithContext("status_code", statusCode).
		WithSeverity("error")
}
