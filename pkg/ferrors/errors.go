// Package ferrors provides the classified error taxonomy shared across the
// execution core: config loading, template resolution, graph construction,
// plugin dispatch, and task scheduling all report through a single
// CoreError type so callers can classify and retry consistently.
package ferrors

import (
	"errors"
	"fmt"
)

// Kind names one of the eight error classes the execution core reports.
type Kind string

const (
	// KindConfig covers malformed YAML, unknown kind discriminators, schema
	// violations, name collisions, and unknown dependency references.
	KindConfig Kind = "ConfigError"

	// KindTemplate covers unresolved keys, circular template references,
	// and non-primitive resolution results.
	KindTemplate Kind = "TemplateError"

	// KindParameter covers callers supplying an unknown module/service/task
	// name.
	KindParameter Kind = "ParameterError"

	// KindNoHandler covers a requested action with no registered plugin
	// handler and no supplied default.
	KindNoHandler Kind = "NoHandlerError"

	// KindPlugin covers plugin factory failures, descriptor schema
	// rejection, and handler output schema failures.
	KindPlugin Kind = "PluginError"

	// KindTask covers a task body raising during scheduling.
	KindTask Kind = "TaskError"

	// KindTimeout covers a task exceeding its own declared timeout.
	KindTimeout Kind = "TimeoutError"

	// KindRuntime covers unmet host prerequisites: unsupported OS/arch,
	// missing external tool.
	KindRuntime Kind = "RuntimeError"
)

// CoreError is the classified error type returned by every execution-core
// component. It carries enough context to render a fully-qualified key path
// for config/template failures and to drive scheduler retry decisions.
type CoreError struct {
	// Kind classifies the error for handling and propagation.
	Kind Kind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Path is the fully-qualified dotted key path that failed, for
	// ConfigError/TemplateError.
	Path string `json:"path,omitempty"`

	// Resource names the module/service/task/provider involved.
	Resource string `json:"resource,omitempty"`

	// Operation names the action or phase in progress.
	Operation string `json:"operation,omitempty"`

	// Err is the wrapped underlying error, if any.
	Err error `json:"-"`

	// Details carries additional structured context (e.g. cycle path,
	// task result snapshot).
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface, rendering the kind as a short
// prefix followed by the offending path when present.
func (e *CoreError) Error() string {
	prefix := string(e.Kind)
	switch {
	case e.Path != "" && e.Resource != "":
		return fmt.Sprintf("%s: %s (path=%s, resource=%s)%s", prefix, e.Message, e.Path, e.Resource, e.unwrapSuffix())
	case e.Path != "":
		return fmt.Sprintf("%s: %s (path=%s)%s", prefix, e.Message, e.Path, e.unwrapSuffix())
	case e.Resource != "":
		return fmt.Sprintf("%s: %s (resource=%s)%s", prefix, e.Message, e.Resource, e.unwrapSuffix())
	default:
		return fmt.Sprintf("%s: %s%s", prefix, e.Message, e.unwrapSuffix())
	}
}

func (e *CoreError) unwrapSuffix() string {
	if e.Err == nil {
		return ""
	}
	return ": " + e.Err.Error()
}

// Unwrap exposes the wrapped error for errors.Is/errors.As chains.
func (e *CoreError) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is, comparing only Kind.
func (e *CoreError) Is(target error) bool {
	t, ok := target.(*CoreError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithPath attaches the fully-qualified key path that failed.
func (e *CoreError) WithPath(path string) *CoreError {
	e.Path = path
	return e
}

// WithResource attaches the resource name involved.
func (e *CoreError) WithResource(resource string) *CoreError {
	e.Resource = resource
	return e
}

// WithOperation attaches the operation in progress.
func (e *CoreError) WithOperation(op string) *CoreError {
	e.Operation = op
	return e
}

// WithDetail attaches a structured detail field, initializing Details on
// first use.
func (e *CoreError) WithDetail(key string, value interface{}) *CoreError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(kind Kind, message string, err error) *CoreError {
	return &CoreError{Kind: kind, Message: message, Err: err}
}

// NewConfigError constructs a ConfigError.
func NewConfigError(message string, err error) *CoreError { return newError(KindConfig, message, err) }

// NewTemplateError constructs a TemplateError.
func NewTemplateError(message string, err error) *CoreError {
	return newError(KindTemplate, message, err)
}

// NewParameterError constructs a ParameterError.
func NewParameterError(message string, err error) *CoreError {
	return newError(KindParameter, message, err)
}

// NewNoHandlerError constructs a NoHandlerError.
func NewNoHandlerError(message string, err error) *CoreError {
	return newError(KindNoHandler, message, err)
}

// NewPluginError constructs a PluginError.
func NewPluginError(message string, err error) *CoreError { return newError(KindPlugin, message, err) }

// NewTaskError constructs a TaskError.
func NewTaskError(message string, err error) *CoreError { return newError(KindTask, message, err) }

// NewTimeoutError constructs a TimeoutError.
func NewTimeoutError(message string, err error) *CoreError {
	return newError(KindTimeout, message, err)
}

// NewRuntimeError constructs a RuntimeError.
func NewRuntimeError(message string, err error) *CoreError {
	return newError(KindRuntime, message, err)
}

func is(err error, kind Kind) bool {
	var e *CoreError
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool { return is(err, KindConfig) }

// IsTemplateError reports whether err is (or wraps) a TemplateError.
func IsTemplateError(err error) bool { return is(err, KindTemplate) }

// IsParameterError reports whether err is (or wraps) a ParameterError.
func IsParameterError(err error) bool { return is(err, KindParameter) }

// IsNoHandlerError reports whether err is (or wraps) a NoHandlerError.
func IsNoHandlerError(err error) bool { return is(err, KindNoHandler) }

// IsPluginError reports whether err is (or wraps) a PluginError.
func IsPluginError(err error) bool { return is(err, KindPlugin) }

// IsTaskError reports whether err is (or wraps) a TaskError.
func IsTaskError(err error) bool { return is(err, KindTask) }

// IsTimeoutError reports whether err is (or wraps) a TimeoutError.
func IsTimeoutError(err error) bool { return is(err, KindTimeout) }

// IsRuntimeError reports whether err is (or wraps) a RuntimeError.
func IsRuntimeError(err error) bool { return is(err, KindRuntime) }

// IsRetryable reports whether the scheduler should consider retrying the
// task that produced err. Only timeouts are retryable; every other kind,
// including configuration, template, plugin, and runtime errors, is not.
func IsRetryable(err error) bool {
	return IsTimeoutError(err)
}

// StartupAborting reports whether err is one of the four kinds that abort
// process initialisation (ConfigError,
// TemplateError, ParameterError, PluginError).
func StartupAborting(err error) bool {
	return IsConfigError(err) || IsTemplateError(err) || IsParameterError(err) || IsPluginError(err)
}
