// Package pluginrpc hosts provider plugins that live outside the process:
// a plugin registered by module path is launched as a subprocess and spoken
// to over newline-delimited JSON on stdin/stdout. The wire protocol is a
// strict request/response exchange: the plugin announces itself with a
// HELLO carrying its descriptor, the host sends INVOKE messages for action
// calls, and the plugin answers each with RESULT or ERROR correlated by id.
package pluginrpc

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProtocolVersion is bumped on incompatible wire changes; the host rejects
// a HELLO carrying a different version.
const ProtocolVersion = 1

// MessageType discriminates the frames on the wire.
type MessageType string

const (
	// MessageTypeHello is sent once by the plugin on startup.
	MessageTypeHello MessageType = "HELLO"
	// MessageTypeInvoke is sent by the host to call an action handler.
	MessageTypeInvoke MessageType = "INVOKE"
	// MessageTypeResult answers an INVOKE that succeeded.
	MessageTypeResult MessageType = "RESULT"
	// MessageTypeError answers an INVOKE that failed.
	MessageTypeError MessageType = "ERROR"
	// MessageTypeShutdown asks the plugin to exit cleanly.
	MessageTypeShutdown MessageType = "SHUTDOWN"
)

// Validate rejects unknown message types before any payload is decoded.
func (mt MessageType) Validate() error {
	switch mt {
	case MessageTypeHello, MessageTypeInvoke, MessageTypeResult, MessageTypeError, MessageTypeShutdown:
		return nil
	default:
		return fmt.Errorf("unknown message type %q", string(mt))
	}
}

// Message is the envelope every frame travels in.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"ts"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// HelloMessage is the plugin's self-description, sent exactly once before
// any INVOKE is answered.
type HelloMessage struct {
	ProtocolVersion int    `json:"protocolVersion"`
	PluginName      string `json:"pluginName"`
	PluginVersion   string `json:"pluginVersion,omitempty"`

	// Actions lists plugin-level action types the plugin handles.
	Actions []string `json:"actions,omitempty"`

	// ModuleActions maps module type to the action types handled for it.
	ModuleActions map[string][]string `json:"moduleActions,omitempty"`

	// ConfigSchema optionally constrains the provider's merged config.
	ConfigSchema string `json:"configSchema,omitempty"`

	// Dependencies names other providers this plugin requires.
	Dependencies []string `json:"dependencies,omitempty"`
}

// Validate checks the HELLO is well-formed and speaks our protocol.
func (h *HelloMessage) Validate() error {
	if h.ProtocolVersion != ProtocolVersion {
		return fmt.Errorf("plugin speaks protocol %d, host requires %d", h.ProtocolVersion, ProtocolVersion)
	}
	if h.PluginName == "" {
		return fmt.Errorf("plugin name is required")
	}
	return nil
}

// InvokeMessage is one action call. ID correlates the eventual RESULT or
// ERROR; ModuleType is empty for plugin-level actions.
type InvokeMessage struct {
	ID         string          `json:"id"`
	Action     string          `json:"action"`
	ModuleType string          `json:"moduleType,omitempty"`
	Params     json.RawMessage `json:"params,omitempty"`
}

// Validate rejects invokes the plugin could not correlate or route.
func (m *InvokeMessage) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("invoke id is required")
	}
	if m.Action == "" {
		return fmt.Errorf("invoke action is required")
	}
	return nil
}

// ResultMessage answers a successful INVOKE.
type ResultMessage struct {
	ID     string          `json:"id"`
	Output json.RawMessage `json:"output,omitempty"`
}

// ErrorMessage answers a failed INVOKE, or reports a fatal plugin error
// when ID is empty.
type ErrorMessage struct {
	ID      string `json:"id,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ShutdownMessage asks the plugin to exit; Reason is informational.
type ShutdownMessage struct {
	Reason string `json:"reason,omitempty"`
}

// ParseData decodes a Message's payload into target.
func ParseData(data json.RawMessage, target interface{}) error {
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decoding message data: %w", err)
	}
	return nil
}
