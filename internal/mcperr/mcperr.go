// Package mcperr defines the stable, typed error kinds the broker surfaces
// across its subsystems so callers can classify failures with errors.As
// instead of matching on strings.
package mcperr

import "fmt"

// Code is a stable error classification shared across the broker.
type Code string

// Error kinds from spec section 7.
const (
	CodeConfigNotFound         Code = "config_not_found"
	CodeConfigParse            Code = "config_parse"
	CodeConfigValidation       Code = "config_validation"
	CodeUnknownSchemaVersion   Code = "unknown_schema_version"
	CodeUpstreamDialFailed     Code = "upstream_dial_failed"
	CodeUpstreamToolListFailed Code = "upstream_tool_list_failed"
	CodeUpstreamCallFailed     Code = "upstream_call_failed"
	CodePolicyBlocked          Code = "policy_blocked"
	CodePolicyConfirmRequired  Code = "policy_confirmation_required"
	CodeTokenStoreIO           Code = "token_store_io"
	CodeOAuthCallbackTimeout   Code = "oauth_callback_timeout"
	CodeOAuthStateMismatch     Code = "oauth_state_mismatch"
	CodeIndexStoreIO           Code = "index_store_io"
	CodeIndexSchemaMismatch    Code = "index_schema_mismatch"
	CodeIpcUnauthorized        Code = "ipc_unauthorized"
	CodeIpcFrameTooLarge       Code = "ipc_frame_too_large"
	CodeIpcPeerGone            Code = "ipc_peer_gone"
	CodeMonitorCommandUnknown  Code = "monitor_command_unknown"
	CodeInstanceRegistryStale  Code = "instance_registry_stale"
)

// DialSubkind further classifies CodeUpstreamDialFailed.
type DialSubkind string

// Dial failure subkinds from spec section 4.4 / 7.
const (
	DialExecutableNotFound  DialSubkind = "executable_not_found"
	DialChildExited         DialSubkind = "child_exited"
	DialHandshakeTimeout    DialSubkind = "handshake_timeout"
	DialNetworkUnreachable  DialSubkind = "network_unreachable"
	DialTLS                 DialSubkind = "tls"
	DialUnauthorized        DialSubkind = "unauthorized"
)

// Error is the typed, stable-code error record returned across subsystem
// boundaries. It wraps an optional underlying cause and, for dial failures,
// carries a DialSubkind.
type Error struct {
	Code    Code
	Subkind DialSubkind
	Msg     string
	Err     error
}

func (e *Error) Error() string {
	if e.Subkind != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s (%s): %s: %v", e.Code, e.Subkind, e.Msg, e.Err)
		}
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Subkind, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Unwrap allows errors.Is/errors.As to traverse into the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is compares by Code (and Subkind, when both sides set one), so
// errors.Is(err, &Error{Code: CodeUpstreamDialFailed}) matches any dial
// failure regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	if t.Subkind != "" && t.Subkind != e.Subkind {
		return false
	}
	return true
}

// New builds a plain typed error with no cause.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Wrap builds a typed error wrapping an underlying cause.
func Wrap(code Code, msg string, err error) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// WrapDial builds a typed upstream dial failure with a subkind.
func WrapDial(subkind DialSubkind, msg string, err error) *Error {
	return &Error{Code: CodeUpstreamDialFailed, Subkind: subkind, Msg: msg, Err: err}
}
