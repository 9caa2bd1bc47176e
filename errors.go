// Package fabricemu provides the main API for running a timeslot-accurate
// packet-network emulation.
package fabricemu

import (
	"errors"
	"fmt"
)

// Code is the coarse error category spec.md §7 defines. Only
// CodeConfigError and CodeInvariantViolation are ever returned as Go error
// values that abort construction or execution; the other three are always
// folded into Stats counters and Dropped edges, never surfaced to the
// allocator as a Go error.
type Code string

const (
	CodeResourceExhaustion Code = "resource exhaustion"
	CodePolicyDrop         Code = "policy drop"
	CodeDemandDrop         Code = "demand drop"
	CodeConfigError        Code = "config error"
	CodeInvariantViolation Code = "invariant violation"
)

// Error is a structured emulation error: CoreIndex/RouterID replace the
// teacher's DevID/Queue as the context fields appropriate to this domain.
type Error struct {
	Op        string // Operation that failed (e.g. "NewEmulation", "Mempool.Get")
	CoreIndex int    // -1 if not applicable
	RouterID  int    // -1 if not applicable
	Code      Code
	Msg       string
	Inner     error
}

func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.CoreIndex >= 0 {
		parts = append(parts, fmt.Sprintf("core=%d", e.CoreIndex))
	}
	if e.RouterID >= 0 {
		parts = append(parts, fmt.Sprintf("router=%d", e.RouterID))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("fabricemu: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("fabricemu: %s", msg)
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// NewError creates a structured error with no core/router context.
func NewError(op string, code Code, msg string) *Error {
	return &Error{Op: op, CoreIndex: -1, RouterID: -1, Code: code, Msg: msg}
}

// NewCoreError creates an error attributed to one emulation core.
func NewCoreError(op string, coreIndex int, code Code, msg string) *Error {
	return &Error{Op: op, CoreIndex: coreIndex, RouterID: -1, Code: code, Msg: msg}
}

// NewRouterError creates an error attributed to one router instance.
func NewRouterError(op string, routerID int, code Code, msg string) *Error {
	return &Error{Op: op, CoreIndex: -1, RouterID: routerID, Code: code, Msg: msg}
}

// WrapError wraps an existing error with fabricemu context, preserving any
// inner *Error's classification and context fields.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if fe, ok := inner.(*Error); ok {
		return &Error{
			Op:        op,
			CoreIndex: fe.CoreIndex,
			RouterID:  fe.RouterID,
			Code:      fe.Code,
			Msg:       fe.Msg,
			Inner:     fe.Inner,
		}
	}
	return &Error{
		Op:        op,
		CoreIndex: -1,
		RouterID:  -1,
		Code:      CodeInvariantViolation,
		Msg:       inner.Error(),
		Inner:     inner,
	}
}

// IsCode reports whether err is (or wraps) a *Error with the given code.
func IsCode(err error, code Code) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}
