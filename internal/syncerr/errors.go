package syncerr

import (
	"errors"
	"fmt"
)

// Kind classifies a sync failure.
type Kind string

const (
	KindConfig      Kind = "config"
	KindTransport   Kind = "transport"
	KindDecode      Kind = "decode"
	KindStorage     Kind = "storage"
	KindConsistency Kind = "consistency"
	KindManifest    Kind = "manifest"
)

// Error is a classified error. Op names the failing operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s error: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Config(op string, err error) error { return newError(KindConfig, op, err) }
func Transport(op string, err error) error { return newError(KindTransport, op, err) }
func Decode(op string, err error) error { return newError(KindDecode, op, err) }
func Storage(op string, err error) error { return newError(KindStorage, op, err) }
func Consistency(op string, err error) error { return newError(KindConsistency, op, err) }
func Manifest(op string, err error) error { return newError(KindManifest, op, err) }

// Configf builds a config error from a format string.
func Configf(format string, args ...interface{}) error {
	return Config(fmt.Sprintf(format, args...), nil)
}

// Consistencyf builds a consistency error from a format string.
func Consistencyf(format string, args ...interface{}) error {
	return Consistency(fmt.Sprintf(format, args...), nil)
}

// KindOf returns the kind of the outermost classified error in the chain.
func KindOf(err error) (Kind, bool) {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind, true
	}
	return "", false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	got, ok := KindOf(err)
	return ok && got == kind
}

// Stage names an engine stage.
type Stage string

const (
	StageBootstrap Stage = "bootstrap"
	StageWindow    Stage = "window"
	StageEvents    Stage = "events"
	StageTokens    Stage = "tokens"
	StageApply     Stage = "apply"
	StageReport    Stage = "report"
	StageManifest  Stage = "manifest"
	StageSetup     Stage = "setup"
)

// StageError is returned by the engine when a run ends in Failed(stage).
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// AtStage wraps err with the stage it failed in.
func AtStage(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// StageOf returns the stage recorded on err, if any.
func StageOf(err error) (Stage, bool) {
	var staged *StageError
	if errors.As(err, &staged) {
		return staged.Stage, true
	}
	return "", false
}
