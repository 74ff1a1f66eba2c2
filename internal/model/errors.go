package model

import (
	"encoding/json"
	"errors"
	"time"
)

// FailureKind classifies user-visible failures.
type FailureKind string

const (
	FailurePlanning     FailureKind = "planning"
	FailureText         FailureKind = "text_generation"
	FailureImage        FailureKind = "image_generation"
	FailureRegeneration FailureKind = "regeneration"
	FailurePersistence  FailureKind = "persistence"
)

// ErrRateLimited marks a transient quota/rate-limit error. It never leaves
// the gateway on its own: exhausted retries are wrapped in a Failure.
var ErrRateLimited = errors.New("rate limited")

// Failure wraps an error with its kind and the operation that produced it.
type Failure struct {
	Kind FailureKind
	Op   string
	Err  error
}

// NewFailure builds a Failure.
func NewFailure(kind FailureKind, op string, err error) *Failure {
	return &Failure{Kind: kind, Op: op, Err: err}
}

func (f *Failure) Error() string {
	msg := string(f.Kind)
	if f.Op != "" {
		msg += " (" + f.Op + ")"
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Err }

// Is matches another *Failure of the same kind, so callers can write
// errors.Is(err, &model.Failure{Kind: model.FailurePlanning}).
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	return ok && t.Kind == f.Kind && (t.Op == "" || t.Op == f.Op)
}

// KindOf returns the failure kind carried by err, if any.
func KindOf(err error) (FailureKind, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return "", false
}

// ErrorInfo holds the structured failure shown for a unit.
type ErrorInfo struct {
	Unit     UnitKey     `json:"unit"`
	Kind     FailureKind `json:"kind,omitempty"`
	Message  string      `json:"message"`
	FailedAt string      `json:"failed_at"`
}

// NewErrorInfo describes err for unit.
func NewErrorInfo(unit UnitKey, err error) ErrorInfo {
	kind, _ := KindOf(err)
	return ErrorInfo{
		Unit:     unit,
		Kind:     kind,
		Message:  err.Error(),
		FailedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// ToJSON serializes ErrorInfo to a JSON string.
func (e ErrorInfo) ToJSON() string {
	b, _ := json.Marshal(e)
	return string(b)
}
