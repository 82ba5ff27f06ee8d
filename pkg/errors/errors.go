// Copyright 2024 The Tessera authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errors defines the closed set of error kinds surfaced by the
// core's subsystems, each with a stable code so that callers (and the
// transaction service's wire responses) can switch on cause rather than
// on message text.
package errors

import "fmt"

// Kind identifies which subsystem raised an Error.
type Kind string

const (
	// Type inference.
	LabelNotResolved             Kind = "LABEL_NOT_RESOLVED"
	DetectedUnsatisfiablePattern Kind = "DETECTED_UNSATISFIABLE_PATTERN"

	// Pattern IR builder misuse.
	Representation Kind = "REPRESENTATION"

	// Schema/type manager.
	ConceptRead  Kind = "CONCEPT_READ"
	ConceptWrite Kind = "CONCEPT_WRITE"

	// Storage commit failures.
	Isolation    Kind = "ISOLATION"
	DurableWrite Kind = "DURABLE_WRITE"
	MVCCRead     Kind = "MVCC_READ"

	// Executor.
	QueryFailed       Kind = "QUERY_FAILED"
	PipelineExecution Kind = "PIPELINE_EXECUTION"

	// Cooperative cancellation.
	QueryInterrupted   Kind = "QUERY_INTERRUPTED"
	TransactionTimeout Kind = "TRANSACTION_TIMEOUT"

	// Illegal transaction-service state transitions.
	SchemaQueryRequiresSchemaTransaction       Kind = "SCHEMA_QUERY_REQUIRES_SCHEMA_TRANSACTION"
	WriteQueryRequiresSchemaOrWriteTransaction Kind = "WRITE_QUERY_REQUIRES_SCHEMA_OR_WRITE_TRANSACTION"
	CannotCommitReadTransaction                Kind = "CANNOT_COMMIT_READ_TRANSACTION"
	CannotRollbackReadTransaction              Kind = "CANNOT_ROLLBACK_READ_TRANSACTION"

	// Bounded result policy.
	WriteResultsLimitExceeded Kind = "WRITE_RESULTS_LIMIT_EXCEEDED"
	ReadResultsLimitExceeded  Kind = "READ_RESULTS_LIMIT_EXCEEDED"

	// Log store.
	WALCreate     Kind = "WAL_CREATE"
	WALLoad       Kind = "WAL_LOAD"
	Compression   Kind = "COMPRESSION"
	Decompression Kind = "DECOMPRESSION"
	Sync          Kind = "SYNC"
)

// Error is the concrete error type returned across subsystem boundaries.
// It carries a Kind (for programmatic dispatch), a human message, and an
// optional wrapped cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, New(SomeKind, "")) to match on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// Sentinel returns a bare Error value suitable for use with errors.Is, e.g.
// errors.Is(err, errs.Sentinel(errs.Isolation)).
func Sentinel(kind Kind) *Error { return &Error{Kind: kind} }

// InterruptCause tags why a running query was cancelled.
type InterruptCause string

const (
	CauseWriteQueryExecution   InterruptCause = "WriteQueryExecution"
	CauseSchemaQueryExecution  InterruptCause = "SchemaQueryExecution"
	CauseTransactionCommitted  InterruptCause = "TransactionCommitted"
	CauseTransactionRolledback InterruptCause = "TransactionRolledback"
	CauseTransactionClosed     InterruptCause = "TransactionClosed"
)

// QueryInterruptedError is the concrete error returned to a query cancelled
// mid-flight; it carries the InterruptCause so callers can distinguish a
// benign scheduler preemption from a client-initiated abort.
type QueryInterruptedError struct {
	Cause InterruptCause
}

func (e *QueryInterruptedError) Error() string {
	return fmt.Sprintf("%s: query interrupted: %s", QueryInterrupted, e.Cause)
}

// Is matches any *QueryInterruptedError against errors.Is(err, &QueryInterruptedError{}),
// and a specific cause against errors.Is(err, &QueryInterruptedError{Cause: c}).
func (e *QueryInterruptedError) Is(target error) bool {
	t, ok := target.(*QueryInterruptedError)
	if !ok {
		return false
	}
	return t.Cause == "" || t.Cause == e.Cause
}
