// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package scheme

import "time"

// Mutation outcomes reported to a Recorder.
const (
	OutcomeOK                = "ok"
	OutcomeInvalid           = "invalid"
	OutcomeAlreadyRegistered = "already_registered"
	OutcomeFinalizeFailed    = "finalize_failed"
	OutcomeSuperseded        = "superseded"
	OutcomeCanceled          = "canceled"
	OutcomeClosed            = "closed"
	OutcomeNoop              = "noop"
)

// Recorder observes registry activity. Implementations must be safe for
// concurrent use and must not block.
type Recorder interface {
	// ObserveMutation is called once per Register, Replace or Remove.
	ObserveMutation(op, outcome string, elapsed time.Duration)

	// ObserveLookup is called once per Resolve.
	ObserveLookup(hit bool)

	// SetEntries reports the number of live entries.
	SetEntries(n int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveMutation(string, string, time.Duration) {}
func (nopRecorder) ObserveLookup(bool)                            {}
func (nopRecorder) SetEntries(int)                                {}
