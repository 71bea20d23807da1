// Copyright 2026 The Cypherock Protocols Authors.
// SPDX-License-Identifier: Apache-2.0
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

package flow

import "fmt"

// Status is the terminal state of a flow run.
type Status int

const (
	// Failed means a real error stopped the flow.
	Failed Status = iota
	// Completed means the device protocol ran to its normal end.
	Completed
	// ExitedEarly means the flow stopped on an expected outcome, such as a
	// user rejection or a missing wallet, after publishing the event that
	// explains it.
	ExitedEarly
)

// String returns the status name
func (s Status) String() string {
	switch s {
	case Completed:
		return "completed"
	case ExitedEarly:
		return "exited early"
	default:
		return "failed"
	}
}

// ExitReason says why a flow exited early. ExitNone means keep going.
type ExitReason int

const (
	ExitNone ExitReason = iota
	ExitRejected
	ExitNoWallet
	ExitLocked
	ExitNotVerified
	ExitCardError
	ExitNoWalletOnCard
	ExitPinRejected
	ExitPassphraseRejected
	ExitTxnTooLarge
	ExitLoggingDisabled
	ExitDuplicate
	ExitCancelled
	ExitUnsupportedSDK
	ExitDeviceGone
)

var exitReasonNames = map[ExitReason]string{
	ExitNone:               "none",
	ExitRejected:           "rejected",
	ExitNoWallet:           "no wallet",
	ExitLocked:             "locked",
	ExitNotVerified:        "not verified",
	ExitCardError:          "card error",
	ExitNoWalletOnCard:     "no wallet on card",
	ExitPinRejected:        "pin rejected",
	ExitPassphraseRejected: "passphrase rejected",
	ExitTxnTooLarge:        "transaction too large",
	ExitLoggingDisabled:    "logging disabled",
	ExitDuplicate:          "duplicate",
	ExitCancelled:          "cancelled",
	ExitUnsupportedSDK:     "unsupported sdk",
	ExitDeviceGone:         "device gone",
}

// String returns the reason name
func (r ExitReason) String() string {
	if name, ok := exitReasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("exit(%d)", int(r))
}

// Result is what Run returns. Err is set only when Status is Failed; Reason
// only when Status is ExitedEarly.
type Result struct {
	Err         error
	Status      Status
	Reason      ExitReason
	Interrupted bool
}

// OK reports whether the flow completed normally.
func (r Result) OK() bool {
	return r.Status == Completed
}

func (r Result) String() string {
	switch r.Status {
	case ExitedEarly:
		return fmt.Sprintf("exited early: %s", r.Reason)
	case Failed:
		return fmt.Sprintf("failed: %v", r.Err)
	default:
		return r.Status.String()
	}
}

// step is one unit of a flow. It returns a non-none reason to stop early.
type step func() (ExitReason, error)

// chain runs steps in order and stops at the first early exit or error.
func chain(steps ...step) (ExitReason, error) {
	for _, st := range steps {
		if reason, err := st(); err != nil || reason != ExitNone {
			return reason, err
		}
	}
	return ExitNone, nil
}
