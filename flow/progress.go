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

import (
	"slices"

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
	"github.com/Cypherock/cysync-module-protocols-sub000/coin"
)

// Milestone states. A milestone moves unseen -> crossed when the device
// passes its threshold, then crossed -> emitted when its event is published.
const (
	milestoneUnseen = iota
	milestoneCrossed
	milestoneEmitted
)

// progressTracker publishes each milestone at most once per run, whether the
// milestone is read from sequenced status snapshots or inferred from which
// legacy command arrived.
type progressTracker struct {
	s          *session
	state      map[coin.Stage]int
	thresholds []coin.Threshold
	leg        Leg
}

// newProgressTracker tracks set minus the skipped stages, which do not apply
// to this run (a wallet without a PIN never reports pinEntered).
func newProgressTracker(s *session, set []coin.Threshold, leg Leg, skip ...coin.Stage) *progressTracker {
	p := &progressTracker{
		s:     s,
		leg:   leg,
		state: make(map[coin.Stage]int, len(set)),
	}
	for _, th := range set {
		if slices.Contains(skip, th.Stage) {
			continue
		}
		p.thresholds = append(p.thresholds, th)
		p.state[th.Stage] = milestoneUnseen
	}
	return p
}

// onStatus is the StatusFunc handed to sequenced waits.
func (p *progressTracker) onStatus(status protocols.DeviceStatus) {
	for _, th := range p.thresholds {
		if status.FlowStatus >= th.Status && p.state[th.Stage] == milestoneUnseen {
			p.state[th.Stage] = milestoneCrossed
		}
	}
	p.publishCrossed()
}

// mark records that stage was reached. Earlier milestones that were never
// seen are implied and published first, in threshold order.
func (p *progressTracker) mark(stage coin.Stage) {
	if _, tracked := p.state[stage]; !tracked {
		return
	}
	for _, th := range p.thresholds {
		if p.state[th.Stage] == milestoneUnseen {
			p.state[th.Stage] = milestoneCrossed
		}
		if th.Stage == stage {
			break
		}
	}
	p.publishCrossed()
}

// flush publishes every milestone not yet emitted, used once the final
// output proves the device went through all of them.
func (p *progressTracker) flush() {
	for _, th := range p.thresholds {
		if p.state[th.Stage] == milestoneUnseen {
			p.state[th.Stage] = milestoneCrossed
		}
	}
	p.publishCrossed()
}

func (p *progressTracker) publishCrossed() {
	for _, th := range p.thresholds {
		if p.state[th.Stage] != milestoneCrossed {
			continue
		}
		p.state[th.Stage] = milestoneEmitted
		p.s.emit(stageEvents[th.Stage], MilestoneData{Stage: th.Stage, Leg: p.leg})
	}
}

func (p *progressTracker) emitted(stage coin.Stage) bool {
	return p.state[stage] == milestoneEmitted
}

// skippedStages returns the stages a wallet does not go through.
func skippedStages(w Wallet) []coin.Stage {
	var skip []coin.Stage
	if !w.HasPassphrase {
		skip = append(skip, coin.StagePassphraseEntered)
	}
	if !w.HasPin {
		skip = append(skip, coin.StagePinEntered)
	}
	return skip
}
