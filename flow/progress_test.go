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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
	"github.com/Cypherock/cysync-module-protocols-sub000/coin"
)

func trackerFor(t *testing.T, f coin.Family, k coin.Kind, skip ...coin.Stage) (*progressTracker, *recorder) {
	t.Helper()
	thresholds, err := coin.Thresholds(f, k)
	require.NoError(t, err)
	rec := &recorder{}
	s := newTestSession(t, rec, protocols.PacketV3)
	return newProgressTracker(s, thresholds, LegSend, skip...), rec
}

func TestProgressTracker_EachMilestoneOnce(t *testing.T) {
	t.Parallel()

	all := []string{
		"send/coinsConfirmed", "send/verified", "send/passphraseEntered", "send/pinEntered", "send/cardsTapped",
	}

	tests := []struct {
		name     string
		statuses []uint16
		want     []string
	}{
		{name: "one per threshold", statuses: []uint16{1, 4, 5, 6, 7}, want: all},
		{name: "repeated values", statuses: []uint16{0, 1, 1, 1, 4, 4, 5, 5, 6, 7, 7, 7}, want: all},
		{name: "jumps over thresholds", statuses: []uint16{2, 9}, want: all},
		{name: "stops early", statuses: []uint16{1, 3, 4}, want: all[:2]},
		{name: "nothing crossed", statuses: []uint16{0, 0}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tracker, rec := trackerFor(t, coin.Ethereum, coin.KindSend)
			for _, v := range tt.statuses {
				tracker.onStatus(status(v))
			}
			tracker.onStatus(status(tt.statuses[len(tt.statuses)-1]))

			assert.Equal(t, tt.want, rec.milestones())
		})
	}
}

func TestProgressTracker_MarkImpliesEarlier(t *testing.T) {
	t.Parallel()

	tracker, rec := trackerFor(t, coin.UTXO, coin.KindSend)
	tracker.mark(coin.StagePinEntered)
	tracker.mark(coin.StageVerified)
	tracker.mark(coin.StagePinEntered)

	assert.Equal(t, []string{
		"send/coinsConfirmed", "send/verified", "send/passphraseEntered", "send/pinEntered",
	}, rec.milestones())
}

func TestProgressTracker_SkippedStages(t *testing.T) {
	t.Parallel()

	skip := skippedStages(testWallet(false, false))
	tracker, rec := trackerFor(t, coin.Near, coin.KindSend, skip...)

	tracker.mark(coin.StagePinEntered)
	assert.Empty(t, rec.milestones(), "marking a skipped stage publishes nothing")

	tracker.onStatus(status(100))
	assert.Equal(t, []string{"send/coinsConfirmed", "send/verified", "send/cardsTapped"}, rec.milestones())
	assert.True(t, tracker.emitted(coin.StageCardsTapped))
	assert.False(t, tracker.emitted(coin.StagePinEntered))
}

func TestProgressTracker_FlushAfterPartialStatus(t *testing.T) {
	t.Parallel()

	tracker, rec := trackerFor(t, coin.Solana, coin.KindSend)
	tracker.onStatus(status(3))
	tracker.flush()
	tracker.flush()

	assert.Equal(t, []string{
		"send/coinsConfirmed", "send/verified", "send/passphraseEntered", "send/pinEntered", "send/cardsTapped",
	}, rec.milestones())
}

func TestSkippedStages(t *testing.T) {
	t.Parallel()

	assert.Empty(t, skippedStages(testWallet(true, true)))
	assert.Equal(t, []coin.Stage{coin.StagePassphraseEntered}, skippedStages(testWallet(true, false)))
	assert.Equal(t, []coin.Stage{coin.StagePassphraseEntered, coin.StagePinEntered},
		skippedStages(testWallet(false, false)))
}

func TestMilestoneEventNames(t *testing.T) {
	t.Parallel()

	for stage, event := range stageEvents {
		assert.Equal(t, stage.String(), event.String())
	}
}
