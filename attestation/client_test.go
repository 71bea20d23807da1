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

package attestation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
	"github.com/Cypherock/cysync-module-protocols-sub000/flow"
)

type recordedRequest struct {
	body map[string]any
	path string
}

type recorder struct {
	reqs []recordedRequest
	mu   sync.Mutex
}

func (r *recorder) all() []recordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedRequest(nil), r.reqs...)
}

func newServer(t *testing.T, status int, reply string) (*httptest.Server, *recorder) {
	t.Helper()
	got := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		got.mu.Lock()
		got.reqs = append(got.reqs, recordedRequest{path: r.URL.Path, body: body})
		got.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestVerifySerial(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		reply         string
		wantPath      string
		wantChallenge string
		kind          flow.AuthKind
	}{
		{
			name:          "device recognised",
			kind:          flow.AuthDevice,
			reply:         `{"verified":true,"challenge":"c0ffee"}`,
			wantPath:      "/verification/verify",
			wantChallenge: "c0ffee",
		},
		{
			name:     "card unknown",
			kind:     flow.AuthCard,
			reply:    `{"verified":false}`,
			wantPath: "/cardauth/verify",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv, got := newServer(t, http.StatusOK, tt.reply)
			c := NewClient(srv.URL, WithHTTPClient(srv.Client()))

			challenge, err := c.VerifySerial(context.Background(), flow.SerialRequest{
				Serial: "aa", Signature: "bb", Kind: tt.kind, CardNumber: 2, IsTestApp: true,
			})

			require.NoError(t, err)
			assert.Equal(t, tt.wantChallenge, challenge)
			reqs := got.all()
			require.Len(t, reqs, 1)
			assert.Equal(t, tt.wantPath, reqs[0].path)
			assert.Equal(t, "aa", reqs[0].body["serial"])
			assert.Equal(t, true, reqs[0].body["isTestApp"])
		})
	}
}

func TestVerifyChallenge(t *testing.T) {
	t.Parallel()

	srv, got := newServer(t, http.StatusOK, `{"verified":true}`)
	c := NewClient(srv.URL, WithHTTPClient(srv.Client()))

	ok, err := c.VerifyChallenge(context.Background(), flow.ChallengeRequest{
		Serial: "aa", Signature: "cc", Challenge: "c0ffee", FirmwareVersion: "0.6.259", Kind: flow.AuthDevice,
	})

	require.NoError(t, err)
	assert.True(t, ok)
	reqs := got.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/verification/challenge", reqs[0].path)
	assert.Equal(t, "0.6.259", reqs[0].body["firmwareVersion"])
}

func TestServerErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		reply  string
		status int
		server bool
	}{
		{name: "status 500", status: http.StatusInternalServerError, reply: "boom", server: true},
		{name: "bad json", status: http.StatusOK, reply: "{"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv, _ := newServer(t, tt.status, tt.reply)
			c := NewClient(srv.URL, WithHTTPClient(srv.Client()))

			_, err := c.VerifySerial(context.Background(), flow.SerialRequest{Kind: flow.AuthCard})

			require.Error(t, err)
			assert.Equal(t, tt.server, errors.Is(err, ErrServer))
		})
	}
}

func TestNewClientFromConfig(t *testing.T) {
	t.Parallel()

	cfg := protocols.DefaultConfig()
	c := NewClientFromConfig(cfg)
	assert.Equal(t, protocols.DefaultAttestationURL, c.base)
	assert.Equal(t, DefaultTimeout, c.http.Timeout)
}
