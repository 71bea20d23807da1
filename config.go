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

package protocols

import (
	"os"
	"slices"
	"strconv"
	"strings"
)

// DefaultAttestationURL is the production attestation server.
const DefaultAttestationURL = "https://api.cypherock.com"

// Config holds settings shared by flows and the transports beneath them.
type Config struct {
	// LogDir receives session logs and fetched device logs
	LogDir string
	// AttestationURL is the base URL of the remote attestation server
	AttestationURL string
	// SupportedSDKVersions gates device info; entries are "major.minor.patch"
	SupportedSDKVersions []string
	// IsTestApp marks authentication requests as coming from a test build
	IsTestApp bool
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() *Config {
	return &Config{
		LogDir:               defaultLogDir(),
		AttestationURL:       DefaultAttestationURL,
		SupportedSDKVersions: []string{"0.1.16", "1.0.0"},
	}
}

// LoadConfigFromEnv starts from DefaultConfig and applies X1_LOG_DIR,
// X1_ATTESTATION_URL, X1_TEST_APP and X1_SDK_VERSIONS (comma separated).
func LoadConfigFromEnv() *Config {
	cfg := DefaultConfig()
	if v := os.Getenv("X1_LOG_DIR"); v != "" {
		cfg.LogDir = v
	}
	if v := os.Getenv("X1_ATTESTATION_URL"); v != "" {
		cfg.AttestationURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("X1_TEST_APP"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.IsTestApp = b
		}
	}
	if v := os.Getenv("X1_SDK_VERSIONS"); v != "" {
		var versions []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				versions = append(versions, part)
			}
		}
		if len(versions) > 0 {
			cfg.SupportedSDKVersions = versions
		}
	}
	return cfg
}

// SupportsSDK reports whether the given "major.minor.patch" version is listed.
func (c *Config) SupportsSDK(version string) bool {
	return slices.Contains(c.SupportedSDKVersions, version)
}

func defaultLogDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir + string(os.PathSeparator) + "x1"
	}
	return "."
}
