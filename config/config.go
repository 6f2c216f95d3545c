// Copyright (C) 2022 Cisco Systems Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the agent's environment-variable configuration.
package config

import (
	"github.com/sirupsen/logrus"
)

var (
	LogLevel = EnvVar("GBPAGENT_LOG_LEVEL", logrus.InfoLevel, logrus.ParseLevel)

	// OpflexDomain names the policy domain whose platform config the
	// agent resolves on startup.
	OpflexDomain = StringEnvVar("GBPAGENT_OPFLEX_DOMAIN", "default")
)

// LoadConfig parses all registered environment variables, logging and
// returning the first failure.
func LoadConfig(log *logrus.Logger) error {
	errs := ParseAllEnvVars()
	for _, err := range errs {
		log.WithError(err).Error("Error parsing configuration")
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// PrintAgentConfig logs the agent configuration.
func PrintAgentConfig(log *logrus.Logger) {
	PrintEnvVarConfig(log)
}
