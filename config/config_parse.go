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

package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type envVarParser struct {
	parse       func() error
	valueString string
}

var parsers = make(map[string]*envVarParser)

// PrintEnvVarConfig logs the resolved value of every registered variable.
func PrintEnvVarConfig(log *logrus.Logger) {
	for varName, parser := range parsers {
		log.Infof("Config:%s=%s", varName, parser.valueString)
	}
}

// ParseAllEnvVars parses every registered environment variable and
// collects the errors.
func ParseAllEnvVars() []error {
	errs := make([]error, 0)
	for _, parser := range parsers {
		if err := parser.parse(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func envVarWith[T any](varName string, defaultValue T, required bool, parser func(string) (T, error)) *T {
	v := defaultValue
	p := &envVarParser{valueString: fmt.Sprintf("%v", v)}
	parsers[varName] = p
	p.parse = func() error {
		if value := os.Getenv(varName); value != "" {
			parsed, err := parser(value)
			if err != nil {
				return errors.Wrapf(err, "Failed to parse %s: %s, defaulting...", varName, value)
			}
			v = parsed
		} else if required {
			return errors.Errorf("Missing required environment variable %s", varName)
		}
		p.valueString = fmt.Sprintf("%v", v)
		return nil
	}
	return &v
}

// EnvVar registers an environment variable parsed with the given parser,
// returning a pointer to its resolved value.
func EnvVar[T any](varName string, defaultValue T, parser func(string) (T, error)) *T {
	return envVarWith(varName, defaultValue, false /*required*/, parser)
}

func StringEnvVar(varName string, defaultValue string) *string {
	return EnvVar(varName, defaultValue, func(value string) (string, error) { return value, nil })
}

func BoolEnvVar(varName string, defaultValue bool) *bool {
	return EnvVar(varName, defaultValue, strconv.ParseBool)
}
