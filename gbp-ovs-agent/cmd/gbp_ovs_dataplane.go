// Copyright (C) 2019 Cisco Systems Inc.
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

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/ovs-gbp/ovs-dataplane/config"
	"github.com/ovs-gbp/ovs-dataplane/gbp-ovs-agent/model/memstore"
	"github.com/ovs-gbp/ovs-dataplane/gbp-ovs-agent/policy"
)

/*
 * The GBP-OVS agent resolves the policy model pushed by the controller
 * into forwarding state for the renderers attached to the policy manager.
 */

func main() {
	log := logrus.New()
	signalChannel := make(chan os.Signal, 2)
	signal.Notify(signalChannel, os.Interrupt, syscall.SIGTERM)

	err := config.LoadConfig(log)
	if err != nil {
		log.Errorf("Error loading configuration: %v", err)
		return
	}
	config.PrintAgentConfig(log)
	log.SetLevel(*config.LogLevel)

	store := memstore.NewStore(log.WithFields(logrus.Fields{"component": "modb"}))

	policyManager := policy.NewManager(store, *config.OpflexDomain,
		log.WithFields(logrus.Fields{"component": "policy"}))
	err = policyManager.Start()
	if err != nil {
		log.Errorf("Failed to start policy manager")
		log.Fatal(err)
	}

	<-signalChannel
	log.Infof("Signal received, exiting")
	policyManager.Stop()
}
