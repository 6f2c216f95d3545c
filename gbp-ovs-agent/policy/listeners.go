// Copyright (C) 2020 Cisco Systems Inc.
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

package policy

import (
	"github.com/projectcalico/calico/libcalico-go/lib/set"

	"github.com/ovs-gbp/ovs-dataplane/gbp-ovs-agent/model"
)

// Object classes each sink subscribes to.
var (
	domainSinkClasses = []model.ClassID{
		model.ClassBridgeDomain,
		model.ClassFloodDomain,
		model.ClassFloodContext,
		model.ClassRoutingDomain,
		model.ClassSubnets,
		model.ClassSubnet,
		model.ClassEpGroup,
		model.ClassL3ExternalNetwork,
	}
	contractSinkClasses = []model.ClassID{
		model.ClassEpGroup,
		model.ClassL3ExternalNetwork,
		model.ClassRoutingDomain,
		model.ClassContract,
		model.ClassSubject,
		model.ClassRule,
		model.ClassL24Classifier,
		model.ClassRedirectDestGroup,
		model.ClassRedirectDest,
		model.ClassRedirectAction,
	}
	secGroupSinkClasses = []model.ClassID{
		model.ClassSecGroup,
		model.ClassSecGroupSubject,
		model.ClassSecGroupRule,
		model.ClassL24Classifier,
		model.ClassSubnets,
		model.ClassSubnet,
	}
	configSinkClasses = []model.ClassID{
		model.ClassPlatformConfig,
	}
)

// The sinks run on the store's dispatch goroutine; they enqueue work onto
// the task queue and return. The contract and sec-group sinks may first
// create an empty index entry; the config sink forwards the URI to the
// policy listeners directly, without the task queue.

type domainListener struct {
	manager *Manager
}

func (l *domainListener) ObjectUpdated(class model.ClassID, uri model.URI) {
	m := l.manager
	m.taskQueue.Dispatch("dl"+uri.String(), func() {
		m.updateDomains(class, uri)
	})
}

type contractListener struct {
	manager *Manager
}

func (l *contractListener) ObjectUpdated(class model.ClassID, uri model.URI) {
	m := l.manager
	m.log.Debugf("Contract listener update for %s", uri)

	switch class {
	case model.ClassEpGroup, model.ClassL3ExternalNetwork:
		m.taskQueue.Dispatch("cl"+uri.String(), func() {
			m.executeAndNotifyContract(func(notify set.Set[model.URI]) {
				m.updateGroupContracts(class, uri, notify)
			})
		})
	case model.ClassRoutingDomain:
		m.taskQueue.Dispatch("cl"+uri.String(), func() {
			m.executeAndNotifyContract(func(notify set.Set[model.URI]) {
				m.updateL3Nets(uri, notify)
			})
		})
	case model.ClassRedirectDestGroup:
		m.taskQueue.Dispatch("cl"+uri.String(), func() {
			m.executeAndNotifyContract(func(notify set.Set[model.URI]) {
				m.updateRedirectDestGroup(uri, notify)
			})
		})
	case model.ClassRedirectDest:
		m.taskQueue.Dispatch("cl"+uri.String(), func() {
			m.executeAndNotifyContract(func(notify set.Set[model.URI]) {
				m.updateRedirectDestGroups(notify)
			})
		})
	default:
		// Ensure an entry exists before the recompute so that a later
		// delete of the contract object can be detected.
		if class == model.ClassContract {
			m.stateMutex.Lock()
			m.contractState(uri)
			m.stateMutex.Unlock()
		}
		m.taskQueue.Dispatch("contract", m.updateContracts)
	}
}

type secGroupListener struct {
	manager *Manager
}

func (l *secGroupListener) ObjectUpdated(class model.ClassID, uri model.URI) {
	m := l.manager
	m.log.Debugf("Security group listener update for %s", uri)

	if class == model.ClassSecGroup {
		m.stateMutex.Lock()
		if _, ok := m.secGrpMap[uri]; !ok {
			m.secGrpMap[uri] = nil
		}
		m.stateMutex.Unlock()
	}
	m.taskQueue.Dispatch("secgroup", m.updateSecGrps)
}

type configListener struct {
	manager *Manager
}

func (l *configListener) ObjectUpdated(class model.ClassID, uri model.URI) {
	l.manager.notifyConfig(uri)
}
