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

func (m *Manager) updateSecGrpRules(secGrpURI model.URI) (updated, notFound bool) {
	newRules, updated, notFound, _, _ :=
		m.compilePolicyRules(secGroupRuleClasses, secGrpURI, m.secGrpMap[secGrpURI])
	if updated {
		m.secGrpMap[secGrpURI] = newRules
	}
	return updated, notFound
}

// updateSecGrps recompiles the rules of every known security group and
// drops the ones whose backing object disappeared.
func (m *Manager) updateSecGrps() {
	m.stateMutex.Lock()

	toNotify := set.New[model.URI]()
	for secGrpURI := range m.secGrpMap {
		updated, notFound := m.updateSecGrpRules(secGrpURI)
		if updated {
			toNotify.Add(secGrpURI)
		}
		if notFound {
			toNotify.Add(secGrpURI)
			delete(m.secGrpMap, secGrpURI)
		}
	}
	m.stateMutex.Unlock()

	toNotify.Iter(func(uri model.URI) error {
		m.notifySecGroup(uri)
		return nil
	})
}

// GetSecGroupRules returns the compiled rule list of a security group.
func (m *Manager) GetSecGroupRules(secGrpURI model.URI) []*PolicyRule {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	stored, ok := m.secGrpMap[secGrpURI]
	if !ok {
		return nil
	}
	rules := make([]*PolicyRule, len(stored))
	copy(rules, stored)
	return rules
}
