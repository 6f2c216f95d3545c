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
	"sort"

	"github.com/projectcalico/calico/libcalico-go/lib/set"

	"github.com/ovs-gbp/ovs-dataplane/gbp-ovs-agent/model"
)

// removeContractIfRequired garbage-collects a contract entry that has no
// backing object and no group references left.
func (m *Manager) removeContractIfRequired(contractURI model.URI) bool {
	cs, ok := m.contractMap[contractURI]
	_, resolvable := m.store.Resolve(model.ClassContract, contractURI)
	if !resolvable && ok &&
		cs.providerGroups.Len() == 0 &&
		cs.consumerGroups.Len() == 0 &&
		cs.intraGroups.Len() == 0 {
		m.log.Debugf("Removing index for contract %s", contractURI)
		delete(m.contractMap, contractURI)
		return true
	}
	return false
}

// updateGroupContracts reconciles the provided/consumed/intra contract
// references of an endpoint group or external network against the
// contract index. Every contract added to or removed from a relation is
// accumulated into updatedContracts.
func (m *Manager) updateGroupContracts(groupType model.ClassID, groupURI model.URI,
	updatedContracts set.Set[model.URI]) {

	gcs := m.groupContractState(groupURI)

	newProvided := set.New[model.URI]()
	newConsumed := set.New[model.URI]()
	newIntra := set.New[model.URI]()

	remove := true
	switch groupType {
	case model.ClassEpGroup:
		if epg, ok := m.store.Resolve(model.ClassEpGroup, groupURI); ok {
			remove = false
			for _, rel := range epg.Refs(model.RelEpGroupToProvContract) {
				newProvided.Add(rel.URI)
			}
			for _, rel := range epg.Refs(model.RelEpGroupToConsContract) {
				newConsumed.Add(rel.URI)
			}
			for _, rel := range epg.Refs(model.RelEpGroupToIntraContract) {
				newIntra.Add(rel.URI)
			}
		}
	case model.ClassL3ExternalNetwork:
		if l3n, ok := m.store.Resolve(model.ClassL3ExternalNetwork, groupURI); ok {
			remove = false
			for _, rel := range l3n.Refs(model.RelL3ExtNetToProvContract) {
				newProvided.Add(rel.URI)
			}
			for _, rel := range l3n.Refs(model.RelL3ExtNetToConsContract) {
				newConsumed.Add(rel.URI)
			}
		}
	}

	provAdded := set.New[model.URI]()
	provRemoved := set.New[model.URI]()
	consAdded := set.New[model.URI]()
	consRemoved := set.New[model.URI]()
	intraAdded := set.New[model.URI]()
	intraRemoved := set.New[model.URI]()

	addTo := func(s set.Set[model.URI]) func(model.URI) error {
		return func(uri model.URI) error {
			s.Add(uri)
			return nil
		}
	}

	if remove {
		gcs.contractsProvided.Iter(addTo(provRemoved))
		gcs.contractsConsumed.Iter(addTo(consRemoved))
		gcs.contractsIntra.Iter(addTo(intraRemoved))
		delete(m.groupContractMap, groupURI)
	} else {
		set.IterDifferences(gcs.contractsProvided, newProvided,
			addTo(provRemoved), addTo(provAdded))
		set.IterDifferences(gcs.contractsConsumed, newConsumed,
			addTo(consRemoved), addTo(consAdded))
		set.IterDifferences(gcs.contractsIntra, newIntra,
			addTo(intraRemoved), addTo(intraAdded))
		gcs.contractsProvided = newProvided
		gcs.contractsConsumed = newConsumed
		gcs.contractsIntra = newIntra
	}

	for _, s := range []set.Set[model.URI]{
		provAdded, provRemoved, consAdded, consRemoved, intraAdded, intraRemoved,
	} {
		s.Iter(addTo(updatedContracts))
	}

	provAdded.Iter(func(uri model.URI) error {
		m.contractState(uri).providerGroups.Add(groupURI)
		m.log.Debugf("%s: prov add: %s", uri, groupURI)
		return nil
	})
	consAdded.Iter(func(uri model.URI) error {
		m.contractState(uri).consumerGroups.Add(groupURI)
		m.log.Debugf("%s: cons add: %s", uri, groupURI)
		return nil
	})
	intraAdded.Iter(func(uri model.URI) error {
		m.contractState(uri).intraGroups.Add(groupURI)
		m.log.Debugf("%s: intra add: %s", uri, groupURI)
		return nil
	})
	provRemoved.Iter(func(uri model.URI) error {
		m.contractState(uri).providerGroups.Discard(groupURI)
		m.log.Debugf("%s: prov remove: %s", uri, groupURI)
		m.removeContractIfRequired(uri)
		return nil
	})
	consRemoved.Iter(func(uri model.URI) error {
		m.contractState(uri).consumerGroups.Discard(groupURI)
		m.log.Debugf("%s: cons remove: %s", uri, groupURI)
		m.removeContractIfRequired(uri)
		return nil
	})
	intraRemoved.Iter(func(uri model.URI) error {
		m.contractState(uri).intraGroups.Discard(groupURI)
		m.log.Debugf("%s: intra remove: %s", uri, groupURI)
		m.removeContractIfRequired(uri)
		return nil
	})
}

// updateContractRules recompiles one contract's rule list and keeps the
// redirect-group back-references in sync with the groups the rules
// reference.
func (m *Manager) updateContractRules(contractURI model.URI) (updated, notFound bool) {
	cs := m.contractState(contractURI)

	newRules, updated, notFound, oldRedirGrps, newRedirGrps :=
		m.compilePolicyRules(contractRuleClasses, contractURI, cs.rules)
	if updated {
		cs.rules = newRules
		for _, rule := range newRules {
			m.log.Debugf("%s: %s", contractURI, rule)
		}
	}

	oldRedirGrps.Iter(func(uri model.URI) error {
		if rs, ok := m.redirGrpMap[uri]; ok {
			rs.ctrctSet.Discard(contractURI)
		}
		return nil
	})
	newRedirGrps.Iter(func(uri model.URI) error {
		m.redirectDestGrpState(uri).ctrctSet.Add(contractURI)
		return nil
	})
	return updated, notFound
}

// updateContracts recompiles the rules of every contract in the index.
// Contracts whose backing object disappeared are cleared, and erased once
// nothing references them.
func (m *Manager) updateContracts() {
	m.stateMutex.Lock()
	contractsToNotify := set.New[model.URI]()

	for contractURI, cs := range m.contractMap {
		updated, notFound := m.updateContractRules(contractURI)
		if updated {
			contractsToNotify.Add(contractURI)
		}
		// notFound may mean the contract was removed, or that a group
		// references a contract that has not been received yet.
		if notFound {
			contractsToNotify.Add(contractURI)
			if cs.providerGroups.Len() == 0 &&
				cs.consumerGroups.Len() == 0 &&
				cs.intraGroups.Len() == 0 {
				delete(m.contractMap, contractURI)
			} else {
				cs.rules = nil
			}
		}
	}
	m.stateMutex.Unlock()

	contractsToNotify.Iter(func(uri model.URI) error {
		m.notifyContract(uri)
		return nil
	})
}

func sortedURIs(s set.Set[model.URI]) []model.URI {
	uris := make([]model.URI, 0, s.Len())
	s.Iter(func(uri model.URI) error {
		uris = append(uris, uri)
		return nil
	})
	sort.Slice(uris, func(i, j int) bool { return uris[i] < uris[j] })
	return uris
}

// GetContractProviders returns the groups providing a contract.
func (m *Manager) GetContractProviders(contractURI model.URI) []model.URI {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	cs, ok := m.contractMap[contractURI]
	if !ok {
		return nil
	}
	return sortedURIs(cs.providerGroups)
}

// GetContractConsumers returns the groups consuming a contract.
func (m *Manager) GetContractConsumers(contractURI model.URI) []model.URI {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	cs, ok := m.contractMap[contractURI]
	if !ok {
		return nil
	}
	return sortedURIs(cs.consumerGroups)
}

// GetContractIntra returns the groups using a contract for intra-group
// policy.
func (m *Manager) GetContractIntra(contractURI model.URI) []model.URI {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	cs, ok := m.contractMap[contractURI]
	if !ok {
		return nil
	}
	return sortedURIs(cs.intraGroups)
}

// GetContractsForGroup returns all contracts referenced by a group,
// resolved directly from the store.
func (m *Manager) GetContractsForGroup(eg model.URI) []model.URI {
	epg, ok := m.store.Resolve(model.ClassEpGroup, eg)
	if !ok {
		return nil
	}
	contracts := set.New[model.URI]()
	for _, rel := range []string{
		model.RelEpGroupToProvContract,
		model.RelEpGroupToConsContract,
		model.RelEpGroupToIntraContract,
	} {
		for _, ref := range epg.Refs(rel) {
			contracts.Add(ref.URI)
		}
	}
	return sortedURIs(contracts)
}

// GetContractRules returns the compiled rule list of a contract.
func (m *Manager) GetContractRules(contractURI model.URI) []*PolicyRule {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	cs, ok := m.contractMap[contractURI]
	if !ok {
		return nil
	}
	rules := make([]*PolicyRule, len(cs.rules))
	copy(rules, cs.rules)
	return rules
}

// ContractExists reports whether the contract is known to the manager.
func (m *Manager) ContractExists(contractURI model.URI) bool {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	_, ok := m.contractMap[contractURI]
	return ok
}
