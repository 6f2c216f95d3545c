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

// removeNatEpgRef prunes one external network from the NAT EPG reverse
// index, dropping the slot once it empties.
func (m *Manager) removeNatEpgRef(natEpg, netURI model.URI) {
	nets, ok := m.natEpgL3Ext[natEpg]
	if !ok {
		return
	}
	nets.Discard(netURI)
	if nets.Len() == 0 {
		delete(m.natEpgL3Ext, natEpg)
	}
}

// purgeL3Net drops an external network's state and NAT reverse-index
// entry, then re-runs the contract indexer so its contract references are
// released.
func (m *Manager) purgeL3Net(netURI model.URI, contractsToNotify set.Set[model.URI]) {
	if l3s, ok := m.l3nMap[netURI]; ok && l3s.natEpg != "" {
		m.removeNatEpgRef(l3s.natEpg, netURI)
	}
	delete(m.l3nMap, netURI)
	m.updateGroupContracts(model.ClassL3ExternalNetwork, netURI, contractsToNotify)
}

// updateL3Nets reconciles the external networks attached to a routing
// domain: network state, the NAT EPG reverse index and the contract index
// entries of every added or removed network.
func (m *Manager) updateL3Nets(rdURI model.URI, contractsToNotify set.Set[model.URI]) {
	rds := m.routingDomainState(rdURI)

	rd, ok := m.store.Resolve(model.ClassRoutingDomain, rdURI)
	if !ok {
		rds.extNets.Iter(func(netURI model.URI) error {
			m.purgeL3Net(netURI, contractsToNotify)
			return nil
		})
		delete(m.rdMap, rdURI)
		return
	}

	newNets := set.New[model.URI]()
	for _, extDomURI := range rd.Children(model.ClassL3ExternalDomain) {
		extDom, ok := m.store.Resolve(model.ClassL3ExternalDomain, extDomURI)
		if !ok {
			continue
		}
		for _, netURI := range extDom.Children(model.ClassL3ExternalNetwork) {
			netObj, ok := m.store.Resolve(model.ClassL3ExternalNetwork, netURI)
			if !ok {
				continue
			}
			newNets.Add(netURI)

			l3s := m.l3NetworkState(netURI)
			if l3s.routingDomain != nil && l3s.natEpg != "" {
				m.removeNatEpgRef(l3s.natEpg, netURI)
			}
			l3s.routingDomain = rd

			if natRef, ok := netObj.Ref(model.RelL3ExtNetToNatEPGroup); ok {
				l3s.natEpg = natRef.URI
				nets, ok := m.natEpgL3Ext[natRef.URI]
				if !ok {
					nets = set.New[model.URI]()
					m.natEpgL3Ext[natRef.URI] = nets
				}
				nets.Add(netURI)
			} else {
				l3s.natEpg = ""
			}

			m.updateGroupContracts(model.ClassL3ExternalNetwork, netURI,
				contractsToNotify)
		}
	}

	rds.extNets.Iter(func(netURI model.URI) error {
		if !newNets.Contains(netURI) {
			m.purgeL3Net(netURI, contractsToNotify)
		}
		return nil
	})
	rds.extNets = newNets
}

// GetL3ExtNetsForNatEPG returns the external networks that designate the
// given endpoint group as their NAT group.
func (m *Manager) GetL3ExtNetsForNatEPG(eg model.URI) []model.URI {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	nets, ok := m.natEpgL3Ext[eg]
	if !ok {
		return nil
	}
	return sortedURIs(nets)
}

// GetRDForL3ExtNet returns the routing domain of an external L3 network.
func (m *Manager) GetRDForL3ExtNet(l3n model.URI) (*model.Object, bool) {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	l3s, ok := m.l3nMap[l3n]
	if !ok || l3s.routingDomain == nil {
		return nil, false
	}
	return l3s.routingDomain, true
}
