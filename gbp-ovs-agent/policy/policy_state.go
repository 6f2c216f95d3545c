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

// GroupState holds the resolved forwarding state for one endpoint group.
// All fields are store handles; nil means unresolved.
type GroupState struct {
	epGroup       *model.Object
	instContext   *model.Object
	floodDomain   *model.Object
	floodContext  *model.Object
	bridgeDomain  *model.Object
	routingDomain *model.Object
	instBDContext *model.Object
	instRDContext *model.Object
	l2EpRetPolicy *model.Object
	l3EpRetPolicy *model.Object
	subnetMap     map[model.URI]*model.Object
}

// RoutingDomainState tracks the external networks attached to a routing
// domain.
type RoutingDomainState struct {
	extNets set.Set[model.URI]
}

func newRoutingDomainState() *RoutingDomainState {
	return &RoutingDomainState{extNets: set.New[model.URI]()}
}

// L3NetworkState links an external L3 network to its routing domain and
// optional NAT endpoint group. An empty natEpg means no NAT group is set.
type L3NetworkState struct {
	routingDomain *model.Object
	natEpg        model.URI
}

// ContractState indexes the groups related to a contract and holds its
// compiled rules.
type ContractState struct {
	providerGroups set.Set[model.URI]
	consumerGroups set.Set[model.URI]
	intraGroups    set.Set[model.URI]
	rules          []*PolicyRule
}

func newContractState() *ContractState {
	return &ContractState{
		providerGroups: set.New[model.URI](),
		consumerGroups: set.New[model.URI](),
		intraGroups:    set.New[model.URI](),
	}
}

// GroupContractState remembers the contract references last observed on a
// group, so an update can be diffed against it.
type GroupContractState struct {
	contractsProvided set.Set[model.URI]
	contractsConsumed set.Set[model.URI]
	contractsIntra    set.Set[model.URI]
}

func newGroupContractState() *GroupContractState {
	return &GroupContractState{
		contractsProvided: set.New[model.URI](),
		contractsConsumed: set.New[model.URI](),
		contractsIntra:    set.New[model.URI](),
	}
}

// RedirectDestGrpState holds the sorted destination list for a redirect
// destination group and the contracts whose rules reference it.
type RedirectDestGrpState struct {
	redirDests    []*PolicyRedirectDest
	hashAlgo      uint8
	resilientHash bool
	ctrctSet      set.Set[model.URI]
}

func newRedirectDestGrpState() *RedirectDestGrpState {
	return &RedirectDestGrpState{
		hashAlgo:      model.HashAlgoSymmetric,
		resilientHash: true,
		ctrctSet:      set.New[model.URI](),
	}
}

// Lazy get-or-create accessors. The created defaults equal the post-erase
// state so that a create-then-erase round-trips. All of these require the
// state mutex.

func (m *Manager) groupState(uri model.URI) *GroupState {
	gs, ok := m.groupMap[uri]
	if !ok {
		gs = &GroupState{}
		m.groupMap[uri] = gs
	}
	return gs
}

func (m *Manager) routingDomainState(uri model.URI) *RoutingDomainState {
	rds, ok := m.rdMap[uri]
	if !ok {
		rds = newRoutingDomainState()
		m.rdMap[uri] = rds
	}
	return rds
}

func (m *Manager) l3NetworkState(uri model.URI) *L3NetworkState {
	l3s, ok := m.l3nMap[uri]
	if !ok {
		l3s = &L3NetworkState{}
		m.l3nMap[uri] = l3s
	}
	return l3s
}

func (m *Manager) contractState(uri model.URI) *ContractState {
	cs, ok := m.contractMap[uri]
	if !ok {
		cs = newContractState()
		m.contractMap[uri] = cs
	}
	return cs
}

func (m *Manager) groupContractState(uri model.URI) *GroupContractState {
	gcs, ok := m.groupContractMap[uri]
	if !ok {
		gcs = newGroupContractState()
		m.groupContractMap[uri] = gcs
	}
	return gcs
}

func (m *Manager) redirectDestGrpState(uri model.URI) *RedirectDestGrpState {
	rs, ok := m.redirGrpMap[uri]
	if !ok {
		rs = newRedirectDestGrpState()
		m.redirGrpMap[uri] = rs
	}
	return rs
}
