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
	"net"

	"github.com/projectcalico/calico/libcalico-go/lib/set"

	"github.com/ovs-gbp/ovs-dataplane/gbp-ovs-agent/model"
)

// updateDomains re-resolves the forwarding domain chain of every known
// endpoint group and notifies listeners of the groups and domains that
// changed. class/uri identify the object whose update triggered the pass.
func (m *Manager) updateDomains(class model.ClassID, uri model.URI) {
	m.stateMutex.Lock()

	notifyGroups := set.New[model.URI]()
	notifyRds := set.New[model.URI]()

	if class == model.ClassEpGroup {
		m.groupState(uri)
	}
	for egURI := range m.groupMap {
		updated, toRemove := m.updateEPGDomains(egURI)
		if updated {
			notifyGroups.Add(egURI)
		}
		if toRemove {
			delete(m.groupMap, egURI)
		}
	}

	// A changed group may be the NAT EPG of external networks; the
	// routing domains of those networks are affected indirectly.
	notifyGroups.Iter(func(egURI model.URI) error {
		nets, ok := m.natEpgL3Ext[egURI]
		if !ok {
			return nil
		}
		nets.Iter(func(extNet model.URI) error {
			if l3s, ok := m.l3nMap[extNet]; ok && l3s.routingDomain != nil {
				notifyRds.Add(l3s.routingDomain.URI())
			}
			return nil
		})
		return nil
	})
	notifyRds.Discard(uri) // avoid updating twice

	m.stateMutex.Unlock()

	notifyGroups.Iter(func(egURI model.URI) error {
		m.notifyEPGDomain(egURI)
		return nil
	})
	if class != model.ClassEpGroup {
		m.notifyDomain(class, uri)
	}
	notifyRds.Iter(func(rdURI model.URI) error {
		m.notifyDomain(model.ClassRoutingDomain, rdURI)
		return nil
	})
}

// resolveChildInstContext resolves the instance-context child of a group
// or forwarding domain object.
func (m *Manager) resolveChildInstContext(parent *model.Object) *model.Object {
	for _, uri := range parent.Children(model.ClassInstContext) {
		if ic, ok := m.store.Resolve(model.ClassInstContext, uri); ok {
			return ic
		}
	}
	return nil
}

// resolveRetention follows an instance context's endpoint-retention
// reference.
func (m *Manager) resolveRetention(instCtx *model.Object) *model.Object {
	ref, ok := instCtx.Ref(model.RelInstContextToRetention)
	if !ok {
		return nil
	}
	ret, ok := m.store.Resolve(model.ClassEndpointRetention, ref.URI)
	if !ok {
		return nil
	}
	return ret
}

// collectSubnets unions the subnet children of the Subnets object at
// subnetsURI into out, keyed by subnet URI.
func (m *Manager) collectSubnets(subnetsURI model.URI, out map[model.URI]*model.Object) {
	subnets, ok := m.store.Resolve(model.ClassSubnets, subnetsURI)
	if !ok {
		return
	}
	for _, snURI := range subnets.Children(model.ClassSubnet) {
		if sn, ok := m.store.Resolve(model.ClassSubnet, snURI); ok {
			out[snURI] = sn
		}
	}
}

func subnetMapsEqual(a, b map[model.URI]*model.Object) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// updateEPGDomains walks the forwarding-domain chain of one endpoint
// group, refreshing its group state and the vnid index. It returns whether
// the resolved state changed and whether the group entry should be
// removed.
func (m *Manager) updateEPGDomains(egURI model.URI) (updated bool, toRemove bool) {
	gs := m.groupState(egURI)

	epg, ok := m.store.Resolve(model.ClassEpGroup, egURI)
	if !ok {
		if gs.instContext != nil {
			if old, ok := gs.instContext.UintProp(model.PropEncapID); ok {
				delete(m.vnidMap, old)
			}
		}
		return true, true
	}

	newInstCtx := m.resolveChildInstContext(epg)
	if gs.instContext != nil {
		if old, ok := gs.instContext.UintProp(model.PropEncapID); ok {
			delete(m.vnidMap, old)
		}
	}
	if newInstCtx != nil {
		if vnid, ok := newInstCtx.UintProp(model.PropEncapID); ok {
			m.vnidMap[vnid] = egURI
		}
	}

	var newRD, newBD, newFD, newFDCtx *model.Object
	var newL2Ret, newL3Ret *model.Object
	newSubnets := make(map[model.URI]*model.Object)
	newBDInstCtx := newInstCtx
	newRDInstCtx := newInstCtx

	// Subnets referenced directly by the group.
	if ref, ok := epg.Ref(model.RelEpGroupToSubnets); ok {
		m.collectSubnets(ref.URI, newSubnets)
	}

	domainRef, haveDomain := epg.Ref(model.RelEpGroupToNetwork)
	visited := set.New[model.URI]()
	for haveDomain && !visited.Contains(domainRef.URI) {
		visited.Add(domainRef.URI)

		var next model.Reference
		var haveNext, haveFwdSubnets bool
		var fwdSubnets model.Reference

		switch domainRef.Class {
		case model.ClassRoutingDomain:
			if rd, ok := m.store.Resolve(model.ClassRoutingDomain, domainRef.URI); ok {
				newRD = rd
				fwdSubnets, haveFwdSubnets = rd.Ref(model.RelForwardingGroupSubnets)
				newRDInstCtx = m.resolveChildInstContext(rd)
				if newRDInstCtx != nil {
					newL3Ret = m.resolveRetention(newRDInstCtx)
				}
			}
		case model.ClassBridgeDomain:
			if bd, ok := m.store.Resolve(model.ClassBridgeDomain, domainRef.URI); ok {
				newBD = bd
				next, haveNext = bd.Ref(model.RelBridgeDomainToNetwork)
				fwdSubnets, haveFwdSubnets = bd.Ref(model.RelForwardingGroupSubnets)
				newBDInstCtx = m.resolveChildInstContext(bd)
				if newBDInstCtx != nil {
					newL2Ret = m.resolveRetention(newBDInstCtx)
				}
			}
		case model.ClassFloodDomain:
			if fd, ok := m.store.Resolve(model.ClassFloodDomain, domainRef.URI); ok {
				newFD = fd
				next, haveNext = fd.Ref(model.RelFloodDomainToNetwork)
				fwdSubnets, haveFwdSubnets = fd.Ref(model.RelForwardingGroupSubnets)
				for _, fcURI := range fd.Children(model.ClassFloodContext) {
					if fc, ok := m.store.Resolve(model.ClassFloodContext, fcURI); ok {
						newFDCtx = fc
						break
					}
				}
			}
		}

		// Subnets the group can reach through this domain.
		if haveFwdSubnets {
			m.collectSubnets(fwdSubnets.URI, newSubnets)
		}

		domainRef, haveDomain = next, haveNext
	}

	updated = epg != gs.epGroup ||
		newInstCtx != gs.instContext ||
		newFD != gs.floodDomain ||
		newFDCtx != gs.floodContext ||
		newBD != gs.bridgeDomain ||
		newRD != gs.routingDomain ||
		!subnetMapsEqual(newSubnets, gs.subnetMap) ||
		newBDInstCtx != gs.instBDContext ||
		newRDInstCtx != gs.instRDContext ||
		newL2Ret != gs.l2EpRetPolicy ||
		newL3Ret != gs.l3EpRetPolicy

	gs.epGroup = epg
	gs.instContext = newInstCtx
	gs.floodDomain = newFD
	gs.floodContext = newFDCtx
	gs.bridgeDomain = newBD
	gs.routingDomain = newRD
	gs.subnetMap = newSubnets
	gs.instBDContext = newBDInstCtx
	gs.instRDContext = newRDInstCtx
	gs.l2EpRetPolicy = newL2Ret
	gs.l3EpRetPolicy = newL3Ret

	return updated, false
}

// GetRDForGroup returns the routing domain resolved for an endpoint group.
func (m *Manager) GetRDForGroup(eg model.URI) (*model.Object, bool) {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	gs, ok := m.groupMap[eg]
	if !ok || gs.routingDomain == nil {
		return nil, false
	}
	return gs.routingDomain, true
}

// GetBDForGroup returns the bridge domain resolved for an endpoint group.
func (m *Manager) GetBDForGroup(eg model.URI) (*model.Object, bool) {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	gs, ok := m.groupMap[eg]
	if !ok || gs.bridgeDomain == nil {
		return nil, false
	}
	return gs.bridgeDomain, true
}

// GetFDForGroup returns the flood domain resolved for an endpoint group.
func (m *Manager) GetFDForGroup(eg model.URI) (*model.Object, bool) {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	gs, ok := m.groupMap[eg]
	if !ok || gs.floodDomain == nil {
		return nil, false
	}
	return gs.floodDomain, true
}

// GetFloodContextForGroup returns the flood context resolved for an
// endpoint group.
func (m *Manager) GetFloodContextForGroup(eg model.URI) (*model.Object, bool) {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	gs, ok := m.groupMap[eg]
	if !ok || gs.floodContext == nil {
		return nil, false
	}
	return gs.floodContext, true
}

// GetVnidForGroup returns the encap id of an endpoint group.
func (m *Manager) GetVnidForGroup(eg model.URI) (uint32, bool) {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	gs, ok := m.groupMap[eg]
	if !ok || gs.instContext == nil {
		return 0, false
	}
	return gs.instContext.UintProp(model.PropEncapID)
}

// GetBDVnidForGroup returns the encap id associated with the group's
// bridge domain. Note: once the bridge-domain context is present this
// reads the group's own instance context, preserving the behavior the
// renderers were built against.
func (m *Manager) GetBDVnidForGroup(eg model.URI) (uint32, bool) {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	gs, ok := m.groupMap[eg]
	if !ok || gs.instBDContext == nil || gs.instContext == nil {
		return 0, false
	}
	return gs.instContext.UintProp(model.PropEncapID)
}

// GetRDVnidForGroup returns the encap id of the group's routing domain.
func (m *Manager) GetRDVnidForGroup(eg model.URI) (uint32, bool) {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	gs, ok := m.groupMap[eg]
	if !ok || gs.instRDContext == nil {
		return 0, false
	}
	return gs.instRDContext.UintProp(model.PropEncapID)
}

// GetGroupForVnid returns the endpoint group with the given encap id.
func (m *Manager) GetGroupForVnid(vnid uint32) (model.URI, bool) {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	uri, ok := m.vnidMap[vnid]
	return uri, ok
}

// GetSclassForGroup returns the class selector of an endpoint group.
func (m *Manager) GetSclassForGroup(eg model.URI) (uint32, bool) {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	gs, ok := m.groupMap[eg]
	if !ok || gs.instContext == nil {
		return 0, false
	}
	return gs.instContext.UintProp(model.PropClassSelector)
}

// GetMulticastIPForGroup returns the multicast group IP of an endpoint
// group's instance context.
func (m *Manager) GetMulticastIPForGroup(eg model.URI) (string, bool) {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	gs, ok := m.groupMap[eg]
	if !ok || gs.instContext == nil {
		return "", false
	}
	return gs.instContext.StringProp(model.PropMulticastGroupIP)
}

// GetBDMulticastIPForGroup returns the multicast group IP of the group's
// bridge-domain instance context.
func (m *Manager) GetBDMulticastIPForGroup(eg model.URI) (string, bool) {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	gs, ok := m.groupMap[eg]
	if !ok || gs.instBDContext == nil {
		return "", false
	}
	return gs.instBDContext.StringProp(model.PropMulticastGroupIP)
}

// GetRDMulticastIPForGroup returns the multicast group IP of the group's
// routing-domain instance context.
func (m *Manager) GetRDMulticastIPForGroup(eg model.URI) (string, bool) {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	gs, ok := m.groupMap[eg]
	if !ok || gs.instRDContext == nil {
		return "", false
	}
	return gs.instRDContext.StringProp(model.PropMulticastGroupIP)
}

// GetL2EPRetentionPolicyForGroup returns the endpoint-retention policy
// inherited through the group's bridge domain.
func (m *Manager) GetL2EPRetentionPolicyForGroup(eg model.URI) (*model.Object, bool) {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	gs, ok := m.groupMap[eg]
	if !ok || gs.l2EpRetPolicy == nil {
		return nil, false
	}
	return gs.l2EpRetPolicy, true
}

// GetL3EPRetentionPolicyForGroup returns the endpoint-retention policy
// inherited through the group's routing domain.
func (m *Manager) GetL3EPRetentionPolicyForGroup(eg model.URI) (*model.Object, bool) {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	gs, ok := m.groupMap[eg]
	if !ok || gs.l3EpRetPolicy == nil {
		return nil, false
	}
	return gs.l3EpRetPolicy, true
}

// GroupExists reports whether the group is known to the manager.
func (m *Manager) GroupExists(eg model.URI) bool {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	_, ok := m.groupMap[eg]
	return ok
}

// GetGroups returns the URIs of all known endpoint groups.
func (m *Manager) GetGroups() []model.URI {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	uris := make([]model.URI, 0, len(m.groupMap))
	for uri := range m.groupMap {
		uris = append(uris, uri)
	}
	return uris
}

// GetRoutingDomains returns the URIs of all known routing domains.
func (m *Manager) GetRoutingDomains() []model.URI {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	uris := make([]model.URI, 0, len(m.rdMap))
	for uri := range m.rdMap {
		uris = append(uris, uri)
	}
	return uris
}

// GetSubnetsForGroup returns the subnets reachable by an endpoint group.
func (m *Manager) GetSubnetsForGroup(eg model.URI) []*model.Object {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	gs, ok := m.groupMap[eg]
	if !ok {
		return nil
	}
	subnets := make([]*model.Object, 0, len(gs.subnetMap))
	for _, sn := range gs.subnetMap {
		subnets = append(subnets, sn)
	}
	return subnets
}

// maskAddress clears the host bits of addr given a prefix length,
// clamping the prefix to the address family width.
func maskAddress(addr net.IP, prefixLen uint8) net.IP {
	if v4 := addr.To4(); v4 != nil {
		if prefixLen > 32 {
			prefixLen = 32
		}
		return v4.Mask(net.CIDRMask(int(prefixLen), 32))
	}
	if prefixLen > 128 {
		prefixLen = 128
	}
	return addr.To16().Mask(net.CIDRMask(int(prefixLen), 128))
}

// FindSubnetForEp returns the first subnet of the group that contains ip.
// Address families never match across; a v4 endpoint is only matched
// against v4 subnets.
func (m *Manager) FindSubnetForEp(eg model.URI, ip net.IP) (*model.Object, bool) {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	gs, ok := m.groupMap[eg]
	if !ok {
		return nil, false
	}
	for _, sn := range gs.subnetMap {
		addrStr, okAddr := sn.StringProp(model.PropAddress)
		prefixLen, okLen := sn.ByteProp(model.PropPrefixLen)
		if !okAddr || !okLen {
			continue
		}
		netAddr := net.ParseIP(addrStr)
		if netAddr == nil {
			continue
		}
		if (netAddr.To4() != nil) != (ip.To4() != nil) {
			continue
		}
		if maskAddress(netAddr, prefixLen).Equal(maskAddress(ip, prefixLen)) {
			return sn, true
		}
	}
	return nil, false
}

// GetEffectiveRoutingMode returns the routing mode for a group, enabled
// unless its bridge domain overrides it.
func (m *Manager) GetEffectiveRoutingMode(eg model.URI) uint8 {
	routingMode := model.RoutingModeEnabled
	if bd, ok := m.GetBDForGroup(eg); ok {
		routingMode = bd.BytePropD(model.PropRoutingMode, routingMode)
	}
	return routingMode
}

// RouterIPForSubnet returns the virtual router IP configured on a subnet,
// if any.
func (m *Manager) RouterIPForSubnet(subnet *model.Object) (net.IP, bool) {
	routerIPStr, ok := subnet.StringProp(model.PropVirtualRouterIP)
	if !ok {
		return nil, false
	}
	routerIP := net.ParseIP(routerIPStr)
	if routerIP == nil {
		m.log.Warnf("Invalid router IP for subnet %s: %s", subnet.URI(), routerIPStr)
		return nil, false
	}
	return routerIP, true
}
