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
	"bytes"
	"net"
	"sort"

	"github.com/projectcalico/calico/libcalico-go/lib/set"

	"github.com/ovs-gbp/ovs-dataplane/gbp-ovs-agent/model"
)

// PolicyRedirectDest is one fully resolved next hop of a redirect
// destination group.
type PolicyRedirectDest struct {
	redirectDest  *model.Object
	ip            net.IP
	mac           string
	routingDomain *model.Object
	bridgeDomain  *model.Object
	instRDContext *model.Object
	instBDContext *model.Object
}

func (d *PolicyRedirectDest) RedirectDest() *model.Object {
	return d.redirectDest
}

func (d *PolicyRedirectDest) IP() net.IP {
	return d.ip
}

func (d *PolicyRedirectDest) MAC() string {
	return d.mac
}

func (d *PolicyRedirectDest) RD() *model.Object {
	return d.routingDomain
}

func (d *PolicyRedirectDest) BD() *model.Object {
	return d.bridgeDomain
}

func (d *PolicyRedirectDest) RDInstContext() *model.Object {
	return d.instRDContext
}

func (d *PolicyRedirectDest) BDInstContext() *model.Object {
	return d.instBDContext
}

// Equal compares destinations by next-hop identity: address, MAC and the
// domains they resolve through.
func (d *PolicyRedirectDest) Equal(other *PolicyRedirectDest) bool {
	return d.ip.Equal(other.ip) &&
		d.mac == other.mac &&
		d.routingDomain.URI() == other.routingDomain.URI() &&
		d.bridgeDomain.URI() == other.bridgeDomain.URI()
}

// compareIPs orders addresses numerically within a family, v4 before v6.
func compareIPs(a, b net.IP) int {
	a4, b4 := a.To4(), b.To4()
	if (a4 != nil) != (b4 != nil) {
		if a4 != nil {
			return -1
		}
		return 1
	}
	if a4 != nil {
		return bytes.Compare(a4, b4)
	}
	return bytes.Compare(a.To16(), b.To16())
}

func redirDestListsEqual(a, b []*PolicyRedirectDest) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// updateRedirectDestGroup re-resolves one redirect destination group. If
// the destination list or hashing parameters changed, every contract
// referencing the group is added to notifyGroup.
func (m *Manager) updateRedirectDestGroup(uri model.URI, notifyGroup set.Set[model.URI]) {
	rs := m.redirectDestGrpState(uri)

	grp, ok := m.store.Resolve(model.ClassRedirectDestGroup, uri)
	if !ok {
		rs.ctrctSet.Iter(func(c model.URI) error {
			notifyGroup.Add(c)
			return nil
		})
		delete(m.redirGrpMap, uri)
		return
	}

	m.log.Debugf("Updating redirect destination group %s", uri)
	var newDests []*PolicyRedirectDest
	for _, destURI := range grp.Children(model.ClassRedirectDest) {
		dest, ok := m.store.Resolve(model.ClassRedirectDest, destURI)
		if !ok {
			continue
		}

		// A destination must be completely resolved to be useful for
		// forwarding.
		var bd, rd, bdInst, rdInst *model.Object
		for _, domRef := range dest.Refs(model.RelRedirectDestToDomain) {
			switch domRef.Class {
			case model.ClassBridgeDomain:
				b, ok := m.store.Resolve(model.ClassBridgeDomain, domRef.URI)
				if !ok {
					continue
				}
				bd = b
				bdInst = m.resolveChildInstContext(b)
			case model.ClassRoutingDomain:
				r, ok := m.store.Resolve(model.ClassRoutingDomain, domRef.URI)
				if !ok {
					continue
				}
				rd = r
				rdInst = m.resolveChildInstContext(r)
			}
		}
		ipStr, okIP := dest.StringProp(model.PropIP)
		mac, okMAC := dest.StringProp(model.PropMAC)
		if bdInst == nil || rdInst == nil || !okIP || !okMAC {
			continue
		}
		addr := net.ParseIP(ipStr)
		if addr == nil {
			m.log.Warnf("Invalid redirect destination IP for %s: %s", destURI, ipStr)
			continue
		}
		newDests = append(newDests, &PolicyRedirectDest{
			redirectDest:  dest,
			ip:            addr,
			mac:           mac,
			routingDomain: rd,
			bridgeDomain:  bd,
			instRDContext: rdInst,
			instBDContext: bdInst,
		})
	}

	// Resolution order is not next-hop order; keep the list ascending by
	// address.
	sort.SliceStable(newDests, func(i, j int) bool {
		return compareIPs(newDests[i].ip, newDests[j].ip) < 0
	})

	hashAlgo := grp.BytePropD(model.PropHashAlgo, model.HashAlgoSymmetric)
	resilientHash := grp.BoolPropD(model.PropResilientHash, true)

	if !redirDestListsEqual(rs.redirDests, newDests) ||
		hashAlgo != rs.hashAlgo ||
		resilientHash != rs.resilientHash {
		rs.ctrctSet.Iter(func(c model.URI) error {
			notifyGroup.Add(c)
			return nil
		})
	}

	rs.redirDests = newDests
	rs.hashAlgo = hashAlgo
	rs.resilientHash = resilientHash
}

// updateRedirectDestGroups re-resolves every known redirect destination
// group.
func (m *Manager) updateRedirectDestGroups(notifyGroup set.Set[model.URI]) {
	uris := make([]model.URI, 0, len(m.redirGrpMap))
	for uri := range m.redirGrpMap {
		uris = append(uris, uri)
	}
	for _, uri := range uris {
		m.updateRedirectDestGroup(uri, notifyGroup)
	}
}

// GetPolicyDestGroup returns the sorted destination list of a redirect
// destination group together with its hashing parameters.
func (m *Manager) GetPolicyDestGroup(uri model.URI) (dests []*PolicyRedirectDest,
	hashAlgo uint8, resilientHash bool, ok bool) {

	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	rs, found := m.redirGrpMap[uri]
	if !found {
		return nil, 0, false, false
	}
	dests = make([]*PolicyRedirectDest, len(rs.redirDests))
	copy(dests, rs.redirDests)
	return dests, rs.hashAlgo, rs.resilientHash, true
}
