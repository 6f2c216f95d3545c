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

package policy_test

import (
	"net"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/ovs-gbp/ovs-dataplane/gbp-ovs-agent/model"
	"github.com/ovs-gbp/ovs-dataplane/gbp-ovs-agent/model/memstore"
	"github.com/ovs-gbp/ovs-dataplane/gbp-ovs-agent/policy"
)

// commitChain writes an EPG -> FD -> BD -> RD chain with instance
// contexts and retention policies.
func commitChain(store *memstore.Store) {
	mutation := model.NewMutation().
		Write(obj(model.ClassEndpointRetention, "/ret2")).
		Write(obj(model.ClassEndpointRetention, "/ret3")).
		Write(obj(model.ClassRoutingDomain, "/rd1").
			AddChild(model.ClassInstContext, "/rd1/ic")).
		Write(obj(model.ClassInstContext, "/rd1/ic").
			SetProp(model.PropEncapID, uint32(3000)).
			SetProp(model.PropMulticastGroupIP, "224.0.1.3").
			AddRef(model.RelInstContextToRetention, model.ClassEndpointRetention, "/ret3")).
		Write(obj(model.ClassBridgeDomain, "/bd1").
			AddRef(model.RelBridgeDomainToNetwork, model.ClassRoutingDomain, "/rd1").
			AddChild(model.ClassInstContext, "/bd1/ic")).
		Write(obj(model.ClassInstContext, "/bd1/ic").
			SetProp(model.PropEncapID, uint32(2000)).
			SetProp(model.PropMulticastGroupIP, "224.0.1.2").
			AddRef(model.RelInstContextToRetention, model.ClassEndpointRetention, "/ret2")).
		Write(obj(model.ClassFloodDomain, "/fd1").
			AddRef(model.RelFloodDomainToNetwork, model.ClassBridgeDomain, "/bd1").
			AddChild(model.ClassFloodContext, "/fd1/fc")).
		Write(obj(model.ClassFloodContext, "/fd1/fc")).
		Write(obj(model.ClassSubnets, "/sns").
			AddChild(model.ClassSubnet, "/sns/1").
			AddChild(model.ClassSubnet, "/sns/2")).
		Write(obj(model.ClassSubnet, "/sns/1").
			SetProp(model.PropAddress, "10.0.1.0").
			SetProp(model.PropPrefixLen, uint8(24)).
			SetProp(model.PropVirtualRouterIP, "10.0.1.1")).
		Write(obj(model.ClassSubnet, "/sns/2").
			SetProp(model.PropAddress, "fd00::").
			SetProp(model.PropPrefixLen, uint8(64))).
		Write(obj(model.ClassEpGroup, "/g1").
			AddRef(model.RelEpGroupToNetwork, model.ClassFloodDomain, "/fd1").
			AddRef(model.RelEpGroupToSubnets, model.ClassSubnets, "/sns").
			AddChild(model.ClassInstContext, "/g1/ic")).
		Write(obj(model.ClassInstContext, "/g1/ic").
			SetProp(model.PropEncapID, uint32(100)).
			SetProp(model.PropClassSelector, uint32(0x8001)).
			SetProp(model.PropMulticastGroupIP, "224.0.1.1"))
	Expect(store.Commit(mutation)).To(Succeed())
}

var _ = Describe("Policy manager domain resolution", func() {
	var (
		store   *memstore.Store
		manager *policy.Manager
		notifs  *notifRecorder
	)

	BeforeEach(func() {
		store, manager, notifs = newFixture()
	})

	AfterEach(func() {
		manager.Stop()
	})

	Context("with a complete forwarding chain", func() {
		BeforeEach(func() {
			commitChain(store)
			Eventually(func() bool {
				_, ok := manager.GetRDForGroup("/g1")
				return ok
			}).Should(BeTrue())
		})

		It("should resolve the chain domains", func() {
			fd, ok := manager.GetFDForGroup("/g1")
			Expect(ok).To(BeTrue())
			Expect(fd.URI()).To(Equal(model.URI("/fd1")))

			fc, ok := manager.GetFloodContextForGroup("/g1")
			Expect(ok).To(BeTrue())
			Expect(fc.URI()).To(Equal(model.URI("/fd1/fc")))

			bd, ok := manager.GetBDForGroup("/g1")
			Expect(ok).To(BeTrue())
			Expect(bd.URI()).To(Equal(model.URI("/bd1")))

			rd, ok := manager.GetRDForGroup("/g1")
			Expect(ok).To(BeTrue())
			Expect(rd.URI()).To(Equal(model.URI("/rd1")))

			Expect(manager.GroupExists("/g1")).To(BeTrue())
			Expect(manager.GetGroups()).To(ConsistOf(model.URI("/g1")))
		})

		It("should maintain the vnid index", func() {
			vnid, ok := manager.GetVnidForGroup("/g1")
			Expect(ok).To(BeTrue())
			Expect(vnid).To(Equal(uint32(100)))

			group, ok := manager.GetGroupForVnid(100)
			Expect(ok).To(BeTrue())
			Expect(group).To(Equal(model.URI("/g1")))

			sclass, ok := manager.GetSclassForGroup("/g1")
			Expect(ok).To(BeTrue())
			Expect(sclass).To(Equal(uint32(0x8001)))
		})

		It("should read the domain instance contexts", func() {
			// The group's own encap id is reported for the bridge
			// domain as well once its context resolves.
			bdVnid, ok := manager.GetBDVnidForGroup("/g1")
			Expect(ok).To(BeTrue())
			Expect(bdVnid).To(Equal(uint32(100)))

			rdVnid, ok := manager.GetRDVnidForGroup("/g1")
			Expect(ok).To(BeTrue())
			Expect(rdVnid).To(Equal(uint32(3000)))

			mcast, ok := manager.GetMulticastIPForGroup("/g1")
			Expect(ok).To(BeTrue())
			Expect(mcast).To(Equal("224.0.1.1"))

			bdMcast, ok := manager.GetBDMulticastIPForGroup("/g1")
			Expect(ok).To(BeTrue())
			Expect(bdMcast).To(Equal("224.0.1.2"))

			rdMcast, ok := manager.GetRDMulticastIPForGroup("/g1")
			Expect(ok).To(BeTrue())
			Expect(rdMcast).To(Equal("224.0.1.3"))
		})

		It("should inherit endpoint retention policies", func() {
			l2Ret, ok := manager.GetL2EPRetentionPolicyForGroup("/g1")
			Expect(ok).To(BeTrue())
			Expect(l2Ret.URI()).To(Equal(model.URI("/ret2")))

			l3Ret, ok := manager.GetL3EPRetentionPolicyForGroup("/g1")
			Expect(ok).To(BeTrue())
			Expect(l3Ret.URI()).To(Equal(model.URI("/ret3")))
		})

		It("should collect the group's subnets", func() {
			subnets := manager.GetSubnetsForGroup("/g1")
			Expect(subnets).To(HaveLen(2))

			sn, ok := manager.FindSubnetForEp("/g1", net.ParseIP("10.0.1.5"))
			Expect(ok).To(BeTrue())
			Expect(sn.URI()).To(Equal(model.URI("/sns/1")))

			routerIP, ok := manager.RouterIPForSubnet(sn)
			Expect(ok).To(BeTrue())
			Expect(routerIP.String()).To(Equal("10.0.1.1"))

			sn, ok = manager.FindSubnetForEp("/g1", net.ParseIP("fd00::42"))
			Expect(ok).To(BeTrue())
			Expect(sn.URI()).To(Equal(model.URI("/sns/2")))

			// An address outside every subnet matches none.
			_, ok = manager.FindSubnetForEp("/g1", net.ParseIP("10.99.0.1"))
			Expect(ok).To(BeFalse())
		})

		It("should report the bridge domain's routing mode", func() {
			Expect(manager.GetEffectiveRoutingMode("/g1")).
				To(Equal(model.RoutingModeEnabled))

			Expect(store.Commit(model.NewMutation().
				Write(obj(model.ClassBridgeDomain, "/bd1").
					AddRef(model.RelBridgeDomainToNetwork, model.ClassRoutingDomain, "/rd1").
					AddChild(model.ClassInstContext, "/bd1/ic").
					SetProp(model.PropRoutingMode, model.RoutingModeDisabled)))).
				To(Succeed())
			Eventually(func() uint8 {
				return manager.GetEffectiveRoutingMode("/g1")
			}).Should(Equal(model.RoutingModeDisabled))
		})

		It("should remap the vnid index when the encap id changes", func() {
			Expect(store.Commit(model.NewMutation().
				Write(obj(model.ClassInstContext, "/g1/ic").
					SetProp(model.PropEncapID, uint32(101)).
					SetProp(model.PropClassSelector, uint32(0x8001)).
					SetProp(model.PropMulticastGroupIP, "224.0.1.1")))).To(Succeed())
			store.Touch(model.ClassEpGroup, "/g1")

			Eventually(func() uint32 {
				vnid, _ := manager.GetVnidForGroup("/g1")
				return vnid
			}).Should(Equal(uint32(101)))
			group, ok := manager.GetGroupForVnid(101)
			Expect(ok).To(BeTrue())
			Expect(group).To(Equal(model.URI("/g1")))
			_, ok = manager.GetGroupForVnid(100)
			Expect(ok).To(BeFalse())
		})

		It("should drop group state when the group is removed", func() {
			Expect(store.Commit(model.NewMutation().
				Remove(model.ClassEpGroup, "/g1"))).To(Succeed())
			Eventually(func() bool {
				return manager.GroupExists("/g1")
			}).Should(BeFalse())
			_, ok := manager.GetGroupForVnid(100)
			Expect(ok).To(BeFalse())
		})

		It("should not notify for an update that changes nothing", func() {
			egBefore, _, _, _ := notifs.counts()
			store.Touch(model.ClassEpGroup, "/g1")
			Consistently(func() int {
				eg, _, _, _ := notifs.counts()
				return eg
			}).Should(Equal(egBefore))
		})
	})

	It("should forward platform config updates verbatim", func() {
		configURI := policy.PlatformConfigURI("default")
		Expect(store.Commit(model.NewMutation().
			Write(obj(model.ClassPlatformConfig, configURI).
				SetProp(model.PropMulticastGroupIP, "224.0.0.10")))).To(Succeed())
		Eventually(func() int {
			return notifs.configCount(configURI)
		}).Should(Equal(1))
	})
})

var _ = Describe("Policy manager external networks", func() {
	var (
		store   *memstore.Store
		manager *policy.Manager
		notifs  *notifRecorder
	)

	BeforeEach(func() {
		store, manager, notifs = newFixture()
		commitChain(store)

		// An external routing domain with one external network that
		// uses /g1 for NAT.
		Expect(store.Commit(model.NewMutation().
			Write(obj(model.ClassRoutingDomain, "/rd2").
				AddChild(model.ClassL3ExternalDomain, "/rd2/ed")).
			Write(obj(model.ClassL3ExternalDomain, "/rd2/ed").
				AddChild(model.ClassL3ExternalNetwork, "/n1")).
			Write(obj(model.ClassL3ExternalNetwork, "/n1").
				AddRef(model.RelL3ExtNetToNatEPGroup, model.ClassEpGroup, "/g1")))).
			To(Succeed())
		Eventually(func() []model.URI {
			return manager.GetL3ExtNetsForNatEPG("/g1")
		}).Should(ConsistOf(model.URI("/n1")))
	})

	AfterEach(func() {
		manager.Stop()
	})

	It("should resolve the network's routing domain", func() {
		rd, ok := manager.GetRDForL3ExtNet("/n1")
		Expect(ok).To(BeTrue())
		Expect(rd.URI()).To(Equal(model.URI("/rd2")))
		Expect(manager.GetRoutingDomains()).To(ContainElement(model.URI("/rd2")))
	})

	It("should move the NAT reverse index entry when the NAT EPG changes", func() {
		Expect(store.Commit(model.NewMutation().
			Write(obj(model.ClassL3ExternalNetwork, "/n1").
				AddRef(model.RelL3ExtNetToNatEPGroup, model.ClassEpGroup, "/g2")))).
			To(Succeed())
		store.Touch(model.ClassRoutingDomain, "/rd2")

		Eventually(func() []model.URI {
			return manager.GetL3ExtNetsForNatEPG("/g2")
		}).Should(ConsistOf(model.URI("/n1")))
		Expect(manager.GetL3ExtNetsForNatEPG("/g1")).To(BeEmpty())
	})

	It("should clean up when the routing domain disappears", func() {
		Expect(store.Commit(model.NewMutation().
			Remove(model.ClassRoutingDomain, "/rd2"))).To(Succeed())
		Eventually(func() []model.URI {
			return manager.GetL3ExtNetsForNatEPG("/g1")
		}).Should(BeEmpty())
		_, ok := manager.GetRDForL3ExtNet("/n1")
		Expect(ok).To(BeFalse())
	})

	It("should notify the external routing domain when its NAT EPG changes", func() {
		Expect(store.Commit(model.NewMutation().
			Write(obj(model.ClassInstContext, "/g1/ic").
				SetProp(model.PropEncapID, uint32(102)).
				SetProp(model.PropClassSelector, uint32(0x8001)).
				SetProp(model.PropMulticastGroupIP, "224.0.1.1")))).To(Succeed())
		store.Touch(model.ClassEpGroup, "/g1")

		Eventually(func() []model.Reference {
			return notifs.domainNotifs()
		}).Should(ContainElement(model.Reference{
			Class: model.ClassRoutingDomain,
			URI:   "/rd2",
		}))
	})
})
