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
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/ovs-gbp/ovs-dataplane/gbp-ovs-agent/model"
	"github.com/ovs-gbp/ovs-dataplane/gbp-ovs-agent/model/memstore"
	"github.com/ovs-gbp/ovs-dataplane/gbp-ovs-agent/policy"
)

// commitContract writes contract /c1 with one subject holding two rules:
// rule A (order 1, in, classifier X, allow) and rule B (order 2, out,
// classifier Y, deny).
func commitContract(store *memstore.Store) {
	mutation := model.NewMutation().
		Write(obj(model.ClassL24Classifier, "/cls/x")).
		Write(obj(model.ClassL24Classifier, "/cls/y")).
		Write(obj(model.ClassAllowDenyAction, "/act/allow").
			SetProp(model.PropAllow, true)).
		Write(obj(model.ClassAllowDenyAction, "/act/deny").
			SetProp(model.PropAllow, false)).
		Write(obj(model.ClassRule, "/c1/s1/ra").
			SetProp(model.PropOrder, uint32(1)).
			SetProp(model.PropDirection, model.DirectionIn).
			AddRef(model.RelRuleToClassifier, model.ClassL24Classifier, "/cls/x").
			AddRef(model.RelRuleToAction, model.ClassAllowDenyAction, "/act/allow")).
		Write(obj(model.ClassRule, "/c1/s1/rb").
			SetProp(model.PropOrder, uint32(2)).
			SetProp(model.PropDirection, model.DirectionOut).
			AddRef(model.RelRuleToClassifier, model.ClassL24Classifier, "/cls/y").
			AddRef(model.RelRuleToAction, model.ClassAllowDenyAction, "/act/deny")).
		Write(obj(model.ClassSubject, "/c1/s1").
			AddChild(model.ClassRule, "/c1/s1/ra").
			AddChild(model.ClassRule, "/c1/s1/rb")).
		Write(obj(model.ClassContract, "/c1").
			AddChild(model.ClassSubject, "/c1/s1"))
	Expect(store.Commit(mutation)).To(Succeed())
}

var _ = Describe("Policy rule compiler", func() {
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

	It("should compile a contract's rules in priority order", func() {
		commitContract(store)

		Eventually(func() []*policy.PolicyRule {
			return manager.GetContractRules("/c1")
		}).Should(HaveLen(2))

		rules := manager.GetContractRules("/c1")
		Expect(rules[0].Priority()).To(Equal(uint16(8192)))
		Expect(rules[0].Direction()).To(Equal(model.DirectionIn))
		Expect(rules[0].Allow()).To(BeTrue())
		Expect(rules[0].Classifier().URI()).To(Equal(model.URI("/cls/x")))

		Expect(rules[1].Priority()).To(Equal(uint16(8064)))
		Expect(rules[1].Direction()).To(Equal(model.DirectionOut))
		Expect(rules[1].Allow()).To(BeFalse())
		Expect(rules[1].Classifier().URI()).To(Equal(model.URI("/cls/y")))
	})

	It("should ignore rules with no direction", func() {
		Expect(store.Commit(model.NewMutation().
			Write(obj(model.ClassL24Classifier, "/cls/x")).
			Write(obj(model.ClassRule, "/c3/s1/r").
				SetProp(model.PropOrder, uint32(1)).
				AddRef(model.RelRuleToClassifier, model.ClassL24Classifier, "/cls/x")).
			Write(obj(model.ClassSubject, "/c3/s1").
				AddChild(model.ClassRule, "/c3/s1/r")).
			Write(obj(model.ClassContract, "/c3").
				AddChild(model.ClassSubject, "/c3/s1")))).To(Succeed())

		Eventually(func() bool {
			return manager.ContractExists("/c3")
		}).Should(BeTrue())
		Consistently(func() []*policy.PolicyRule {
			return manager.GetContractRules("/c3")
		}).Should(BeEmpty())
	})

	It("should assign decreasing priorities that saturate near the floor", func() {
		mutation := model.NewMutation().
			Write(obj(model.ClassL24Classifier, "/cls/a").
				SetProp(model.PropOrder, uint32(1))).
			Write(obj(model.ClassL24Classifier, "/cls/b").
				SetProp(model.PropOrder, uint32(2)))
		subject := obj(model.ClassSubject, "/c4/s1")
		for i := 0; i < 70; i++ {
			uri := model.URI("/c4/s1/r" + string(rune('a'+i/26)) + string(rune('a'+i%26)))
			rule := obj(model.ClassRule, uri).
				SetProp(model.PropOrder, uint32(i)).
				SetProp(model.PropDirection, model.DirectionIn).
				AddRef(model.RelRuleToClassifier, model.ClassL24Classifier, "/cls/a").
				AddRef(model.RelRuleToClassifier, model.ClassL24Classifier, "/cls/b")
			mutation.Write(rule)
			subject.AddChild(model.ClassRule, uri)
		}
		mutation.Write(subject).
			Write(obj(model.ClassContract, "/c4").AddChild(model.ClassSubject, "/c4/s1"))
		Expect(store.Commit(mutation)).To(Succeed())

		Eventually(func() []*policy.PolicyRule {
			return manager.GetContractRules("/c4")
		}).Should(HaveLen(140))

		rules := manager.GetContractRules("/c4")
		Expect(rules[0].Priority()).To(Equal(uint16(8192)))
		Expect(rules[1].Priority()).To(Equal(uint16(8191)))
		// Rules stop descending once the priority space is exhausted.
		last := rules[len(rules)-2].Priority()
		Expect(rules[len(rules)-1].Priority()).To(Equal(last - 1))
		for i := 2; i < len(rules); i += 2 {
			Expect(rules[i].Priority()).To(BeNumerically("<=", rules[i-2].Priority()))
		}
		Expect(rules[138].Priority()).To(BeNumerically(">", 0))
	})

	It("should keep the contract entry while groups reference it", func() {
		commitContract(store)
		Expect(store.Commit(model.NewMutation().
			Write(obj(model.ClassEpGroup, "/g1").
				AddRef(model.RelEpGroupToProvContract, model.ClassContract, "/c1")).
			Write(obj(model.ClassEpGroup, "/g2").
				AddRef(model.RelEpGroupToConsContract, model.ClassContract, "/c1")))).
			To(Succeed())

		Eventually(func() []model.URI {
			return manager.GetContractProviders("/c1")
		}).Should(ConsistOf(model.URI("/g1")))
		Expect(manager.GetContractConsumers("/c1")).To(ConsistOf(model.URI("/g2")))
		Expect(manager.GetContractsForGroup("/g1")).To(ConsistOf(model.URI("/c1")))

		// Removing the contract object clears the rules but keeps the
		// entry while it is referenced.
		Expect(store.Commit(model.NewMutation().
			Remove(model.ClassContract, "/c1"))).To(Succeed())
		Eventually(func() []*policy.PolicyRule {
			return manager.GetContractRules("/c1")
		}).Should(BeEmpty())
		Expect(manager.ContractExists("/c1")).To(BeTrue())

		// Detaching both groups garbage-collects the contract.
		Expect(store.Commit(model.NewMutation().
			Write(obj(model.ClassEpGroup, "/g1")).
			Write(obj(model.ClassEpGroup, "/g2")))).To(Succeed())
		Eventually(func() bool {
			return manager.ContractExists("/c1")
		}).Should(BeFalse())
	})

	It("should keep the contract index consistent with group references", func() {
		commitContract(store)
		Expect(store.Commit(model.NewMutation().
			Write(obj(model.ClassEpGroup, "/g1").
				AddRef(model.RelEpGroupToProvContract, model.ClassContract, "/c1").
				AddRef(model.RelEpGroupToIntraContract, model.ClassContract, "/c1")))).
			To(Succeed())

		Eventually(func() []model.URI {
			return manager.GetContractProviders("/c1")
		}).Should(ConsistOf(model.URI("/g1")))
		Expect(manager.GetContractIntra("/c1")).To(ConsistOf(model.URI("/g1")))

		// Dropping the provider relation updates only that set.
		Expect(store.Commit(model.NewMutation().
			Write(obj(model.ClassEpGroup, "/g1").
				AddRef(model.RelEpGroupToIntraContract, model.ClassContract, "/c1")))).
			To(Succeed())
		Eventually(func() []model.URI {
			return manager.GetContractProviders("/c1")
		}).Should(BeEmpty())
		Expect(manager.GetContractIntra("/c1")).To(ConsistOf(model.URI("/g1")))
	})

	It("should not notify a contract whose compiled output is unchanged", func() {
		commitContract(store)
		Eventually(func() []*policy.PolicyRule {
			return manager.GetContractRules("/c1")
		}).Should(HaveLen(2))

		count := notifs.contractCount("/c1")
		store.Touch(model.ClassContract, "/c1")
		store.Touch(model.ClassRule, "/c1/s1/ra")
		Consistently(func() int {
			return notifs.contractCount("/c1")
		}).Should(Equal(count))
	})
})

var _ = Describe("Redirect destination groups", func() {
	var (
		store   *memstore.Store
		manager *policy.Manager
		notifs  *notifRecorder
	)

	BeforeEach(func() {
		store, manager, notifs = newFixture()

		// Domains the redirect destinations resolve through.
		Expect(store.Commit(model.NewMutation().
			Write(obj(model.ClassRoutingDomain, "/rdx").
				AddChild(model.ClassInstContext, "/rdx/ic")).
			Write(obj(model.ClassInstContext, "/rdx/ic").
				SetProp(model.PropEncapID, uint32(5000))).
			Write(obj(model.ClassBridgeDomain, "/bdx").
				AddChild(model.ClassInstContext, "/bdx/ic")).
			Write(obj(model.ClassInstContext, "/bdx/ic").
				SetProp(model.PropEncapID, uint32(4000))))).To(Succeed())

		// Contract /c2 with one redirecting rule, and the destination
		// group it points at.
		Expect(store.Commit(model.NewMutation().
			Write(obj(model.ClassL24Classifier, "/cls/x")).
			Write(obj(model.ClassRedirectAction, "/act/redir").
				AddRef(model.RelRedirectActionToDestGrp, model.ClassRedirectDestGroup, "/rg")).
			Write(obj(model.ClassRule, "/c2/s1/r").
				SetProp(model.PropOrder, uint32(1)).
				SetProp(model.PropDirection, model.DirectionIn).
				AddRef(model.RelRuleToClassifier, model.ClassL24Classifier, "/cls/x").
				AddRef(model.RelRuleToAction, model.ClassRedirectAction, "/act/redir")).
			Write(obj(model.ClassSubject, "/c2/s1").
				AddChild(model.ClassRule, "/c2/s1/r")).
			Write(obj(model.ClassContract, "/c2").
				AddChild(model.ClassSubject, "/c2/s1")).
			Write(obj(model.ClassRedirectDestGroup, "/rg").
				AddChild(model.ClassRedirectDest, "/rg/d1").
				AddChild(model.ClassRedirectDest, "/rg/d2")).
			Write(obj(model.ClassRedirectDest, "/rg/d1").
				SetProp(model.PropIP, "10.0.0.2").
				SetProp(model.PropMAC, "aa:bb:cc:dd:ee:02").
				AddRef(model.RelRedirectDestToDomain, model.ClassBridgeDomain, "/bdx").
				AddRef(model.RelRedirectDestToDomain, model.ClassRoutingDomain, "/rdx")).
			Write(obj(model.ClassRedirectDest, "/rg/d2").
				SetProp(model.PropIP, "10.0.0.1").
				SetProp(model.PropMAC, "aa:bb:cc:dd:ee:01").
				AddRef(model.RelRedirectDestToDomain, model.ClassBridgeDomain, "/bdx").
				AddRef(model.RelRedirectDestToDomain, model.ClassRoutingDomain, "/rdx")))).
			To(Succeed())

		Eventually(func() []*policy.PolicyRule {
			return manager.GetContractRules("/c2")
		}).Should(HaveLen(1))
	})

	AfterEach(func() {
		manager.Stop()
	})

	It("should compile the redirect rule", func() {
		rules := manager.GetContractRules("/c2")
		Expect(rules[0].Allow()).To(BeFalse())
		Expect(rules[0].Redirect()).To(BeTrue())
		Expect(rules[0].RedirectDestGrpURI()).To(Equal(model.URI("/rg")))
	})

	It("should sort destinations ascending by IP", func() {
		Eventually(func() int {
			dests, _, _, _ := manager.GetPolicyDestGroup("/rg")
			return len(dests)
		}).Should(Equal(2))

		dests, hashAlgo, resilientHash, ok := manager.GetPolicyDestGroup("/rg")
		Expect(ok).To(BeTrue())
		Expect(hashAlgo).To(Equal(model.HashAlgoSymmetric))
		Expect(resilientHash).To(BeTrue())
		Expect(dests[0].IP().String()).To(Equal("10.0.0.1"))
		Expect(dests[0].MAC()).To(Equal("aa:bb:cc:dd:ee:01"))
		Expect(dests[0].RD().URI()).To(Equal(model.URI("/rdx")))
		Expect(dests[0].BD().URI()).To(Equal(model.URI("/bdx")))
		Expect(dests[1].IP().String()).To(Equal("10.0.0.2"))
	})

	It("should skip incomplete destinations", func() {
		Expect(store.Commit(model.NewMutation().
			Write(obj(model.ClassRedirectDestGroup, "/rg").
				AddChild(model.ClassRedirectDest, "/rg/d1").
				AddChild(model.ClassRedirectDest, "/rg/d2").
				AddChild(model.ClassRedirectDest, "/rg/d3")).
			Write(obj(model.ClassRedirectDest, "/rg/d3").
				SetProp(model.PropIP, "10.0.0.3").
				AddRef(model.RelRedirectDestToDomain, model.ClassBridgeDomain, "/bdx").
				AddRef(model.RelRedirectDestToDomain, model.ClassRoutingDomain, "/rdx")))).
			To(Succeed())

		// d3 has no MAC; the destination list must not include it.
		Consistently(func() int {
			dests, _, _, _ := manager.GetPolicyDestGroup("/rg")
			return len(dests)
		}).Should(Equal(2))
	})

	It("should notify referencing contracts when the destination list changes", func() {
		Eventually(func() int {
			dests, _, _, _ := manager.GetPolicyDestGroup("/rg")
			return len(dests)
		}).Should(Equal(2))
		count := notifs.contractCount("/c2")

		Expect(store.Commit(model.NewMutation().
			Write(obj(model.ClassRedirectDestGroup, "/rg").
				AddChild(model.ClassRedirectDest, "/rg/d1")))).To(Succeed())

		Eventually(func() int {
			return notifs.contractCount("/c2")
		}).Should(BeNumerically(">", count))
		dests, _, _, ok := manager.GetPolicyDestGroup("/rg")
		Expect(ok).To(BeTrue())
		Expect(dests).To(HaveLen(1))
		Expect(dests[0].IP().String()).To(Equal("10.0.0.2"))
	})

	It("should notify and erase when the group disappears", func() {
		count := notifs.contractCount("/c2")
		Expect(store.Commit(model.NewMutation().
			Remove(model.ClassRedirectDestGroup, "/rg"))).To(Succeed())

		Eventually(func() int {
			return notifs.contractCount("/c2")
		}).Should(BeNumerically(">", count))
		_, _, _, ok := manager.GetPolicyDestGroup("/rg")
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("Security groups", func() {
	var (
		store   *memstore.Store
		manager *policy.Manager
		notifs  *notifRecorder
	)

	BeforeEach(func() {
		store, manager, notifs = newFixture()

		Expect(store.Commit(model.NewMutation().
			Write(obj(model.ClassSubnets, "/rsns").
				AddChild(model.ClassSubnet, "/rsns/1")).
			Write(obj(model.ClassSubnet, "/rsns/1").
				SetProp(model.PropAddress, "10.1.5.5").
				SetProp(model.PropPrefixLen, uint8(16))).
			Write(obj(model.ClassL24Classifier, "/cls/z")).
			Write(obj(model.ClassAllowDenyAction, "/act/allow").
				SetProp(model.PropAllow, true)).
			Write(obj(model.ClassSecGroupRule, "/sg/s/r").
				SetProp(model.PropOrder, uint32(1)).
				SetProp(model.PropDirection, model.DirectionIn).
				AddRef(model.RelRuleToClassifier, model.ClassL24Classifier, "/cls/z").
				AddRef(model.RelRuleToAction, model.ClassAllowDenyAction, "/act/allow").
				AddRef(model.RelRuleToRemoteAddress, model.ClassSubnets, "/rsns")).
			Write(obj(model.ClassSecGroupSubject, "/sg/s").
				AddChild(model.ClassSecGroupRule, "/sg/s/r")).
			Write(obj(model.ClassSecGroup, "/sg").
				AddChild(model.ClassSecGroupSubject, "/sg/s")))).To(Succeed())

		Eventually(func() []*policy.PolicyRule {
			return manager.GetSecGroupRules("/sg")
		}).Should(HaveLen(1))
	})

	AfterEach(func() {
		manager.Stop()
	})

	It("should mask remote subnets by their prefix length", func() {
		rules := manager.GetSecGroupRules("/sg")
		Expect(rules[0].Allow()).To(BeTrue())
		Expect(rules[0].Priority()).To(Equal(uint16(8192)))
		Expect(rules[0].RemoteSubnets()).To(Equal([]policy.RemoteSubnet{
			{Address: "10.1.0.0", PrefixLen: 16},
		}))
	})

	It("should drop the entry when the security group disappears", func() {
		Expect(store.Commit(model.NewMutation().
			Remove(model.ClassSecGroup, "/sg"))).To(Succeed())
		Eventually(func() []*policy.PolicyRule {
			return manager.GetSecGroupRules("/sg")
		}).Should(BeEmpty())
	})

	It("should not notify when a replayed update changes nothing", func() {
		count := notifs.secGroupCount("/sg")
		store.Touch(model.ClassSecGroup, "/sg")
		store.Touch(model.ClassSecGroupRule, "/sg/s/r")
		Consistently(func() int {
			return notifs.secGroupCount("/sg")
		}).Should(Equal(count))
	})
})
