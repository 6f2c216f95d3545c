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
	"fmt"
	"math"
	"net"
	"sort"

	"github.com/projectcalico/calico/libcalico-go/lib/set"

	"github.com/ovs-gbp/ovs-dataplane/gbp-ovs-agent/model"
)

// RemoteSubnet is a masked remote address predicate attached to a
// security-group rule.
type RemoteSubnet struct {
	Address   string
	PrefixLen uint8
}

// PolicyRule is one compiled entry of a contract or security group: a
// classifier with its direction, verdict and priority. Rules are value
// types compared by content.
type PolicyRule struct {
	direction          uint8
	priority           uint16
	classifier         *model.Object
	allow              bool
	redirect           bool
	remoteSubnets      []RemoteSubnet
	redirectDestGrpURI model.URI
}

func (r *PolicyRule) Direction() uint8 {
	return r.direction
}

func (r *PolicyRule) Priority() uint16 {
	return r.priority
}

func (r *PolicyRule) Classifier() *model.Object {
	return r.classifier
}

func (r *PolicyRule) Allow() bool {
	return r.allow
}

func (r *PolicyRule) Redirect() bool {
	return r.redirect
}

func (r *PolicyRule) RemoteSubnets() []RemoteSubnet {
	return r.remoteSubnets
}

// RedirectDestGrpURI returns the redirect destination group referenced by
// the rule, or "" if the rule does not redirect.
func (r *PolicyRule) RedirectDestGrpURI() model.URI {
	return r.redirectDestGrpURI
}

// Equal compares rules field-wise; classifiers compare by handle identity
// since the store replaces handles on change.
func (r *PolicyRule) Equal(other *PolicyRule) bool {
	if r.direction != other.direction ||
		r.priority != other.priority ||
		r.allow != other.allow ||
		r.redirect != other.redirect ||
		r.classifier != other.classifier ||
		r.redirectDestGrpURI != other.redirectDestGrpURI ||
		len(r.remoteSubnets) != len(other.remoteSubnets) {
		return false
	}
	for i := range r.remoteSubnets {
		if r.remoteSubnets[i] != other.remoteSubnets[i] {
			return false
		}
	}
	return true
}

func (r *PolicyRule) String() string {
	dir := "bi"
	switch r.direction {
	case model.DirectionIn:
		dir = "in"
	case model.DirectionOut:
		dir = "out"
	}
	s := fmt.Sprintf("PolicyRule[classifier=%s,allow=%t,redirect=%t,prio=%d,direction=%s",
		r.classifier.URI(), r.allow, r.redirect, r.priority, dir)
	if len(r.remoteSubnets) > 0 {
		s += fmt.Sprintf(",remoteSubnets=%v", r.remoteSubnets)
	}
	if r.redirectDestGrpURI != "" {
		s += fmt.Sprintf(",redirectGroup=%s", r.redirectDestGrpURI)
	}
	return s + "]"
}

func policyRuleListsEqual(a, b []*PolicyRule) bool {
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

// ruleClassSet parameterises the rule compiler over the contract and
// security-group halves of the model, which share their subject/rule
// shape.
type ruleClassSet struct {
	parent        model.ClassID
	subject       model.ClassID
	rule          model.ClassID
	remoteSubnets bool
}

var (
	contractRuleClasses = ruleClassSet{
		parent:  model.ClassContract,
		subject: model.ClassSubject,
		rule:    model.ClassRule,
	}
	secGroupRuleClasses = ruleClassSet{
		parent:        model.ClassSecGroup,
		subject:       model.ClassSecGroupSubject,
		rule:          model.ClassSecGroupRule,
		remoteSubnets: true,
	}
)

// resolveOrderedChildren resolves the children of the given class and
// stably sorts them by their order attribute, preserving model order for
// equal values.
func (m *Manager) resolveOrderedChildren(parent *model.Object, class model.ClassID) []*model.Object {
	var children []*model.Object
	for _, uri := range parent.Children(class) {
		if child, ok := m.store.Resolve(class, uri); ok {
			children = append(children, child)
		}
	}
	sort.SliceStable(children, func(i, j int) bool {
		return children[i].UintPropD(model.PropOrder, 0) <
			children[j].UintPropD(model.PropOrder, 0)
	})
	return children
}

// resolveRemoteSubnets collects the masked remote subnets referenced by a
// security-group rule, sorted and de-duplicated.
func (m *Manager) resolveRemoteSubnets(rule *model.Object) []RemoteSubnet {
	var out []RemoteSubnet
	seen := set.New[RemoteSubnet]()
	for _, ra := range rule.Refs(model.RelRuleToRemoteAddress) {
		subnets, ok := m.store.Resolve(model.ClassSubnets, ra.URI)
		if !ok {
			continue
		}
		for _, snURI := range subnets.Children(model.ClassSubnet) {
			sn, ok := m.store.Resolve(model.ClassSubnet, snURI)
			if !ok {
				continue
			}
			addrStr, okAddr := sn.StringProp(model.PropAddress)
			prefixLen, okLen := sn.ByteProp(model.PropPrefixLen)
			if !okAddr || !okLen {
				continue
			}
			addr := net.ParseIP(addrStr)
			if addr == nil {
				m.log.Warnf("Invalid remote subnet address for %s: %s", snURI, addrStr)
				continue
			}
			rs := RemoteSubnet{
				Address:   maskAddress(addr, prefixLen).String(),
				PrefixLen: prefixLen,
			}
			if !seen.Contains(rs) {
				seen.Add(rs)
				out = append(out, rs)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Address != out[j].Address {
			return out[i].Address < out[j].Address
		}
		return out[i].PrefixLen < out[j].PrefixLen
	})
	return out
}

// compilePolicyRules produces the ordered rule list for a contract or
// security group by joining its subjects, rules, classifiers and actions.
// oldRules is the previously compiled list, used for change detection and
// to report the redirect groups it referenced.
func (m *Manager) compilePolicyRules(classes ruleClassSet, parentURI model.URI,
	oldRules []*PolicyRule) (newRules []*PolicyRule, updated bool, notFound bool,
	oldRedirGrps, newRedirGrps set.Set[model.URI]) {

	oldRedirGrps = set.New[model.URI]()
	newRedirGrps = set.New[model.URI]()

	parent, ok := m.store.Resolve(classes.parent, parentURI)
	if !ok {
		return nil, false, true, oldRedirGrps, newRedirGrps
	}

	for _, subjURI := range parent.Children(classes.subject) {
		subject, ok := m.store.Resolve(classes.subject, subjURI)
		if !ok {
			continue
		}
		rules := m.resolveOrderedChildren(subject, classes.rule)

		rulePrio := MaxPolicyRulePriority
		for _, rule := range rules {
			direction, ok := rule.ByteProp(model.PropDirection)
			if !ok {
				continue // ignore rules with no direction
			}

			var remoteSubnets []RemoteSubnet
			if classes.remoteSubnets {
				remoteSubnets = m.resolveRemoteSubnets(rule)
			}

			var classifiers []*model.Object
			for _, ref := range rule.Refs(model.RelRuleToClassifier) {
				if ref.Class != model.ClassL24Classifier {
					continue
				}
				if cls, ok := m.store.Resolve(model.ClassL24Classifier, ref.URI); ok {
					classifiers = append(classifiers, cls)
				}
			}
			sort.SliceStable(classifiers, func(i, j int) bool {
				return classifiers[i].UintPropD(model.PropOrder, 0) <
					classifiers[j].UintPropD(model.PropOrder, 0)
			})

			ruleAllow := true
			ruleRedirect := false
			minOrder := uint32(math.MaxUint32)
			var destGrpURI model.URI
			for _, ref := range rule.Refs(model.RelRuleToAction) {
				switch ref.Class {
				case model.ClassAllowDenyAction:
					act, ok := m.store.Resolve(model.ClassAllowDenyAction, ref.URI)
					if !ok {
						continue
					}
					// The allow/deny action with the smallest order wins.
					order := act.UintPropD(model.PropOrder, math.MaxUint32-1)
					if order < minOrder {
						minOrder = order
						ruleAllow = act.BoolPropD(model.PropAllow, false)
					}
				case model.ClassRedirectAction:
					ruleRedirect = true
					ruleAllow = false
					act, ok := m.store.Resolve(model.ClassRedirectAction, ref.URI)
					if !ok {
						continue
					}
					destRef, ok := act.Ref(model.RelRedirectActionToDestGrp)
					if !ok {
						continue
					}
					destGrpURI = destRef.URI
					newRedirGrps.Add(destGrpURI)
				}
			}
			// A redirect overrides any allow/deny verdict, whatever the
			// order of the action references.
			if ruleRedirect {
				ruleAllow = false
			}

			clsPrio := uint16(0)
			for _, cls := range classifiers {
				newRules = append(newRules, &PolicyRule{
					direction:          direction,
					priority:           rulePrio - clsPrio,
					classifier:         cls,
					allow:              ruleAllow,
					remoteSubnets:      remoteSubnets,
					redirect:           ruleRedirect,
					redirectDestGrpURI: destGrpURI,
				})
				if clsPrio < 127 {
					clsPrio++
				}
			}
			// Priorities saturate near the floor; deeply nested rules
			// share the remaining priority space.
			if rulePrio > 128 {
				rulePrio -= 128
			}
		}
	}

	for _, rule := range oldRules {
		if rule.redirectDestGrpURI != "" {
			oldRedirGrps.Add(rule.redirectDestGrpURI)
		}
	}

	updated = !policyRuleListsEqual(oldRules, newRules)
	return newRules, updated, false, oldRedirGrps, newRedirGrps
}
