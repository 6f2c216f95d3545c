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

// Package policy implements the policy resolution core of the agent: it
// subscribes to the managed-object tree pushed by the controller and keeps
// resolved forwarding state (domain chains, contract rules, redirect
// groups, external networks) that the dataplane renderers consume.
package policy

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/projectcalico/calico/libcalico-go/lib/set"
	"github.com/sirupsen/logrus"

	"github.com/ovs-gbp/ovs-dataplane/gbp-ovs-agent/common"
	"github.com/ovs-gbp/ovs-dataplane/gbp-ovs-agent/model"
)

// MaxPolicyRulePriority is the priority assigned to the first rule of a
// subject; later rules count down from it.
const MaxPolicyRulePriority uint16 = 8192

const domainConfigURI model.URI = "/DomainConfig"

// PolicyListener receives change notifications from the Manager. Any
// callback may be a no-op. Callbacks are delivered outside the state lock,
// so a listener may call back into the query surface.
type PolicyListener interface {
	// EGDomainUpdated is called when an endpoint group's resolved
	// forwarding state changed.
	EGDomainUpdated(egURI model.URI)
	// DomainUpdated is called when a specific domain object changed,
	// including routing domains indirectly affected by a NAT EPG change.
	DomainUpdated(class model.ClassID, domURI model.URI)
	// ContractUpdated is called when a contract's compiled rules or
	// group membership changed.
	ContractUpdated(contractURI model.URI)
	// SecGroupUpdated is called when a security group's rules changed.
	SecGroupUpdated(secGroupURI model.URI)
	// ConfigUpdated is called when the platform config object changed.
	ConfigUpdated(configURI model.URI)
}

// Manager resolves the group-based-policy object model into forwarding
// state. All mutation runs on the task queue's single worker; reads may
// run on any goroutine.
type Manager struct {
	log          *logrus.Entry
	store        model.Store
	opflexDomain string
	taskQueue    *common.TaskQueue

	stateMutex       sync.Mutex
	groupMap         map[model.URI]*GroupState
	vnidMap          map[uint32]model.URI
	rdMap            map[model.URI]*RoutingDomainState
	l3nMap           map[model.URI]*L3NetworkState
	natEpgL3Ext      map[model.URI]set.Set[model.URI]
	contractMap      map[model.URI]*ContractState
	groupContractMap map[model.URI]*GroupContractState
	secGrpMap        map[model.URI][]*PolicyRule
	redirGrpMap      map[model.URI]*RedirectDestGrpState

	listenerMutex   sync.Mutex
	policyListeners []PolicyListener

	domainListener   domainListener
	contractListener contractListener
	secGroupListener secGroupListener
	configListener   configListener
}

// NewManager creates a policy manager for the given store. opflexDomain
// names the policy domain whose platform config the manager resolves on
// start.
func NewManager(store model.Store, opflexDomain string, log *logrus.Entry) *Manager {
	m := &Manager{
		log:          log,
		store:        store,
		opflexDomain: opflexDomain,
		taskQueue:    common.NewTaskQueue(log),
	}
	m.initState()
	m.domainListener.manager = m
	m.contractListener.manager = m
	m.secGroupListener.manager = m
	m.configListener.manager = m
	return m
}

func (m *Manager) initState() {
	m.groupMap = make(map[model.URI]*GroupState)
	m.vnidMap = make(map[uint32]model.URI)
	m.rdMap = make(map[model.URI]*RoutingDomainState)
	m.l3nMap = make(map[model.URI]*L3NetworkState)
	m.natEpgL3Ext = make(map[model.URI]set.Set[model.URI])
	m.contractMap = make(map[model.URI]*ContractState)
	m.groupContractMap = make(map[model.URI]*GroupContractState)
	m.secGrpMap = make(map[model.URI][]*PolicyRule)
	m.redirGrpMap = make(map[model.URI]*RedirectDestGrpState)
}

// Start registers the manager's sinks with the store and resolves the
// platform config for the policy domain.
func (m *Manager) Start() error {
	m.log.Debug("Starting policy manager")

	for _, class := range domainSinkClasses {
		m.store.RegisterListener(class, &m.domainListener)
	}
	for _, class := range contractSinkClasses {
		m.store.RegisterListener(class, &m.contractListener)
	}
	for _, class := range secGroupSinkClasses {
		m.store.RegisterListener(class, &m.secGroupListener)
	}
	for _, class := range configSinkClasses {
		m.store.RegisterListener(class, &m.configListener)
	}

	mutation := model.NewMutation().Write(
		model.NewObject(model.ClassDomainConfig, domainConfigURI).
			AddRef(model.RelDomainConfigToConfig, model.ClassPlatformConfig,
				PlatformConfigURI(m.opflexDomain)))
	if err := m.store.Commit(mutation); err != nil {
		return errors.Wrapf(err, "cannot resolve platform config for domain %s",
			m.opflexDomain)
	}
	return nil
}

// Stop unregisters the sinks, drains the task queue and clears all
// resolved state. Queued tasks still run to completion before Stop
// returns.
func (m *Manager) Stop() {
	m.log.Debug("Stopping policy manager")

	for _, class := range domainSinkClasses {
		m.store.UnregisterListener(class, &m.domainListener)
	}
	for _, class := range contractSinkClasses {
		m.store.UnregisterListener(class, &m.contractListener)
	}
	for _, class := range secGroupSinkClasses {
		m.store.UnregisterListener(class, &m.secGroupListener)
	}
	for _, class := range configSinkClasses {
		m.store.UnregisterListener(class, &m.configListener)
	}

	if err := m.taskQueue.Stop(); err != nil {
		m.log.WithError(err).Warn("Error stopping task queue")
	}

	m.stateMutex.Lock()
	m.initState()
	m.stateMutex.Unlock()
}

// PlatformConfigURI returns the URI of the platform config object for the
// named policy domain.
func PlatformConfigURI(domain string) model.URI {
	return model.URI("/PolicyUniverse/PlatformConfig/" + domain)
}

// RegisterListener adds a listener for policy change notifications. The
// manager does not manage the listener's lifetime.
func (m *Manager) RegisterListener(listener PolicyListener) {
	m.listenerMutex.Lock()
	defer m.listenerMutex.Unlock()
	m.policyListeners = append(m.policyListeners, listener)
}

// UnregisterListener removes a previously registered listener.
func (m *Manager) UnregisterListener(listener PolicyListener) {
	m.listenerMutex.Lock()
	defer m.listenerMutex.Unlock()
	kept := m.policyListeners[:0]
	for _, l := range m.policyListeners {
		if l != listener {
			kept = append(kept, l)
		}
	}
	m.policyListeners = kept
}

// A misbehaving listener must not prevent delivery to the others.
func (m *Manager) safeNotify(notify func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Errorf("policy listener panicked: %v", r)
		}
	}()
	notify()
}

func (m *Manager) notifyEPGDomain(egURI model.URI) {
	m.listenerMutex.Lock()
	defer m.listenerMutex.Unlock()
	for _, listener := range m.policyListeners {
		l := listener
		m.safeNotify(func() { l.EGDomainUpdated(egURI) })
	}
	notificationsSent.WithLabelValues("eg-domain").Inc()
}

func (m *Manager) notifyDomain(class model.ClassID, domURI model.URI) {
	m.listenerMutex.Lock()
	defer m.listenerMutex.Unlock()
	for _, listener := range m.policyListeners {
		l := listener
		m.safeNotify(func() { l.DomainUpdated(class, domURI) })
	}
	notificationsSent.WithLabelValues("domain").Inc()
}

func (m *Manager) notifyContract(contractURI model.URI) {
	m.listenerMutex.Lock()
	defer m.listenerMutex.Unlock()
	for _, listener := range m.policyListeners {
		l := listener
		m.safeNotify(func() { l.ContractUpdated(contractURI) })
	}
	notificationsSent.WithLabelValues("contract").Inc()
}

func (m *Manager) notifySecGroup(secGroupURI model.URI) {
	m.listenerMutex.Lock()
	defer m.listenerMutex.Unlock()
	for _, listener := range m.policyListeners {
		l := listener
		m.safeNotify(func() { l.SecGroupUpdated(secGroupURI) })
	}
	notificationsSent.WithLabelValues("sec-group").Inc()
}

func (m *Manager) notifyConfig(configURI model.URI) {
	m.listenerMutex.Lock()
	defer m.listenerMutex.Unlock()
	for _, listener := range m.policyListeners {
		l := listener
		m.safeNotify(func() { l.ConfigUpdated(configURI) })
	}
	notificationsSent.WithLabelValues("config").Inc()
}

// executeAndNotifyContract runs f under the state mutex and delivers a
// contract notification for every URI f added to the set, after the mutex
// is released.
func (m *Manager) executeAndNotifyContract(f func(notify set.Set[model.URI])) {
	notify := set.New[model.URI]()

	m.stateMutex.Lock()
	f(notify)
	m.stateMutex.Unlock()

	notify.Iter(func(uri model.URI) error {
		m.notifyContract(uri)
		return nil
	})
}
