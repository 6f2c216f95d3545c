// Copyright (C) 2022 Cisco Systems Inc.
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

// Package memstore is an in-memory implementation of model.Store. It backs
// the test suites and standalone agent runs where no management connection
// is available.
package memstore

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ovs-gbp/ovs-dataplane/gbp-ovs-agent/model"
)

// Store is an in-memory model.Store. Commits are applied transactionally
// under an internal lock; listener callbacks are delivered on the
// committing goroutine, after the lock is released, so listeners may
// re-enter Resolve.
type Store struct {
	log *logrus.Entry

	objMutex sync.Mutex
	objects  map[model.ClassID]map[model.URI]*model.Object

	listenerMutex sync.Mutex
	listeners     map[model.ClassID][]model.Listener
}

func NewStore(log *logrus.Entry) *Store {
	return &Store{
		log:       log,
		objects:   make(map[model.ClassID]map[model.URI]*model.Object),
		listeners: make(map[model.ClassID][]model.Listener),
	}
}

func (s *Store) Resolve(class model.ClassID, uri model.URI) (*model.Object, bool) {
	s.objMutex.Lock()
	defer s.objMutex.Unlock()
	obj, ok := s.objects[class][uri]
	return obj, ok
}

func (s *Store) RegisterListener(class model.ClassID, listener model.Listener) {
	s.listenerMutex.Lock()
	defer s.listenerMutex.Unlock()
	s.listeners[class] = append(s.listeners[class], listener)
}

func (s *Store) UnregisterListener(class model.ClassID, listener model.Listener) {
	s.listenerMutex.Lock()
	defer s.listenerMutex.Unlock()
	kept := s.listeners[class][:0]
	for _, l := range s.listeners[class] {
		if l != listener {
			kept = append(kept, l)
		}
	}
	s.listeners[class] = kept
}

// Commit applies the mutation and dispatches ObjectUpdated for every object
// it changed. Rewriting an object with identical content keeps the existing
// handle and dispatches nothing, so a replayed commit is a no-op.
func (s *Store) Commit(mutation *model.Mutation) error {
	if mutation == nil {
		return errors.New("nil mutation")
	}

	for _, obj := range mutation.Writes() {
		if obj == nil {
			return errors.New("mutation contains a nil object")
		}
		if obj.URI() == "" {
			return errors.Errorf("object of class %v has an empty URI", obj.Class())
		}
	}

	var touched []model.Reference

	s.objMutex.Lock()
	for _, obj := range mutation.Writes() {
		byURI := s.objects[obj.Class()]
		if byURI == nil {
			byURI = make(map[model.URI]*model.Object)
			s.objects[obj.Class()] = byURI
		}
		if existing, ok := byURI[obj.URI()]; ok && existing.Equal(obj) {
			continue
		}
		byURI[obj.URI()] = obj
		touched = append(touched, model.Reference{Class: obj.Class(), URI: obj.URI()})
	}
	for _, rm := range mutation.Removes() {
		if _, ok := s.objects[rm.Class][rm.URI]; !ok {
			continue
		}
		delete(s.objects[rm.Class], rm.URI)
		touched = append(touched, rm)
	}
	s.objMutex.Unlock()

	s.log.Debugf("Committed mutation: %d writes, %d removes, %d changed",
		len(mutation.Writes()), len(mutation.Removes()), len(touched))

	for _, ref := range touched {
		for _, l := range s.listenersFor(ref.Class) {
			l.ObjectUpdated(ref.Class, ref.URI)
		}
	}
	return nil
}

// Touch redelivers an ObjectUpdated event for an object without changing
// it, the way a controller replacing an enclosing fragment does.
func (s *Store) Touch(class model.ClassID, uri model.URI) {
	for _, l := range s.listenersFor(class) {
		l.ObjectUpdated(class, uri)
	}
}

func (s *Store) listenersFor(class model.ClassID) []model.Listener {
	s.listenerMutex.Lock()
	defer s.listenerMutex.Unlock()
	ls := make([]model.Listener, len(s.listeners[class]))
	copy(ls, s.listeners[class])
	return ls
}
