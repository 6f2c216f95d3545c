// Copyright (C) 2021 Cisco Systems Inc.
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

package model

// Listener receives object-updated events from a Store. The store invokes
// ObjectUpdated on its own goroutine; implementations must not block and
// must not mutate agent state directly, only hand off work.
type Listener interface {
	ObjectUpdated(class ClassID, uri URI)
}

// Store resolves URIs to immutable object handles and dispatches change
// events to registered listeners. The policy core references the store
// only through this contract.
type Store interface {
	// Resolve returns the current handle for the object of the given
	// class at uri, or false if no such object exists.
	Resolve(class ClassID, uri URI) (*Object, bool)

	// RegisterListener subscribes the listener to updates for all
	// objects of the given class.
	RegisterListener(class ClassID, listener Listener)

	// UnregisterListener removes a previously registered listener.
	UnregisterListener(class ClassID, listener Listener)

	// Commit applies a mutation transactionally and dispatches update
	// events for every object it touched.
	Commit(mutation *Mutation) error
}

// Mutation is a transactional batch of object writes and removals.
type Mutation struct {
	writes  []*Object
	removes []Reference
}

func NewMutation() *Mutation {
	return &Mutation{}
}

// Write stages an object to be created or replaced.
func (m *Mutation) Write(obj *Object) *Mutation {
	m.writes = append(m.writes, obj)
	return m
}

// Remove stages the removal of the object of the given class at uri.
func (m *Mutation) Remove(class ClassID, uri URI) *Mutation {
	m.removes = append(m.removes, Reference{Class: class, URI: uri})
	return m
}

// Writes returns the staged writes, in order.
func (m *Mutation) Writes() []*Object {
	return m.writes
}

// Removes returns the staged removals, in order.
func (m *Mutation) Removes() []Reference {
	return m.removes
}
