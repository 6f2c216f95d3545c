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

// Package model describes the managed-object tree the controller pushes to
// the agent: opaque hierarchical URIs, class identifiers, and immutable
// object handles resolved through a Store.
package model

import "fmt"

// URI identifies a managed object. URIs are opaque hierarchical strings
// with value equality and lexicographic ordering.
type URI string

func (u URI) String() string {
	return string(u)
}

// ClassID identifies the model class of a managed object.
type ClassID int

// Reference is a typed link from one managed object to another.
type Reference struct {
	Class ClassID
	URI   URI
}

// Object is an immutable handle to a managed object produced by a Store.
// The same *Object is returned from Resolve until the store replaces the
// object, so handle identity tracks object version. Objects must not be
// modified after they have been handed to a Store.
type Object struct {
	class    ClassID
	uri      URI
	props    map[string]interface{}
	refs     map[string][]Reference
	children map[ClassID][]URI
}

// NewObject creates an object for the given class and URI. The Set/Add
// methods may be chained while the object is being built; once committed
// to a store the object must be treated as read-only.
func NewObject(class ClassID, uri URI) *Object {
	return &Object{
		class: class,
		uri:   uri,
	}
}

func (o *Object) Class() ClassID {
	return o.class
}

func (o *Object) URI() URI {
	return o.uri
}

// SetProp sets a scalar property. Supported value types are string,
// uint32, uint8 and bool.
func (o *Object) SetProp(name string, value interface{}) *Object {
	if o.props == nil {
		o.props = make(map[string]interface{})
	}
	o.props[name] = value
	return o
}

// AddRef appends a reference to the named relation.
func (o *Object) AddRef(name string, class ClassID, target URI) *Object {
	if o.refs == nil {
		o.refs = make(map[string][]Reference)
	}
	o.refs[name] = append(o.refs[name], Reference{Class: class, URI: target})
	return o
}

// AddChild appends a child URI for the given child class.
func (o *Object) AddChild(class ClassID, child URI) *Object {
	if o.children == nil {
		o.children = make(map[ClassID][]URI)
	}
	o.children[class] = append(o.children[class], child)
	return o
}

// StringProp returns the named string property.
func (o *Object) StringProp(name string) (string, bool) {
	v, ok := o.props[name].(string)
	return v, ok
}

// UintProp returns the named uint32 property.
func (o *Object) UintProp(name string) (uint32, bool) {
	v, ok := o.props[name].(uint32)
	return v, ok
}

// UintPropD returns the named uint32 property, or def if unset.
func (o *Object) UintPropD(name string, def uint32) uint32 {
	if v, ok := o.UintProp(name); ok {
		return v
	}
	return def
}

// ByteProp returns the named uint8 property.
func (o *Object) ByteProp(name string) (uint8, bool) {
	v, ok := o.props[name].(uint8)
	return v, ok
}

// BytePropD returns the named uint8 property, or def if unset.
func (o *Object) BytePropD(name string, def uint8) uint8 {
	if v, ok := o.ByteProp(name); ok {
		return v
	}
	return def
}

// BoolPropD returns the named bool property, or def if unset.
func (o *Object) BoolPropD(name string, def bool) bool {
	if v, ok := o.props[name].(bool); ok {
		return v
	}
	return def
}

// Ref returns the first reference of the named relation.
func (o *Object) Ref(name string) (Reference, bool) {
	refs := o.refs[name]
	if len(refs) == 0 {
		return Reference{}, false
	}
	return refs[0], true
}

// Refs returns all references of the named relation, in model order.
func (o *Object) Refs(name string) []Reference {
	return o.refs[name]
}

// Children returns the URIs of the children of the given class, in model
// order.
func (o *Object) Children(class ClassID) []URI {
	return o.children[class]
}

func (o *Object) String() string {
	return fmt.Sprintf("%v[%s]", o.class, o.uri)
}

// Equal reports whether two objects have the same class, URI, properties,
// references and children. It is used by stores to detect no-op rewrites.
func (o *Object) Equal(other *Object) bool {
	if o == other {
		return true
	}
	if o == nil || other == nil {
		return false
	}
	if o.class != other.class || o.uri != other.uri ||
		len(o.props) != len(other.props) ||
		len(o.refs) != len(other.refs) ||
		len(o.children) != len(other.children) {
		return false
	}
	for k, v := range o.props {
		if ov, ok := other.props[k]; !ok || ov != v {
			return false
		}
	}
	for k, v := range o.refs {
		ov, ok := other.refs[k]
		if !ok || len(ov) != len(v) {
			return false
		}
		for i := range v {
			if v[i] != ov[i] {
				return false
			}
		}
	}
	for k, v := range o.children {
		ov, ok := other.children[k]
		if !ok || len(ov) != len(v) {
			return false
		}
		for i := range v {
			if v[i] != ov[i] {
				return false
			}
		}
	}
	return true
}
