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

// Group-based-policy model classes used by the policy core.
const (
	ClassPlatformConfig ClassID = iota + 1
	ClassDomainConfig
	ClassEpGroup
	ClassRoutingDomain
	ClassBridgeDomain
	ClassFloodDomain
	ClassFloodContext
	ClassSubnets
	ClassSubnet
	ClassL3ExternalDomain
	ClassL3ExternalNetwork
	ClassInstContext
	ClassEndpointRetention
	ClassContract
	ClassSubject
	ClassRule
	ClassL24Classifier
	ClassAllowDenyAction
	ClassRedirectAction
	ClassRedirectDestGroup
	ClassRedirectDest
	ClassSecGroup
	ClassSecGroupSubject
	ClassSecGroupRule
)

var classNames = map[ClassID]string{
	ClassPlatformConfig:    "PlatformConfig",
	ClassDomainConfig:      "DomainConfig",
	ClassEpGroup:           "EpGroup",
	ClassRoutingDomain:     "RoutingDomain",
	ClassBridgeDomain:      "BridgeDomain",
	ClassFloodDomain:       "FloodDomain",
	ClassFloodContext:      "FloodContext",
	ClassSubnets:           "Subnets",
	ClassSubnet:            "Subnet",
	ClassL3ExternalDomain:  "L3ExternalDomain",
	ClassL3ExternalNetwork: "L3ExternalNetwork",
	ClassInstContext:       "InstContext",
	ClassEndpointRetention: "EndpointRetention",
	ClassContract:          "Contract",
	ClassSubject:           "Subject",
	ClassRule:              "Rule",
	ClassL24Classifier:     "L24Classifier",
	ClassAllowDenyAction:   "AllowDenyAction",
	ClassRedirectAction:    "RedirectAction",
	ClassRedirectDestGroup: "RedirectDestGroup",
	ClassRedirectDest:      "RedirectDest",
	ClassSecGroup:          "SecGroup",
	ClassSecGroupSubject:   "SecGroupSubject",
	ClassSecGroupRule:      "SecGroupRule",
}

func (c ClassID) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return "Unknown"
}

// Scalar property names.
const (
	PropOrder            = "order"
	PropDirection        = "direction"
	PropAllow            = "allow"
	PropEncapID          = "encapId"
	PropMulticastGroupIP = "multicastGroupIP"
	PropClassSelector    = "classSelector"
	PropAddress          = "address"
	PropPrefixLen        = "prefixLen"
	PropVirtualRouterIP  = "virtualRouterIp"
	PropRoutingMode      = "routingMode"
	PropHashAlgo         = "hashAlgo"
	PropResilientHash    = "resilientHashEnabled"
	PropIP               = "ip"
	PropMAC              = "mac"
)

// Reference relation names.
const (
	RelEpGroupToNetwork        = "EpGroupToNetwork"
	RelEpGroupToSubnets        = "EpGroupToSubnets"
	RelEpGroupToProvContract   = "EpGroupToProvContract"
	RelEpGroupToConsContract   = "EpGroupToConsContract"
	RelEpGroupToIntraContract  = "EpGroupToIntraContract"
	RelBridgeDomainToNetwork   = "BridgeDomainToNetwork"
	RelFloodDomainToNetwork    = "FloodDomainToNetwork"
	RelForwardingGroupSubnets  = "ForwardingGroupToSubnets"
	RelInstContextToRetention  = "InstContextToEpRetention"
	RelL3ExtNetToNatEPGroup    = "L3ExternalNetworkToNatEPGroup"
	RelL3ExtNetToProvContract  = "L3ExternalNetworkToProvContract"
	RelL3ExtNetToConsContract  = "L3ExternalNetworkToConsContract"
	RelRuleToClassifier        = "RuleToClassifier"
	RelRuleToAction            = "RuleToAction"
	RelRuleToRemoteAddress     = "RuleToRemoteAddress"
	RelRedirectActionToDestGrp = "RedirectActionToDestGrp"
	RelRedirectDestToDomain    = "RedirectDestToDomain"
	RelDomainConfigToConfig    = "DomainConfigToConfig"
)

// Rule direction values.
const (
	DirectionIn            uint8 = 1
	DirectionOut           uint8 = 2
	DirectionBidirectional uint8 = 3
)

// Bridge-domain routing mode values.
const (
	RoutingModeDisabled uint8 = 0
	RoutingModeEnabled  uint8 = 1
)

// Redirect destination group hashing algorithms.
const (
	HashAlgoSymmetric uint8 = 0
	HashAlgoSrcIP     uint8 = 1
	HashAlgoDstIP     uint8 = 2
)
