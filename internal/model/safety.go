// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
)

// SafetyPolicy is the content-filter strictness for a conversation.
type SafetyPolicy string

const (
	SafetyDefault    SafetyPolicy = "default"
	SafetyRelaxed    SafetyPolicy = "relaxed"
	SafetyUnfiltered SafetyPolicy = "unfiltered"
)

// SafetyPolicies lists every policy from strictest to least strict.
var SafetyPolicies = []SafetyPolicy{SafetyDefault, SafetyRelaxed, SafetyUnfiltered}

// Valid reports whether p is a known policy.
func (p SafetyPolicy) Valid() bool {
	switch p {
	case SafetyDefault, SafetyRelaxed, SafetyUnfiltered:
		return true
	}
	return false
}

// ParseSafetyPolicy parses a policy name, case-insensitively.
func ParseSafetyPolicy(s string) (SafetyPolicy, error) {
	p := SafetyPolicy(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown safety policy %q (want default, relaxed or unfiltered)", s)
	}
	return p, nil
}
