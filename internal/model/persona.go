// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// Persona is a character definition. Only BehaviorInstruction reaches the
// completion service; the other fields are presentation.
type Persona struct {
	ID                  string `json:"id" yaml:"id"`
	Name                string `json:"name" yaml:"name"`
	Age                 int    `json:"age" yaml:"age"`
	AvatarRef           string `json:"avatarRef" yaml:"avatar_ref"`
	Biography           string `json:"biography" yaml:"biography"`
	BehaviorInstruction string `json:"behaviorInstruction" yaml:"behavior_instruction"`
}

// PersonaDraft holds the editable fields of a persona.
type PersonaDraft struct {
	Name                string `json:"name"`
	Age                 int    `json:"age"`
	AvatarRef           string `json:"avatarRef"`
	BehaviorInstruction string `json:"behaviorInstruction"`
	Biography           string `json:"biography"`
}

// DefaultDraftAge is the age pre-filled for new personas.
const DefaultDraftAge = 18

// NewPersonaDraft returns an empty draft with default values.
func NewPersonaDraft() PersonaDraft {
	return PersonaDraft{Age: DefaultDraftAge}
}

// Draft returns the editable fields of p.
func (p Persona) Draft() PersonaDraft {
	return PersonaDraft{
		Name:                p.Name,
		Age:                 p.Age,
		AvatarRef:           p.AvatarRef,
		Biography:           p.Biography,
		BehaviorInstruction: p.BehaviorInstruction,
	}
}

// WithDraft returns p with its editable fields replaced. The ID is unchanged.
func (p Persona) WithDraft(d PersonaDraft) Persona {
	p.Name = d.Name
	p.Age = d.Age
	p.AvatarRef = d.AvatarRef
	p.Biography = d.Biography
	p.BehaviorInstruction = d.BehaviorInstruction
	return p
}
