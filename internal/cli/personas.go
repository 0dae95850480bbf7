// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jeranaias/hamrah/internal/model"
	"github.com/jeranaias/hamrah/internal/util"
)

// PersonasCmd lists personas.
type PersonasCmd struct {
	JSON bool `long:"json" description:"Print as JSON"`

	app *App
}

// Execute implements flags.Commander.
func (c *PersonasCmd) Execute(args []string) error {
	e, err := c.app.open()
	if err != nil {
		return err
	}
	personas := e.personas.List()
	if c.JSON {
		return writeJSON(c.app, personas)
	}
	fmt.Fprint(c.app.stdout, formatPersonaTable(personas))
	return nil
}

const (
	personaIDWidth   = 24
	personaNameWidth = 16
	personaAgeWidth  = 4
	personaBioWidth  = 44
)

// formatPersonaTable renders personas as aligned columns. Widths are display
// columns so Persian names line up.
func formatPersonaTable(personas []model.Persona) string {
	if len(personas) == 0 {
		return "No personas found.\n"
	}

	var sb strings.Builder
	sb.WriteString(util.PadRight("ID", personaIDWidth) + " " +
		util.PadRight("Name", personaNameWidth) + " " +
		util.PadRight("Age", personaAgeWidth) + " Biography\n")
	sb.WriteString(strings.Repeat("-", personaIDWidth+personaNameWidth+personaAgeWidth+personaBioWidth+3) + "\n")
	for _, p := range personas {
		sb.WriteString(util.PadRight(util.TruncateWidth(p.ID, personaIDWidth), personaIDWidth) + " " +
			util.PadRight(util.TruncateWidth(p.Name, personaNameWidth), personaNameWidth) + " " +
			util.PadRight(strconv.Itoa(p.Age), personaAgeWidth) + " " +
			util.TruncateWidth(util.SingleLine(p.Biography), personaBioWidth) + "\n")
	}
	return sb.String()
}

// formatPersona renders one persona with every field.
func formatPersona(p model.Persona) string {
	var sb strings.Builder
	sb.WriteString(TitleStyle.Render(p.Name) + "\n")
	sb.WriteString(RenderKeyValue("ID", p.ID) + "\n")
	sb.WriteString(RenderKeyValue("Age", strconv.Itoa(p.Age)) + "\n")
	if p.AvatarRef != "" {
		sb.WriteString(RenderKeyValue("Avatar", p.AvatarRef) + "\n")
	}
	sb.WriteString(RenderKeyValue("Biography", p.Biography) + "\n")
	sb.WriteString(RenderKeyValue("Instruction", p.BehaviorInstruction) + "\n")
	return sb.String()
}

func writeJSON(a *App, v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
