// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/jeranaias/hamrah/internal/admin"
	"github.com/jeranaias/hamrah/internal/config"
	"github.com/jeranaias/hamrah/internal/export"
	"github.com/jeranaias/hamrah/internal/model"
	"github.com/jeranaias/hamrah/internal/storage"
)

// AdminCmd groups the admin console commands. Every subcommand unlocks the
// console first.
type AdminCmd struct {
	Password string `long:"password" env:"HAMRAH_ADMIN_PASSWORD" description:"Admin password (prompted when omitted)"`

	Personas      AdminPersonasCmd      `command:"personas" description:"List personas with every field"`
	Add           AdminAddCmd           `command:"add" description:"Create a persona"`
	Edit          AdminEditCmd          `command:"edit" description:"Edit a persona"`
	Rm            AdminRmCmd            `command:"rm" description:"Delete a persona"`
	Conversations AdminConversationsCmd `command:"conversations" description:"List conversations, newest first"`
	Show          AdminShowCmd          `command:"show" description:"Print a conversation transcript"`
	Delete        AdminDeleteCmd        `command:"delete" description:"Delete a conversation"`
	CSV           AdminCSVCmd           `command:"csv" description:"Export every message as CSV"`

	app *App
}

// unlock opens the environment and the console.
func (c *AdminCmd) unlock() (*env, error) {
	e, err := c.app.open()
	if err != nil {
		return nil, err
	}
	pw := c.Password
	if pw == "" {
		if !IsTTY() {
			return nil, ErrPasswordRequired
		}
		if pw, err = ReadPassword("Admin password: "); err != nil {
			return nil, err
		}
	}
	if err := e.console.Unlock(pw); err != nil {
		return nil, err
	}
	return e, nil
}

func oneArg(command string, args []string, name string) (string, error) {
	if len(args) != 1 {
		return "", usageErrorf(command, "expected exactly one %s", name)
	}
	return args[0], nil
}

// =============================================================================
// PERSONAS
// =============================================================================

// AdminPersonasCmd lists personas in full.
type AdminPersonasCmd struct {
	JSON bool `long:"json" description:"Print as JSON"`

	admin *AdminCmd
}

// Execute implements flags.Commander.
func (c *AdminPersonasCmd) Execute(args []string) error {
	e, err := c.admin.unlock()
	if err != nil {
		return err
	}
	personas, err := e.console.Personas()
	if err != nil {
		return err
	}
	if c.JSON {
		return writeJSON(c.admin.app, personas)
	}
	w := c.admin.app.stdout
	for i, p := range personas {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprint(w, formatPersona(p))
	}
	return nil
}

// PersonaFlags are the editable persona fields.
type PersonaFlags struct {
	Name        string `short:"n" long:"name" description:"Display name"`
	Age         int    `short:"a" long:"age" description:"Age, greater than zero"`
	Avatar      string `long:"avatar" description:"Avatar image reference"`
	Bio         string `long:"bio" description:"Biography shown to users"`
	Instruction string `short:"i" long:"instruction" description:"Behavior instruction sent to the model"`
}

// apply overlays the flags that were set onto d.
func (f PersonaFlags) apply(d model.PersonaDraft) model.PersonaDraft {
	if f.Name != "" {
		d.Name = f.Name
	}
	if f.Age != 0 {
		d.Age = f.Age
	}
	if f.Avatar != "" {
		d.AvatarRef = f.Avatar
	}
	if f.Bio != "" {
		d.Biography = f.Bio
	}
	if f.Instruction != "" {
		d.BehaviorInstruction = f.Instruction
	}
	return d
}

// AdminAddCmd creates a persona.
type AdminAddCmd struct {
	PersonaFlags

	admin *AdminCmd
}

// Execute implements flags.Commander.
func (c *AdminAddCmd) Execute(args []string) error {
	e, err := c.admin.unlock()
	if err != nil {
		return err
	}
	p, err := e.console.CreatePersona(c.apply(model.NewPersonaDraft()))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.admin.app.stdout, SuccessStyle.Render("Created persona "+p.ID))
	return nil
}

// AdminEditCmd edits a persona. Flags that are not given keep their values.
type AdminEditCmd struct {
	PersonaFlags

	admin *AdminCmd
}

// Execute implements flags.Commander.
func (c *AdminEditCmd) Execute(args []string) error {
	id, err := oneArg("admin edit", args, "persona id")
	if err != nil {
		return err
	}
	e, err := c.admin.unlock()
	if err != nil {
		return err
	}
	current, err := e.personas.Get(id)
	if err != nil {
		return err
	}
	p, found, err := e.console.UpdatePersona(id, c.apply(current.Draft()))
	if err != nil {
		return err
	}
	if !found {
		// Deleted between the read and the write.
		fmt.Fprintln(c.admin.app.stdout, WarningStyle.Render("Persona "+id+" no longer exists; nothing changed."))
		return nil
	}
	fmt.Fprintln(c.admin.app.stdout, SuccessStyle.Render("Updated persona "+p.ID))
	return nil
}

// AdminRmCmd deletes a persona.
type AdminRmCmd struct {
	admin *AdminCmd
}

// Execute implements flags.Commander.
func (c *AdminRmCmd) Execute(args []string) error {
	id, err := oneArg("admin rm", args, "persona id")
	if err != nil {
		return err
	}
	e, err := c.admin.unlock()
	if err != nil {
		return err
	}
	if _, err := e.personas.Get(id); err != nil {
		return err
	}
	if err := e.console.DeletePersona(id); err != nil {
		return err
	}
	fmt.Fprintln(c.admin.app.stdout, SuccessStyle.Render("Deleted persona "+id))
	return nil
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// AdminConversationsCmd lists conversations.
type AdminConversationsCmd struct {
	Search string `short:"q" long:"search" description:"Only conversations whose title or messages contain this text"`
	JSON   bool   `long:"json" description:"Print as JSON"`

	admin *AdminCmd
}

// Execute implements flags.Commander.
func (c *AdminConversationsCmd) Execute(args []string) error {
	e, err := c.admin.unlock()
	if err != nil {
		return err
	}
	convs, err := e.console.Conversations()
	if err != nil {
		return err
	}
	if c.Search != "" {
		convs = filterByIDs(convs, e.convs.SearchMessages(c.Search))
	}
	if c.JSON {
		return writeJSON(c.admin.app, convs)
	}
	fmt.Fprintln(c.admin.app.stdout, storage.FormatConversationList(convs))
	return nil
}

// filterByIDs keeps the entries of convs that appear in matches, in the
// order of convs.
func filterByIDs(convs, matches []model.Conversation) []model.Conversation {
	keep := make(map[string]bool, len(matches))
	for _, m := range matches {
		keep[m.ID] = true
	}
	out := make([]model.Conversation, 0, len(matches))
	for _, c := range convs {
		if keep[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

// AdminShowCmd prints one conversation.
type AdminShowCmd struct {
	Format string `short:"f" long:"format" default:"txt" choice:"txt" choice:"json" choice:"md" description:"Output format"`

	admin *AdminCmd
}

// Execute implements flags.Commander.
func (c *AdminShowCmd) Execute(args []string) error {
	id, err := oneArg("admin show", args, "conversation id")
	if err != nil {
		return err
	}
	e, err := c.admin.unlock()
	if err != nil {
		return err
	}
	conv, err := e.console.Conversation(id)
	if err != nil {
		return err
	}
	format, err := export.ParseFormat(c.Format)
	if err != nil {
		return usageErrorf("admin show", "%v", err)
	}
	dl, err := e.svc.ExportConversation(conv, format)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.admin.app.stdout, string(dl.Content))
	return nil
}

// AdminDeleteCmd deletes a conversation.
type AdminDeleteCmd struct {
	admin *AdminCmd
}

// Execute implements flags.Commander.
func (c *AdminDeleteCmd) Execute(args []string) error {
	id, err := oneArg("admin delete", args, "conversation id")
	if err != nil {
		return err
	}
	e, err := c.admin.unlock()
	if err != nil {
		return err
	}
	if _, err := e.console.Conversation(id); err != nil {
		return err
	}
	if err := e.console.DeleteConversation(id); err != nil {
		return err
	}
	fmt.Fprintln(c.admin.app.stdout, SuccessStyle.Render("Deleted conversation "+id))
	return nil
}

// AdminCSVCmd exports all messages as CSV.
type AdminCSVCmd struct {
	Out string `short:"o" long:"out" value-name:"DIR" description:"Write conversations_export.csv into DIR instead of stdout"`

	admin *AdminCmd
}

// Execute implements flags.Commander.
func (c *AdminCSVCmd) Execute(args []string) error {
	e, err := c.admin.unlock()
	if err != nil {
		return err
	}
	return exportCSV(c.admin.app, e.console, c.Out)
}

func exportCSV(a *App, console *admin.Console, dir string) error {
	if dir == "" {
		return console.ExportCSV(a.stdout)
	}
	path, err := console.ExportCSVToFile(config.ExpandHome(dir))
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stderr, SuccessStyle.Render("Exported to "+path))
	return nil
}
