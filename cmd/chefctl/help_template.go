// File: cmd/chefctl/help_template.go
// Brief: Shared Cobra help template for chefctl commands.

package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	flagsHeadingKey = "chefctl.flagsHeading"
	helpWrapWidth   = 100
)

const commandHelpTemplate = `{{with or .Long .Short}}{{. | trimTrailingWhitespaces}}{{end}}

Usage:
  {{.UseLine}}
{{if .HasAvailableSubCommands}}
Subcommands:
{{range .Commands}}{{if (and .IsAvailableCommand (ne .Name "help"))}}  {{rpad .Name .NamePadding}} {{.Short}}
{{end}}{{end}}{{end}}
{{- if .HasExample}}
Examples:
{{.Example}}
{{end}}
{{flagsHeading .}}:
{{if .HasAvailableLocalFlags}}{{wrappedFlags .LocalFlags}}{{else}}  (none){{end}}
{{if .HasAvailableInheritedFlags}}
Global Flags:
{{wrappedFlags .InheritedFlags}}
{{end}}`

func init() {
	cobra.AddTemplateFunc("flagsHeading", flagsHeading)
	cobra.AddTemplateFunc("wrappedFlags", formatFlagUsages)
}

// decorateCommandHelp installs the chefctl help layout on cmd. An empty
// heading derives one from the command name ("History Flags").
func decorateCommandHelp(cmd *cobra.Command, heading string) {
	if strings.TrimSpace(heading) == "" {
		heading = titleCase(cmd.Name()) + " Flags"
	}
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[flagsHeadingKey] = heading
	cmd.SetHelpTemplate(commandHelpTemplate)
}

func flagsHeading(cmd *cobra.Command) string {
	if heading := cmd.Annotations[flagsHeadingKey]; heading != "" {
		return heading
	}
	return "Flags"
}

// titleCase turns a command name like "client-config" into "Client Config".
func titleCase(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "-", " "))
	if s == "" {
		return ""
	}
	return cases.Title(language.English).String(s)
}

func formatFlagUsages(fs *pflag.FlagSet) string {
	if fs == nil {
		return ""
	}
	usages := fs.FlagUsagesWrapped(helpWrapWidth)
	return strings.TrimRight(strings.ReplaceAll(usages, "\t", "  "), "\n")
}
