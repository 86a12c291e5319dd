package feedback

import (
	"fmt"
	"strings"

	"mapgen/internal/evidence"
)

// PromptBuilder constructs the instructions sent to the generator.
type PromptBuilder struct {
	// KeyReminder heads the legal-key listing repeated in every repair
	// instruction, since the generator does not remember earlier calls.
	KeyReminder string
}

// NewPromptBuilder creates a prompt builder with the default reminder.
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{KeyReminder: defaultKeyReminder}
}

const defaultKeyReminder = `## Allowed keys

Only use property, variant and layer names that exist on the design component.
Any other key is rejected. The complete list per helper:
`

// RepairContext is everything a repair instruction is built from.
type RepairContext struct {
	InitialInstruction string
	PreviousCandidate  string
	Errors             []string
	Attempt            int // the attempt this instruction is for
	MaxAttempts        int
	KeySets            *KeySets
}

// BuildRepairInstruction appends the previous candidate, every error it
// produced and the legal-key reminder to the initial instruction.
func (pb *PromptBuilder) BuildRepairInstruction(rc RepairContext) string {
	var sb strings.Builder

	sb.WriteString(rc.InitialInstruction)
	sb.WriteString(fmt.Sprintf("\n\n## VALIDATION FAILED (attempt %d/%d)\n\n", rc.Attempt, rc.MaxAttempts))

	if rc.PreviousCandidate != "" {
		sb.WriteString("Your previous mapping:\n```tsx\n")
		sb.WriteString(strings.TrimRight(rc.PreviousCandidate, "\n"))
		sb.WriteString("\n```\n\n")
	}

	sb.WriteString("### Errors Found:\n\n")
	for i, e := range rc.Errors {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, e))
	}
	sb.WriteString("\n")

	sb.WriteString(pb.KeyReminder)
	if rc.KeySets != nil {
		sb.WriteString(rc.KeySets.Describe())
	}

	sb.WriteString("\nFix every error above and return the complete corrected file only.\n")
	if rc.MaxAttempts > 0 && rc.Attempt >= rc.MaxAttempts {
		sb.WriteString("This is the final attempt: drop any mapping you are unsure about rather than guess a key.\n")
	}
	return sb.String()
}

// ImplementationHint names the code component an artifact should bind to.
type ImplementationHint struct {
	Name       string // exported component name, e.g. "Button"
	ImportPath string // module specifier, e.g. "./Button"
}

// BuildInitialInstruction returns a default first-attempt instruction for ev.
func (pb *PromptBuilder) BuildInitialInstruction(ev *evidence.Evidence, hint ImplementationHint, profile TargetProfile) string {
	var sb strings.Builder

	name := hint.Name
	if name == "" {
		name = ev.ComponentName
	}

	sb.WriteString(fmt.Sprintf("Write a Figma Code Connect file (%s) mapping the design component %q to the code component %s.\n",
		profile.Extension(), ev.ComponentName, name))
	if hint.ImportPath != "" {
		sb.WriteString(fmt.Sprintf("Import %s from %q.\n", name, hint.ImportPath))
	}
	if profile == ProfileHTML {
		sb.WriteString("Import figma from \"@figma/code-connect/html\" and return an html`` template from example.\n")
	} else {
		sb.WriteString("Import figma from \"@figma/code-connect\" and return JSX from example.\n")
	}
	url := ev.URL
	if url == "" {
		url = "<FIGMA_URL>"
	}
	sb.WriteString(fmt.Sprintf("Use figma.connect(%s, %q, { props: {...}, example: ... }).\n\n", name, url))

	writeSurface(&sb, ev)
	sb.WriteString("\n")
	sb.WriteString(pb.KeyReminder)
	sb.WriteString(BuildKeySets(ev).Describe())
	sb.WriteString("\nReturn only the file contents.\n")
	return sb.String()
}

func writeSurface(sb *strings.Builder, ev *evidence.Evidence) {
	sb.WriteString("## Design component\n\n")
	for _, axis := range ev.VariantAxes {
		kind := "variant"
		if axis.IsBoolean() {
			kind = "variant, boolean"
		}
		sb.WriteString(fmt.Sprintf("- %q (%s): %s\n", axis.Name, kind, formatNames(axis.Values)))
	}
	for _, p := range ev.ScalarProperties {
		sb.WriteString(fmt.Sprintf("- %q (%s)\n", p.Name, p.Kind))
	}
	for _, s := range ev.TextSlots {
		sb.WriteString(fmt.Sprintf("- text layer %q\n", s.Name))
	}
	for _, s := range ev.ContentSlots {
		sb.WriteString(fmt.Sprintf("- content layer %q\n", s.Name))
	}
}
