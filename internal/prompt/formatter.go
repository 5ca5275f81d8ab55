// Package prompt renders an ordered conversation into a single text prompt
// with role labels understood by the completion endpoint.
package prompt

import (
	"strings"

	"github.com/easygp/server/domain/repositories"
)

const (
	labelSystem    = "System:"
	labelUser      = "User:"
	labelAssistant = "Assistant:"
)

// DefaultSystemPrompt is used when the caller supplies no override.
const DefaultSystemPrompt = "You are a careful primary-care triage assistant. " +
	"Ask about one symptom at a time, never diagnose, and keep replies short."

// Format concatenates the conversation turns in order, prefixing each with
// its role label. A non-empty schemaInstruction is prepended as a system
// turn demanding JSON-only output. If the final turn is from the user, the
// assistant label is appended with no trailing content to anchor the
// completion. Pure function of its arguments, inputs are never mutated.
func Format(turns []repositories.ConversationTurn, systemOverride, schemaInstruction string) string {
	var sb strings.Builder

	system := systemOverride
	if system == "" {
		system = DefaultSystemPrompt
	}
	sb.WriteString(labelSystem)
	sb.WriteString(" ")
	sb.WriteString(system)
	sb.WriteString("\n")

	if schemaInstruction != "" {
		sb.WriteString(labelSystem)
		sb.WriteString(" Answer with valid JSON conforming to the following schema and nothing else:\n")
		sb.WriteString(schemaInstruction)
		sb.WriteString("\n")
	}

	for _, turn := range turns {
		sb.WriteString(roleLabel(turn.Role))
		sb.WriteString(" ")
		sb.WriteString(turn.Content)
		sb.WriteString("\n")
	}

	if len(turns) > 0 && turns[len(turns)-1].Role == repositories.RoleUser {
		sb.WriteString(labelAssistant)
	}

	return sb.String()
}

// BaselineStops are tokens that look like the start of a new turn. Every
// completion backend sends them so the model cannot fabricate subsequent
// turns past its own reply.
var BaselineStops = []string{labelUser, "\n" + labelUser, labelSystem}

// MergeStops merges the baseline stop sequences with caller-supplied
// ones, dropping duplicates while preserving order.
func MergeStops(extra []string) []string {
	seen := make(map[string]bool, len(BaselineStops)+len(extra))
	merged := make([]string, 0, len(BaselineStops)+len(extra))
	for _, stop := range append(append([]string{}, BaselineStops...), extra...) {
		if stop == "" || seen[stop] {
			continue
		}
		seen[stop] = true
		merged = append(merged, stop)
	}
	return merged
}

func roleLabel(role repositories.Role) string {
	switch role {
	case repositories.RoleSystem:
		return labelSystem
	case repositories.RoleAssistant:
		return labelAssistant
	default:
		return labelUser
	}
}
