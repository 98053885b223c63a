package protocol

import (
	"bytes"
	"fmt"
	"strings"
)

// InstructionOptions parameterizes the contract sent to the chat model as its
// system instruction.
type InstructionOptions struct {
	Persona  string
	Language string
	// SceneDuration is a hint for the model; the core never enforces it.
	SceneDuration string
	// ExtraRules are appended after the built-in rules.
	ExtraRules []string
}

// DefaultInstructionOptions returns the settings of the Korean-speaking Din persona.
func DefaultInstructionOptions() InstructionOptions {
	return InstructionOptions{
		Persona:  "Din",
		Language: "Korean",
	}
}

var conversationStages = []string{
	"Concept: settle genre and subject.",
	"Structure: settle running time and composition.",
	"Style: settle visual style and tone.",
	"Detail: per scene action, camera and lighting.",
}

var baseRules = []string{
	"Ask about exactly one topic per reply. Never bundle genre, length and mood into one question.",
	"Put film terms, decisions already made and important proposals in **bold**.",
	"Never assume lighting, camera angle, mood, costume or background; ask or offer options.",
	"Each suggestion label carries exactly one piece of information. Never combine conditions (wrong: \"Birth secret (3 min)\"; right: \"Birth secret\", \"3 min\").",
	"Track scenes as \"Scene 1: ...\", \"Scene 2: ...\" (or \"장면 1: ...\"), one scene per paragraph, and keep characters and locations consistent across scenes.",
	"When the user is satisfied, write the final meta-prompt: a common block (style, characters, setting) followed by one block per scene, and return it in finalPrompt.",
}

var baseConstraints = []string{
	"End every reply with exactly one fenced ```json block containing a single JSON object.",
	"The json block is the last thing in the reply; nothing follows it.",
	"Use plain string values; no comments or trailing commas inside the block.",
}

// Instruction renders the system instruction for a new chat.
func Instruction(opts InstructionOptions) (string, error) {
	persona := strings.TrimSpace(opts.Persona)
	if persona == "" {
		return "", fmt.Errorf("protocol: persona is empty")
	}
	fields, err := FieldsFromStruct(payload{})
	if err != nil {
		return "", fmt.Errorf("protocol: describe payload: %w", err)
	}

	rules := append([]string(nil), baseRules...)
	if d := strings.TrimSpace(opts.SceneDuration); d != "" {
		rules = append(rules, fmt.Sprintf("Plan each scene for about %s unless the user says otherwise.", d))
	}
	rules = append(rules, opts.ExtraRules...)

	var buf bytes.Buffer
	writeSection(&buf, "PURPOSE", fmt.Sprintf(
		"You are %q, a world-class video production partner. Help the creator write a detailed meta-prompt for video generation tools such as Veo or Grok.",
		persona))
	writeSection(&buf, "BACKGROUND", "Conversation stages, in order:\n"+formatList(conversationStages))
	writeSection(&buf, "RULES", formatList(rules))
	writeSection(&buf, "CONSTRAINTS", formatList(baseConstraints))
	writeSection(&buf, "OUTPUT", formatFields(fields))
	writeSection(&buf, "OUTPUT_FORMAT", "Conversational reply in a professional, encouraging tone, then the json block.")
	writeSection(&buf, "LANGUAGE", strings.TrimSpace(opts.Language))
	writeSection(&buf, "EXAMPLES", strings.Join([]string{
		"Good choice, a **mystery**. How long should the **running time** be?",
		"```json",
		`{"suggestions":[{"label":"1 min short","description":"Vertical short-form"},{"label":"3 min"},{"label":"5 min"}]}`,
		"```",
	}, "\n"))
	return strings.TrimSpace(buf.String()) + "\n", nil
}

func formatFields(fields []PromptField) string {
	var buf strings.Builder
	for _, f := range fields {
		req := "optional"
		if f.Required {
			req = "required"
		}
		if f.Description != "" {
			fmt.Fprintf(&buf, "- %s (%s, %s): %s\n", f.Name, f.Type, req, f.Description)
		} else {
			fmt.Fprintf(&buf, "- %s (%s, %s)\n", f.Name, f.Type, req)
		}
	}
	return strings.TrimRight(buf.String(), "\n")
}

func formatList(items []string) string {
	var buf strings.Builder
	for _, item := range items {
		if item = strings.TrimSpace(item); item == "" {
			continue
		}
		fmt.Fprintf(&buf, "- %s\n", item)
	}
	return strings.TrimRight(buf.String(), "\n")
}

func writeSection(buf *bytes.Buffer, title, body string) {
	if strings.TrimSpace(body) == "" {
		return
	}
	buf.WriteString("[" + title + "]\n")
	buf.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
}
