package protocol

import (
	"strings"
	"testing"
)

func TestInstruction_RendersSections(t *testing.T) {
	opts := DefaultInstructionOptions()
	opts.SceneDuration = "6 seconds"
	opts.ExtraRules = []string{"Keep replies under 120 words."}

	out, err := Instruction(opts)
	if err != nil {
		t.Fatalf("Instruction() error = %v", err)
	}
	for _, sec := range []string{"[PURPOSE]", "[BACKGROUND]", "[RULES]", "[CONSTRAINTS]", "[OUTPUT]", "[OUTPUT_FORMAT]", "[LANGUAGE]", "[EXAMPLES]"} {
		if !strings.Contains(out, sec) {
			t.Fatalf("expected section %s in instruction", sec)
		}
	}
	for _, want := range []string{
		"- suggestions ([]{label, description}, optional)",
		"- finalPrompt ({en, ko}, optional)",
		"about 6 seconds",
		"Keep replies under 120 words.",
		"Korean",
		`"Din"`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in instruction:\n%s", want, out)
		}
	}
}

func TestInstruction_ExampleDecodes(t *testing.T) {
	out, err := Instruction(DefaultInstructionOptions())
	if err != nil {
		t.Fatalf("Instruction() error = %v", err)
	}
	idx := strings.Index(out, "[EXAMPLES]")
	if idx < 0 {
		t.Fatalf("missing examples section")
	}
	got := Decode(out[idx:])
	if got.Outcome != BlockDecoded {
		t.Fatalf("example block outcome = %v, want decoded", got.Outcome)
	}
	if len(got.Suggestions) != 3 {
		t.Fatalf("example suggestions = %d, want 3", len(got.Suggestions))
	}
}

func TestInstruction_RequiresPersona(t *testing.T) {
	if _, err := Instruction(InstructionOptions{}); err == nil {
		t.Fatalf("expected error for empty persona")
	}
}

func TestFieldsFromStruct(t *testing.T) {
	type sample struct {
		Title   string   `json:"title" prompt_desc:"Short title."`
		Tags    []string `json:"tags,omitempty" prompt:"optional"`
		Hidden  string   `json:"hidden" prompt:"-"`
		Skipped string   `json:"-"`
		private string
	}
	fields, err := FieldsFromStruct(&sample{})
	if err != nil {
		t.Fatalf("FieldsFromStruct() error = %v", err)
	}
	if len(fields) != 2 {
		t.Fatalf("fields = %+v, want 2 entries", fields)
	}
	if fields[0] != (PromptField{Name: "title", Type: "string", Required: true, Description: "Short title."}) {
		t.Fatalf("unexpected first field: %+v", fields[0])
	}
	if fields[1].Name != "tags" || fields[1].Type != "[]string" || fields[1].Required {
		t.Fatalf("unexpected second field: %+v", fields[1])
	}
	if _, err := FieldsFromStruct(42); err == nil {
		t.Fatalf("expected error for non-struct")
	}
}
