package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"din/internal/llm"
)

var validateCmd = &cobra.Command{
	Use:   "validate-key [key]",
	Short: "Check a Gemini API key",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	key := resolveAPIKey()
	if len(args) == 1 {
		key = args[0]
	}
	var v llm.Validator = llm.GeminiValidator{Model: chatModel}
	if fakeMode {
		v = llm.FakeValidator{}
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	res := v.Validate(ctx, key)
	fmt.Fprintln(cmd.OutOrStdout(), res.Message)
	if !res.Valid {
		return fmt.Errorf("key rejected")
	}
	return nil
}
