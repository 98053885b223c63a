package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	fakeMode   bool
	apiKeyFlag string
	chatModel  string
	imageModel string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "din",
	Short: "Co-author a video brief with Din from the terminal",
	Long: `din talks to the Din video planning assistant.

Available subcommands:
  chat         - Start an interactive planning session
  validate-key - Check a Gemini API key`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&fakeMode, "fake", false, "use the scripted offline model")
	rootCmd.PersistentFlags().StringVar(&apiKeyFlag, "key", "", "Gemini API key (defaults to GEMINI_API_KEY)")
	rootCmd.PersistentFlags().StringVar(&chatModel, "model", "", "Gemini chat model")
	rootCmd.PersistentFlags().StringVar(&imageModel, "image-model", "", "Gemini image model")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log model traffic to stderr")

	rootCmd.AddCommand(chatCmd, validateCmd)
}

func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func resolveAPIKey() string {
	if apiKeyFlag != "" {
		return apiKeyFlag
	}
	if k := os.Getenv("GEMINI_API_KEY"); k != "" {
		return k
	}
	return os.Getenv("API_KEY")
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
