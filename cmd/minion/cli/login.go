package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/autominion/minion/internal/config"
	"github.com/autominion/minion/internal/ui"
)

var (
	endpointFlag string
	defaultFlag  bool
)

var loginCmd = &cobra.Command{
	Use:   "login <provider>",
	Short: "Store an LLM provider API key",
	Long: `Store an API key for an LLM provider.

The key is kept in the OS keychain when one is available, otherwise in
~/.minion/config.yaml. Built-in providers: openrouter, groq, google-gemini.
Other providers need --endpoint pointing at an OpenAI-compatible
chat-completions URL.

Examples:
  minion login openrouter
  minion login groq --default
  minion login myproxy --endpoint https://llm.internal/v1/chat/completions`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider := args[0]
		if !config.KnownProvider(provider) && endpointFlag == "" {
			return fmt.Errorf("unknown provider %q: pass --endpoint, or use one of %s",
				provider, strings.Join(config.BuiltinProviders(), ", "))
		}

		key, err := readKey(provider)
		if err != nil {
			return err
		}
		if key == "" {
			return fmt.Errorf("empty API key")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		cfg.SetKey(provider, key)
		if endpointFlag != "" {
			cfg.SetEndpoint(provider, endpointFlag)
		}
		if defaultFlag || cfg.DefaultProvider == "" {
			cfg.DefaultProvider = provider
		}
		if err := cfg.Save(); err != nil {
			return err
		}

		ui.Infof("%s Stored API key for %s.", ui.OKTag(), provider)
		return nil
	},
}

// readKey reads the API key without echo on a terminal and from stdin
// otherwise, so keys can be piped in scripts.
func readKey(provider string) (string, error) {
	if isatty.IsTerminal(os.Stdin.Fd()) {
		fmt.Fprintf(os.Stderr, "API key for %s: ", provider)
		key, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading API key: %w", err)
		}
		return strings.TrimSpace(string(key)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading API key: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func init() {
	loginCmd.Flags().StringVar(&endpointFlag, "endpoint", "", "chat-completions endpoint for a custom provider")
	loginCmd.Flags().BoolVar(&defaultFlag, "default", false, "make this the default provider")
	rootCmd.AddCommand(loginCmd)
}
