package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/houghtp/terra-automation-platform-sub002/internal/config"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Verify configuration and runtime prerequisites",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())

			var problems []string

			settings, err := config.LoadSettings(home)
			if err != nil {
				problems = append(problems, fmt.Sprintf("config: %s is not valid: %v", config.SettingsPath(home), err))
			} else {
				// Generation cannot run without an LLM key from config or env.
				if settings.LLM.APIKey == "" && os.Getenv("OPENAI_API_KEY") == "" {
					problems = append(problems, "missing LLM API key: set llm.api_key in "+config.SettingsPath(home)+" or export OPENAI_API_KEY")
				}
			}

			if err := os.MkdirAll(home, 0o755); err != nil {
				problems = append(problems, fmt.Sprintf("home directory %s is not writable: %v", home, err))
			}

			if len(problems) > 0 {
				for _, p := range problems {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), p)
				}
				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	return cmd
}
