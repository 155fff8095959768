package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/houghtp/terra-automation-platform-sub002/internal/config"
	"github.com/houghtp/terra-automation-platform-sub002/internal/daemon"
)

func newStartCmd() *cobra.Command {
	var (
		port       int
		foreground bool
		dev        bool
		pprofAddr  string
		envFile    string
		dbDriver   string
		dbURL      string
		llmBaseURL string
		llmModel   string
		enableOtel bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the contentd daemon (HTTP API + SSE event streams)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := loadEnvFile(envFile); err != nil {
					return err
				}
			}
			home := config.MustHomeFrom(cmd.Context())

			opts := daemon.StartOptions{
				Home:       home,
				Port:       port,
				Dev:        dev,
				PprofAddr:  pprofAddr,
				DBDriver:   dbDriver,
				DBURL:      dbURL,
				LLMBaseURL: llmBaseURL,
				LLMModel:   llmModel,
				EnableOtel: enableOtel,
			}

			api := fmt.Sprintf("http://localhost:%d", port)

			if foreground {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Starting contentd in foreground on %s\n", api)
				return daemon.StartForeground(cmd.Context(), opts)
			}

			pid, err := daemon.StartBackground(cmd.Context(), opts)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "contentd started (pid %d)\n", pid)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "API: %s\n", api)
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 3547, "Port for the HTTP API")
	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run in foreground (do not daemonize)")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable dev mode (permissive CORS)")
	cmd.Flags().StringVar(&pprofAddr, "pprof", "", "Enable pprof on address (e.g. 127.0.0.1:6060)")
	cmd.Flags().StringVar(&envFile, "env-file", "", "Load env vars from file (KEY=VALUE per line) before starting")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "sqlite", "Store driver: sqlite or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "DB connection string (for postgres; or set DATABASE_URL)")
	cmd.Flags().StringVar(&llmBaseURL, "llm-base-url", "", "Override the LLM API base URL from settings.yaml")
	cmd.Flags().StringVar(&llmModel, "llm-model", "", "Override the LLM model from settings.yaml")
	cmd.Flags().BoolVar(&enableOtel, "otel", true, "Enable OpenTelemetry metrics (Prometheus exporter, HTTP instrumentation)")

	return cmd
}

func loadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		i := strings.Index(line, "=")
		if i <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:i])
		value := strings.TrimSpace(line[i+1:])
		if key != "" {
			_ = os.Setenv(key, value)
		}
	}
	return sc.Err()
}
