package cli

import (
	"github.com/spf13/cobra"

	"github.com/houghtp/terra-automation-platform-sub002/internal/config"
	"github.com/houghtp/terra-automation-platform-sub002/internal/daemon"
)

func newDaemonCmd() *cobra.Command {
	var (
		port       int
		dev        bool
		pprofAddr  string
		dbDriver   string
		enableOtel bool
	)

	cmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Internal: run daemon process",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			return daemon.StartForeground(cmd.Context(), daemon.StartOptions{
				Home:       home,
				Port:       port,
				Dev:        dev,
				PprofAddr:  pprofAddr,
				DBDriver:   dbDriver,
				EnableOtel: enableOtel,
			})
		},
	}

	cmd.Flags().IntVar(&port, "port", 3547, "Port for the HTTP API")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable dev mode")
	cmd.Flags().StringVar(&pprofAddr, "pprof", "", "Enable pprof on address (e.g. 127.0.0.1:6060)")
	cmd.Flags().StringVar(&dbDriver, "db", "", "Store driver: sqlite or postgres")
	cmd.Flags().BoolVar(&enableOtel, "otel", false, "Enable OpenTelemetry metrics")

	return cmd
}
