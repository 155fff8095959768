// Package daemon manages the contentd process lifecycle: foreground serving,
// background re-exec, pid/addr/lock files, and crash recovery for plans left
// mid-workflow.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/houghtp/terra-automation-platform-sub002/internal/config"
	"github.com/houghtp/terra-automation-platform-sub002/internal/httpapi"
	"github.com/houghtp/terra-automation-platform-sub002/internal/otel"
	"github.com/houghtp/terra-automation-platform-sub002/internal/store"
	"github.com/houghtp/terra-automation-platform-sub002/pkg/models"
)

var errNotRunning = errors.New("contentd is not running")

func StartForeground(ctx context.Context, opts StartOptions) error {
	if opts.Home == "" {
		return errors.New("home is required")
	}
	if opts.Port == 0 {
		opts.Port = 3547
	}

	// Ensure dirs exist.
	if err := os.MkdirAll(protectedDir(opts.Home), 0o755); err != nil {
		return err
	}

	// Acquire singleton lock (released on exit).
	lock, err := acquireLock(lockPath(opts.Home))
	if err != nil {
		return err
	}
	defer lock.release()

	// Optional pprof.
	startPprof(opts.PprofAddr)

	// Ensure DB schema exists before serving (SQLite only; Postgres migrates on connect).
	if opts.DBDriver != "postgres" {
		if err := store.EnsureSchema(opts.Home); err != nil {
			return err
		}
	}

	// Write PID + addr files.
	pid := os.Getpid()
	if err := os.WriteFile(pidPath(opts.Home), []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return err
	}
	addr := fmt.Sprintf("0.0.0.0:%d", opts.Port)
	_ = os.WriteFile(addrPath(opts.Home), []byte(addr+"\n"), 0o644)
	defer func() {
		_ = os.Remove(pidPath(opts.Home))
		_ = os.Remove(addrPath(opts.Home))
	}()

	// Early port check for clearer error.
	if err := checkPortAvailable(opts.Port); err != nil {
		return err
	}

	settings, err := config.LoadSettings(opts.Home)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if opts.LLMBaseURL != "" {
		settings.LLM.BaseURL = opts.LLMBaseURL
	}
	if opts.LLMKey != "" {
		settings.LLM.APIKey = opts.LLMKey
	}
	if settings.LLM.APIKey == "" {
		settings.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if opts.LLMModel != "" {
		settings.LLM.Model = opts.LLMModel
	}

	srvOpts := httpapi.ServerOptions{
		Home:     opts.Home,
		Addr:     addr,
		Dev:      opts.Dev,
		APIKey:   os.Getenv("CONTENTD_API_KEY"),
		DBDriver: opts.DBDriver,
		DBURL:    opts.DBURL,
		Settings: settings,
	}
	if opts.EnableOtel {
		metricsHandler, err := otel.InitMeterProvider(ctx, "contentd")
		if err != nil {
			slog.Warn("otel init failed, using legacy metrics", "err", err)
		} else {
			srvOpts.MetricsHandler = metricsHandler
			srvOpts.UseOtelHTTP = true
		}
	}
	app, err := httpapi.NewApp(srvOpts)
	if err != nil {
		return err
	}
	if opts.EnableOtel {
		_ = otel.InitMetricsWithPlanCount(ctx, func() (planned, active, draftReady, failed int64) {
			plans, _ := app.Store.ListPlans(context.Background(), "", 0)
			for _, p := range plans {
				switch p.Status {
				case models.StatusPlanned:
					planned++
				case models.StatusResearching, models.StatusGenerating, models.StatusRefining:
					active++
				case models.StatusDraftReady:
					draftReady++
				case models.StatusFailed:
					failed++
				}
			}
			return planned, active, draftReady, failed
		})
	}

	// Plans left mid-workflow by a previous process will never finish; fail
	// them now so clients see a terminal state instead of a stuck one.
	if n, err := recoverOrphans(ctx, app.Store); err != nil {
		slog.Warn("orphan recovery failed", "err", err)
	} else if n > 0 {
		slog.Info("recovered orphaned plans", "count", n)
	}

	slog.Info("daemon starting", "addr", addr, "home", opts.Home)
	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = app.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == nil || errors.Is(err, context.Canceled) {
			return nil
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func StartBackground(ctx context.Context, opts StartOptions) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, err
	}

	// Ensure dirs exist before starting.
	if err := os.MkdirAll(protectedDir(opts.Home), 0o755); err != nil {
		return 0, err
	}

	// Best-effort: refuse to start if already running.
	if st, _ := Status(ctx, opts.Home); st.Running {
		return 0, fmt.Errorf("contentd already running (pid %d)", st.PID)
	}

	logFile := filepath.Join(protectedDir(opts.Home), "daemon.log")
	stderr, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	// Kept open for child lifetime; closing here may break writes on some platforms.

	args := []string{
		"daemon",
		"--home", opts.Home,
		"--port", strconv.Itoa(opts.Port),
	}
	if opts.Dev {
		args = append(args, "--dev")
	}
	if opts.PprofAddr != "" {
		args = append(args, "--pprof", opts.PprofAddr)
	}
	if opts.DBDriver != "" {
		args = append(args, "--db", opts.DBDriver)
	}
	if opts.EnableOtel {
		args = append(args, "--otel")
	}

	cmd := exec.Command(exe, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr
	setDaemonSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return 0, err
	}

	// Wait briefly for pid file to appear or process to die.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, _ := Status(ctx, opts.Home); st.Running {
			return st.PID, nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	// Fallback to started pid even if status isn't ready yet.
	return cmd.Process.Pid, nil
}

func Stop(ctx context.Context, home string) (bool, error) {
	st, err := Status(ctx, home)
	if err != nil {
		return false, err
	}
	if !st.Running {
		return false, nil
	}

	proc, err := os.FindProcess(st.PID)
	if err != nil {
		// On unix FindProcess always succeeds; keep this for completeness.
		return false, errNotRunning
	}
	if err := signalTerm(proc); err != nil {
		return false, err
	}

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if st2, _ := Status(ctx, home); !st2.Running {
			return true, nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	_ = proc.Kill()
	return true, nil
}

func Status(ctx context.Context, home string) (StatusInfo, error) {
	pb, err := os.ReadFile(pidPath(home))
	if err != nil {
		return StatusInfo{Running: false}, nil
	}
	pidStr := strings.TrimSpace(string(pb))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return StatusInfo{Running: false}, nil
	}

	if !processExists(pid) {
		_ = os.Remove(pidPath(home))
		return StatusInfo{Running: false}, nil
	}

	addr := ""
	if ab, err := os.ReadFile(addrPath(home)); err == nil {
		addr = strings.TrimSpace(string(ab))
	}
	if addr == "" {
		addr = "unknown"
	}
	return StatusInfo{Running: true, PID: pid, Addr: addr}, nil
}

// recoverOrphans marks plans stuck in an active status as failed. Called once
// at startup, before any workflow can legitimately hold an active status.
func recoverOrphans(ctx context.Context, st store.Store) (int, error) {
	plans, err := st.ListPlans(ctx, "", 0)
	if err != nil {
		return 0, err
	}
	msg := "daemon restarted while the workflow was running"
	n := 0
	for _, p := range plans {
		switch p.Status {
		case models.StatusResearching, models.StatusGenerating, models.StatusRefining:
			if err := st.UpdatePlanStatus(ctx, p.PlanID, models.StatusFailed, &msg); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func checkPortAvailable(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return fmt.Errorf("port %d is already in use", port)
	}
	_ = ln.Close()
	return nil
}
