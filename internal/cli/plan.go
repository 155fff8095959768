package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/houghtp/terra-automation-platform-sub002/internal/config"
	"github.com/houghtp/terra-automation-platform-sub002/internal/daemon"
	"github.com/houghtp/terra-automation-platform-sub002/pkg/client"
	"github.com/houghtp/terra-automation-platform-sub002/pkg/models"
)

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Manage content plans",
	}
	cmd.AddCommand(newPlanCreateCmd())
	cmd.AddCommand(newPlanListCmd())
	cmd.AddCommand(newPlanGetCmd())
	cmd.AddCommand(newPlanStartCmd())
	cmd.AddCommand(newPlanCancelCmd())
	cmd.AddCommand(newPlanWatchCmd())
	return cmd
}

// apiClient connects to the running daemon's HTTP API. Plan commands require
// the daemon because workflows run inside its process.
func apiClient(ctx context.Context) (*client.Client, error) {
	home := config.MustHomeFrom(ctx)
	st, err := daemon.Status(ctx, home)
	if err != nil {
		return nil, err
	}
	if !st.Running {
		return nil, fmt.Errorf("contentd is not running (start it with `contentd start`)")
	}
	addr := st.Addr
	if host, port, err := net.SplitHostPort(addr); err == nil {
		if host == "0.0.0.0" || host == "::" || host == "" {
			addr = net.JoinHostPort("localhost", port)
		}
	}
	return client.New("http://"+addr, os.Getenv("CONTENTD_API_KEY")), nil
}

func newPlanCreateCmd() *cobra.Command {
	var (
		tenant        string
		title         string
		description   string
		audience      string
		tone          string
		keywords      []string
		channels      []string
		skipResearch  bool
		minSEOScore   int
		maxIterations int
		start         bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a content plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			if title == "" {
				return fmt.Errorf("--title is required")
			}
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			np := client.NewPlan{
				TenantID:       tenant,
				Title:          title,
				SEOKeywords:    keywords,
				TargetChannels: channels,
				SkipResearch:   skipResearch,
				MinSEOScore:    minSEOScore,
				MaxIterations:  maxIterations,
			}
			if description != "" {
				np.Description = &description
			}
			if audience != "" {
				np.TargetAudience = &audience
			}
			if tone != "" {
				np.Tone = &tone
			}
			p, err := c.CreatePlan(cmd.Context(), np)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created plan %s (min score %d, max iterations %d)\n", p.PlanID, p.MinSEOScore, p.MaxIterations)
			if start {
				if err := c.StartPlan(cmd.Context(), p.PlanID); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Started workflow for %s\n", p.PlanID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant ID")
	cmd.Flags().StringVar(&title, "title", "", "Plan title (required)")
	cmd.Flags().StringVar(&description, "description", "", "What the content should cover")
	cmd.Flags().StringVar(&audience, "audience", "", "Target audience")
	cmd.Flags().StringVar(&tone, "tone", "", "Desired tone")
	cmd.Flags().StringSliceVar(&keywords, "keywords", nil, "SEO keywords")
	cmd.Flags().StringSliceVar(&channels, "channels", nil, "Variant channels (twitter, linkedin, email, blog)")
	cmd.Flags().BoolVar(&skipResearch, "skip-research", false, "Skip the research stage")
	cmd.Flags().IntVar(&minSEOScore, "min-seo-score", 0, "Minimum SEO score to accept (0 = server default)")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Refinement iteration budget (0 = server default)")
	cmd.Flags().BoolVar(&start, "start", false, "Start the workflow immediately")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newPlanListCmd() *cobra.Command {
	var tenant string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plans, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			plans, err := c.ListPlans(cmd.Context(), tenant, limit)
			if err != nil {
				return err
			}
			if len(plans) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No plans")
				return nil
			}
			for _, p := range plans {
				score := "-"
				if p.LatestSEOScore != nil {
					score = fmt.Sprintf("%d", *p.LatestSEOScore)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s  %-12s score=%-4s %s\n", p.PlanID, p.Status, score, p.Title)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "Filter by tenant ID")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max plans to return (0 = all)")
	return cmd
}

func newPlanGetCmd() *cobra.Command {
	var planID string

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show a plan with its refinement history and variants",
		RunE: func(cmd *cobra.Command, args []string) error {
			if planID == "" {
				return fmt.Errorf("--id is required")
			}
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			p, err := c.GetPlan(cmd.Context(), planID)
			if err != nil {
				return err
			}
			b, err := json.MarshalIndent(p, "", "  ")
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
	cmd.Flags().StringVar(&planID, "id", "", "Plan ID")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newPlanStartCmd() *cobra.Command {
	var planID string
	var watch bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the generation workflow for a plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			if planID == "" {
				return fmt.Errorf("--id is required")
			}
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.StartPlan(cmd.Context(), planID); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Started workflow for %s\n", planID)
			if watch {
				return streamPlanEvents(cmd, c, planID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&planID, "id", "", "Plan ID")
	cmd.Flags().BoolVar(&watch, "watch", false, "Stream progress events until the workflow finishes")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newPlanCancelCmd() *cobra.Command {
	var planID string

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a running workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			if planID == "" {
				return fmt.Errorf("--id is required")
			}
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.CancelPlan(cmd.Context(), planID); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %s\n", planID)
			return nil
		},
	}
	cmd.Flags().StringVar(&planID, "id", "", "Plan ID")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newPlanWatchCmd() *cobra.Command {
	var planID string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream a plan's progress events (replays history first)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if planID == "" {
				return fmt.Errorf("--id is required")
			}
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			return streamPlanEvents(cmd, c, planID)
		},
	}
	cmd.Flags().StringVar(&planID, "id", "", "Plan ID")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func streamPlanEvents(cmd *cobra.Command, c *client.Client, planID string) error {
	out := cmd.OutOrStdout()
	return c.StreamEvents(cmd.Context(), planID, func(ev models.Event) error {
		line := fmt.Sprintf("[%s] %s/%s", ev.Timestamp.Format("15:04:05"), ev.Stage, ev.Status)
		if ev.Message != "" {
			line += " " + ev.Message
		}
		if score, ok := ev.Data["seo_score"]; ok {
			line += fmt.Sprintf(" (score=%v)", score)
		}
		_, _ = fmt.Fprintln(out, line)
		return nil
	})
}
