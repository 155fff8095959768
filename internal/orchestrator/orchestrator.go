// Package orchestrator drives a plan through its workflow: research, initial
// generation, the refinement loop, and channel fan-out, publishing progress
// events along the way.
//
// Each plan is owned by at most one running workflow. The orchestrator is the
// only status writer while a workflow is active; HTTP handlers only read.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/houghtp/terra-automation-platform-sub002/internal/bus"
	"github.com/houghtp/terra-automation-platform-sub002/internal/config"
	"github.com/houghtp/terra-automation-platform-sub002/internal/generate"
	"github.com/houghtp/terra-automation-platform-sub002/internal/notify"
	"github.com/houghtp/terra-automation-platform-sub002/internal/otel"
	"github.com/houghtp/terra-automation-platform-sub002/internal/prompt"
	"github.com/houghtp/terra-automation-platform-sub002/internal/refine"
	"github.com/houghtp/terra-automation-platform-sub002/internal/research"
	"github.com/houghtp/terra-automation-platform-sub002/internal/store"
	"github.com/houghtp/terra-automation-platform-sub002/internal/validate"
	"github.com/houghtp/terra-automation-platform-sub002/internal/variant"
	"github.com/houghtp/terra-automation-platform-sub002/pkg/models"
)

// ErrAlreadyRunning is returned by Start when the plan's workflow is active.
var ErrAlreadyRunning = errors.New("plan workflow already running")

// ErrNotStartable is returned by Start when the plan's stored status shows an
// active workflow elsewhere.
var ErrNotStartable = errors.New("plan is not in a startable state")

// ErrNotRunning is returned by Cancel when no workflow is active for the plan.
var ErrNotRunning = errors.New("plan workflow is not running")

// Options wires the orchestrator's collaborators.
type Options struct {
	Research  research.Collector
	LLM       generate.Client
	Registry  *prompt.Registry
	Notifiers *notify.Registry
	Settings  config.Settings
}

// Orchestrator runs plan workflows and tracks which plans are active.
type Orchestrator struct {
	store    store.Store
	bus      *bus.Bus
	research research.Collector
	refiner  *refine.Controller
	adapter  *variant.Adapter
	notify   *notify.Registry
	settings config.Settings

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func New(st store.Store, b *bus.Bus, opts Options) *Orchestrator {
	s := opts.Settings
	wrap := func(timeout time.Duration) generate.Client {
		return generate.WithRetry(
			generate.WithTimeout(opts.LLM, timeout),
			s.Retry.MaxAttempts, s.Retry.BackoffBase,
		)
	}
	genLLM := wrap(s.Timeouts.Generation)
	valLLM := wrap(s.Timeouts.Validation)
	return &Orchestrator{
		store:    st,
		bus:      b,
		research: opts.Research,
		refiner:  refine.New(genLLM, validate.New(valLLM, opts.Registry), opts.Registry),
		adapter:  variant.NewAdapter(genLLM, opts.Registry),
		notify:   opts.Notifiers,
		settings: s,
		running:  make(map[string]context.CancelFunc),
	}
}

// Startable reports whether a stored status permits starting a workflow.
// Terminal plans may be re-run; active ones may not.
func Startable(status string) bool {
	switch status {
	case models.StatusResearching, models.StatusGenerating, models.StatusRefining:
		return false
	}
	return true
}

// Start launches the plan's workflow in the background. The caller's context
// only governs the startup checks; the workflow itself is detached and ends
// via Cancel or completion.
func (o *Orchestrator) Start(ctx context.Context, planID string) error {
	p, err := o.store.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	if !Startable(p.Status) {
		return fmt.Errorf("%w: status %s", ErrNotStartable, p.Status)
	}

	o.mu.Lock()
	if _, ok := o.running[planID]; ok {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.running[planID] = cancel
	o.wg.Add(1)
	o.mu.Unlock()

	// A re-run of a finished plan starts from a clean slate: iteration
	// numbering restarts at 1 and a stale error_log must not outlive the
	// failure it describes.
	if models.TerminalStatus(p.Status) {
		if err := o.store.ResetPlan(ctx, planID); err != nil {
			o.wg.Done()
			o.finish(planID, cancel)
			return fmt.Errorf("reset plan for re-run: %w", err)
		}
		if p, err = o.store.GetPlan(ctx, planID); err != nil {
			o.wg.Done()
			o.finish(planID, cancel)
			return err
		}
	}

	otel.RecordPlanOp(ctx, "start", p.TenantID, p.Status)
	go func() {
		defer o.wg.Done()
		defer o.finish(planID, cancel)
		o.run(runCtx, p)
	}()
	return nil
}

// Cancel stops a running workflow. The workflow goroutine notices at its next
// cancellation point and records the plan as cancelled.
func (o *Orchestrator) Cancel(planID string) error {
	o.mu.Lock()
	cancel, ok := o.running[planID]
	o.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}
	cancel()
	return nil
}

// Running reports whether the plan's workflow is active in this process.
func (o *Orchestrator) Running(planID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.running[planID]
	return ok
}

// Shutdown waits for in-flight workflows to finish, up to ctx's deadline.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) finish(planID string, cancel context.CancelFunc) {
	cancel()
	o.mu.Lock()
	delete(o.running, planID)
	o.mu.Unlock()
}

func (o *Orchestrator) run(ctx context.Context, p *store.Plan) {
	started := time.Now()
	log := slog.With("plan_id", p.PlanID, "tenant", p.TenantID)
	log.Info("workflow starting", "title", p.Title, "min_seo_score", p.MinSEOScore, "max_iterations", p.MaxIterations)

	status, err := o.runStages(ctx, p)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			status = models.StatusCancelled
			o.setStatus(p.PlanID, status, nil)
			// data.cancelled lets stream consumers tell a cancel from a failure;
			// the stage enum has no dedicated cancelled value.
			o.publish(p.PlanID, models.StageError, models.EventError, "workflow cancelled",
				map[string]any{"cancelled": true})
			log.Info("workflow cancelled")
		default:
			status = models.StatusFailed
			msg := err.Error()
			o.setStatus(p.PlanID, status, &msg)
			o.publish(p.PlanID, models.StageError, models.EventError, msg, nil)
			log.Error("workflow failed", "err", err)
		}
	}

	otel.RecordWorkflow(context.Background(), p.TenantID, status, time.Since(started))
	o.announce(p, status)
}

// runStages executes the workflow and returns the terminal status it stored.
// Any error return means the caller records failed/cancelled instead.
func (o *Orchestrator) runStages(ctx context.Context, p *store.Plan) (string, error) {
	var researchSummary *string
	if !p.SkipResearch {
		researchSummary = o.collectResearch(ctx, p)
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}

	o.setStatus(p.PlanID, models.StatusGenerating, nil)
	o.publish(p.PlanID, models.StageGenerating, models.EventRunning, "generating initial draft", nil)

	in := refine.Input{
		PlanID:          p.PlanID,
		TenantID:        p.TenantID,
		Title:           p.Title,
		Description:     p.Description,
		TargetAudience:  p.TargetAudience,
		Tone:            p.Tone,
		SEOKeywords:     p.SEOKeywords,
		ResearchSummary: researchSummary,
		MinSEOScore:     p.MinSEOScore,
		MaxIterations:   p.MaxIterations,
	}

	res, err := o.refiner.Run(ctx, in, o.observer(ctx, p))
	if err != nil {
		return "", err
	}

	// Persist the winning draft before fan-out so a variant failure cannot
	// lose the approved content.
	fresh, err := o.store.GetPlan(ctx, p.PlanID)
	if err != nil {
		return "", err
	}
	fresh.Content = &res.Content
	fresh.Status = models.StatusDraftReady
	if fresh.ContentID == nil {
		cid := uuid.NewString()
		fresh.ContentID = &cid
	}
	if err := o.store.SavePlan(ctx, fresh); err != nil {
		return "", fmt.Errorf("save approved draft: %w", err)
	}

	o.fanOut(ctx, p, res.Content)

	data := map[string]any{
		"seo_score":  res.Score,
		"content_id": *fresh.ContentID,
		"passed":     res.Passed,
		"iterations": len(res.Iterations),
	}
	msg := "draft ready"
	if !res.Passed {
		msg = fmt.Sprintf("draft ready below target (best score %d)", res.Score)
	}
	o.publish(p.PlanID, models.StageCompleted, models.EventSuccess, msg, data)
	return models.StatusDraftReady, nil
}

// collectResearch runs the research stage. Research failures degrade to an
// event and a log line; the workflow continues without a summary.
func (o *Orchestrator) collectResearch(ctx context.Context, p *store.Plan) *string {
	if o.research == nil {
		return nil
	}
	o.setStatus(p.PlanID, models.StatusResearching, nil)
	o.publish(p.PlanID, models.StageResearching, models.EventRunning, "collecting research", nil)

	rctx := ctx
	if t := o.settings.Timeouts.Research; t > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	summary, err := o.research.Collect(rctx, p.Title, p.SEOKeywords, p.TenantID)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		slog.Warn("research failed, continuing without it", "plan_id", p.PlanID, "err", err)
		o.publish(p.PlanID, models.StageResearching, models.EventError, "research failed: "+err.Error(), nil)
		return nil
	}
	if summary == "" {
		o.publish(p.PlanID, models.StageResearching, models.EventSuccess, "no research material found", nil)
		return nil
	}

	if err := o.saveResearch(ctx, p.PlanID, summary); err != nil {
		slog.Warn("saving research failed", "plan_id", p.PlanID, "err", err)
	}
	o.publish(p.PlanID, models.StageResearching, models.EventSuccess, "research collected",
		map[string]any{"summary_chars": len(summary)})
	return &summary
}

func (o *Orchestrator) saveResearch(ctx context.Context, planID, summary string) error {
	fresh, err := o.store.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	fresh.ResearchData = &summary
	return o.store.SavePlan(ctx, fresh)
}

// observer persists each iteration and publishes its progress event.
func (o *Orchestrator) observer(ctx context.Context, p *store.Plan) refine.Observer {
	last := time.Now()
	return func(rec models.IterationRecord, content string) error {
		iterDuration := time.Since(last)
		last = time.Now()
		if rec.Iteration == 2 {
			o.setStatus(p.PlanID, models.StatusRefining, nil)
		}
		err := o.store.AppendIteration(ctx, p.PlanID, store.IterationRecord{
			Iteration:       rec.Iteration,
			Score:           rec.Score,
			Status:          rec.Status,
			Issues:          rec.Issues,
			Recommendations: rec.Recommendations,
			Strengths:       rec.Strengths,
			CreatedAt:       rec.Timestamp,
		})
		if err != nil {
			return fmt.Errorf("record iteration %d: %w", rec.Iteration, err)
		}
		otel.RecordIteration(context.Background(), p.TenantID, rec.Score, iterDuration)

		stage := models.StageGenerating
		if rec.Iteration > 1 {
			stage = models.StageRefining
		}
		o.publish(p.PlanID, stage, models.EventRunning,
			fmt.Sprintf("iteration %d scored %d (%s)", rec.Iteration, rec.Score, rec.Status),
			map[string]any{"iteration": rec.Iteration, "score": rec.Score, "status": rec.Status})
		return nil
	}
}

// fanOut adapts the approved draft for each target channel. Individual channel
// failures are stored on the variant row and never fail the workflow.
func (o *Orchestrator) fanOut(ctx context.Context, p *store.Plan, content string) {
	if len(p.TargetChannels) == 0 {
		return
	}
	variants := o.adapter.FanOut(ctx, p.PlanID, p.TenantID, content, p.TargetChannels)
	for _, v := range variants {
		status := "success"
		if v.Error != nil {
			status = "error"
			slog.Warn("variant failed", "plan_id", p.PlanID, "channel", v.Channel, "err", *v.Error)
		}
		otel.RecordVariant(context.Background(), v.Channel, status)
		err := o.store.SaveVariant(ctx, store.Variant{
			PlanID:    v.PlanID,
			Channel:   v.Channel,
			Body:      v.Body,
			CharCount: v.CharCount,
			MaxChars:  v.MaxChars,
			Truncated: v.Truncated,
			Format:    v.Format,
			Tone:      v.Tone,
			Error:     v.Error,
			CreatedAt: v.CreatedAt,
		})
		if err != nil {
			slog.Warn("saving variant failed", "plan_id", p.PlanID, "channel", v.Channel, "err", err)
		}
	}
}

func (o *Orchestrator) setStatus(planID, status string, errorLog *string) {
	if err := o.store.UpdatePlanStatus(context.Background(), planID, status, errorLog); err != nil {
		slog.Warn("status update failed", "plan_id", planID, "status", status, "err", err)
	}
}

func (o *Orchestrator) publish(planID, stage, status, message string, data map[string]any) {
	o.bus.Publish(models.Event{
		PlanID:    planID,
		Stage:     stage,
		Status:    status,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

func (o *Orchestrator) announce(p *store.Plan, status string) {
	if o.notify == nil {
		return
	}
	msg := fmt.Sprintf("plan %q (%s) finished: %s", p.Title, p.PlanID, status)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.notify.NotifyAll(ctx, msg); err != nil {
		slog.Warn("notify failed", "plan_id", p.PlanID, "err", err)
	}
}
