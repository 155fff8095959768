package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/houghtp/terra-automation-platform-sub002/internal/bus"
	"github.com/houghtp/terra-automation-platform-sub002/internal/config"
	"github.com/houghtp/terra-automation-platform-sub002/internal/generate"
	"github.com/houghtp/terra-automation-platform-sub002/internal/prompt"
	"github.com/houghtp/terra-automation-platform-sub002/internal/research"
	"github.com/houghtp/terra-automation-platform-sub002/internal/store"
	"github.com/houghtp/terra-automation-platform-sub002/pkg/models"
)

type fixture struct {
	store store.Store
	bus   *bus.Bus
	orch  *Orchestrator
	llm   *generate.StubClient
}

func newFixture(t *testing.T, llm *generate.StubClient, collector research.Collector) *fixture {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	b := bus.New(time.Minute, 16)
	t.Cleanup(b.Close)

	settings, err := config.LoadSettings("")
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	settings.Retry.BackoffBase = time.Millisecond

	orch := New(st, b, Options{
		Research: collector,
		LLM:      llm,
		Registry: prompt.NewRegistry(""),
		Settings: settings,
	})
	return &fixture{store: st, bus: b, orch: orch, llm: llm}
}

func (f *fixture) createPlan(t *testing.T, np store.NewPlan) *store.Plan {
	t.Helper()
	if np.Title == "" {
		np.Title = "Go Testing"
	}
	p, err := f.store.CreatePlan(context.Background(), np)
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	return p
}

// startAndWait runs the workflow to its terminal event and returns every
// event published for the plan.
func (f *fixture) startAndWait(t *testing.T, planID string) []models.Event {
	t.Helper()
	ch, cancel := f.bus.Subscribe(planID)
	defer cancel()
	if err := f.orch.Start(context.Background(), planID); err != nil {
		t.Fatalf("start: %v", err)
	}
	var events []models.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
			if ev.Terminal() {
				// Drain until close so the registry has settled.
				for range ch {
				}
				waitStopped(t, f.orch, planID)
				return events
			}
		case <-timeout:
			t.Fatalf("workflow did not finish; events so far: %+v", events)
		}
	}
}

// waitTerminal polls the store until the plan reaches a terminal status and
// its workflow goroutine has unregistered.
func (f *fixture) waitTerminal(t *testing.T, planID string) *store.Plan {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		p, err := f.store.GetPlan(context.Background(), planID)
		if err != nil {
			t.Fatalf("get plan: %v", err)
		}
		if models.TerminalStatus(p.Status) && !f.orch.Running(planID) {
			return p
		}
		select {
		case <-deadline:
			t.Fatalf("plan stuck in %s", p.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func waitStopped(t *testing.T, o *Orchestrator, planID string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for o.Running(planID) {
		select {
		case <-deadline:
			t.Fatal("workflow still registered as running")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// script interleaves drafts and verdicts in loop consumption order.
func script(scores ...int) []string {
	var out []string
	for i, s := range scores {
		out = append(out, fmt.Sprintf("draft %d", i+1))
		status := "fail"
		if s >= 95 {
			status = "pass"
		}
		out = append(out, fmt.Sprintf(
			`{"score": %d, "status": %q, "issues": ["issue"], "recommendations": ["rec"], "strengths": []}`, s, status))
	}
	return out
}

func TestWorkflow_convergesToDraftReady(t *testing.T) {
	t.Parallel()
	llm := generate.NewStubClient(script(78, 92, 97)...)
	f := newFixture(t, llm, nil)
	p := f.createPlan(t, store.NewPlan{SkipResearch: true})

	events := f.startAndWait(t, p.PlanID)

	got, err := f.store.GetPlan(context.Background(), p.PlanID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusDraftReady {
		t.Fatalf("status = %s", got.Status)
	}
	if got.Content == nil || *got.Content != "draft 3" {
		t.Fatalf("content = %v", got.Content)
	}
	if got.LatestSEOScore == nil || *got.LatestSEOScore != 97 {
		t.Fatalf("latest score = %v", got.LatestSEOScore)
	}

	iters, err := f.store.ListIterations(context.Background(), p.PlanID)
	if err != nil {
		t.Fatal(err)
	}
	if len(iters) != 3 || iters[2].Status != models.IterationPass {
		t.Fatalf("iterations: %+v", iters)
	}

	last := events[len(events)-1]
	if last.Stage != models.StageCompleted || last.Status != models.EventSuccess {
		t.Fatalf("terminal event: %+v", last)
	}
	if last.Data["seo_score"] != float64(97) && last.Data["seo_score"] != 97 {
		t.Fatalf("terminal data: %+v", last.Data)
	}
	if cid, _ := last.Data["content_id"].(string); cid == "" {
		t.Fatalf("terminal event missing content_id: %+v", last.Data)
	}
	if got.ContentID == nil || *got.ContentID != last.Data["content_id"] {
		t.Fatalf("content_id = %v, event %v", got.ContentID, last.Data["content_id"])
	}
}

func TestWorkflow_budgetExhaustedShipsBestEffort(t *testing.T) {
	t.Parallel()
	llm := generate.NewStubClient(script(60, 60, 60)...)
	f := newFixture(t, llm, nil)
	p := f.createPlan(t, store.NewPlan{SkipResearch: true})

	events := f.startAndWait(t, p.PlanID)

	got, _ := f.store.GetPlan(context.Background(), p.PlanID)
	if got.Status != models.StatusDraftReady {
		t.Fatalf("status = %s", got.Status)
	}
	if got.Content == nil || *got.Content != "draft 1" {
		t.Fatalf("best-effort content = %v", got.Content)
	}
	if got.LatestSEOScore == nil || *got.LatestSEOScore != 60 {
		t.Fatalf("latest score = %v", got.LatestSEOScore)
	}
	last := events[len(events)-1]
	if last.Stage != models.StageCompleted {
		t.Fatalf("terminal event: %+v", last)
	}
	if passed, _ := last.Data["passed"].(bool); passed {
		t.Fatalf("below-target draft reported as passed: %+v", last.Data)
	}
}

func TestWorkflow_rerunTerminalPlanStartsClean(t *testing.T) {
	t.Parallel()
	// First run passes on iteration 2 with 97; the re-run passes on its own
	// iteration 1 with the lower 96, which only sticks if the reset happened.
	llm := generate.NewStubClient(script(78, 97, 96)...)
	f := newFixture(t, llm, nil)
	p := f.createPlan(t, store.NewPlan{SkipResearch: true})

	f.startAndWait(t, p.PlanID)
	first, _ := f.store.GetPlan(context.Background(), p.PlanID)
	if first.Status != models.StatusDraftReady || first.ContentID == nil {
		t.Fatalf("first run: %+v", first)
	}

	if err := f.orch.Start(context.Background(), p.PlanID); err != nil {
		t.Fatalf("re-run start: %v", err)
	}
	got := f.waitTerminal(t, p.PlanID)

	if got.Status != models.StatusDraftReady {
		t.Fatalf("re-run status = %s, error_log = %v", got.Status, got.ErrorLog)
	}
	if got.Content == nil || *got.Content != "draft 3" {
		t.Fatalf("re-run content = %v", got.Content)
	}
	if got.LatestSEOScore == nil || *got.LatestSEOScore != 96 {
		t.Fatalf("score carried over from the first run: %v", got.LatestSEOScore)
	}
	if got.ContentID == nil || *got.ContentID == *first.ContentID {
		t.Fatalf("content_id not refreshed: %v", got.ContentID)
	}

	iters, err := f.store.ListIterations(context.Background(), p.PlanID)
	if err != nil {
		t.Fatal(err)
	}
	if len(iters) != 1 || iters[0].Iteration != 1 || iters[0].Score != 96 {
		t.Fatalf("re-run iterations: %+v", iters)
	}
}

func TestWorkflow_rerunAfterFailureClearsErrorLog(t *testing.T) {
	t.Parallel()
	// The errored first call consumes a script slot; pad it.
	llm := generate.NewStubClient(append([]string{"unused"}, script(97)...)...)
	llm.Errs = []error{errors.New("invalid api key")}
	f := newFixture(t, llm, nil)
	p := f.createPlan(t, store.NewPlan{SkipResearch: true})

	f.startAndWait(t, p.PlanID)
	failed, _ := f.store.GetPlan(context.Background(), p.PlanID)
	if failed.Status != models.StatusFailed || failed.ErrorLog == nil {
		t.Fatalf("first run: %+v", failed)
	}

	if err := f.orch.Start(context.Background(), p.PlanID); err != nil {
		t.Fatalf("re-run start: %v", err)
	}
	got := f.waitTerminal(t, p.PlanID)

	if got.Status != models.StatusDraftReady {
		t.Fatalf("re-run status = %s", got.Status)
	}
	if got.ErrorLog != nil {
		t.Fatalf("stale error_log survived the re-run: %q", *got.ErrorLog)
	}
}

func TestWorkflow_skipResearchOmitsResearchStage(t *testing.T) {
	t.Parallel()
	llm := generate.NewStubClient(script(97)...)
	collector := &research.StubCollector{Summary: "should not be used"}
	f := newFixture(t, llm, collector)
	p := f.createPlan(t, store.NewPlan{SkipResearch: true})

	events := f.startAndWait(t, p.PlanID)

	for _, ev := range events {
		if ev.Stage == models.StageResearching {
			t.Fatalf("research stage emitted despite skip_research: %+v", ev)
		}
	}
	if len(collector.Topics) != 0 {
		t.Fatal("collector invoked despite skip_research")
	}
}

func TestWorkflow_researchFlowsIntoPromptAndStore(t *testing.T) {
	t.Parallel()
	llm := generate.NewStubClient(script(97)...)
	collector := &research.StubCollector{Summary: "rivals rank for table-driven tests"}
	f := newFixture(t, llm, collector)
	p := f.createPlan(t, store.NewPlan{})

	events := f.startAndWait(t, p.PlanID)

	if events[0].Stage != models.StageResearching || events[0].Status != models.EventRunning {
		t.Fatalf("first event: %+v", events[0])
	}
	got, _ := f.store.GetPlan(context.Background(), p.PlanID)
	if got.ResearchData == nil || *got.ResearchData != collector.Summary {
		t.Fatalf("research not stored: %v", got.ResearchData)
	}
	if u := llm.Requests[0].User; !contains(u, collector.Summary) {
		t.Fatalf("research missing from writer prompt:\n%s", u)
	}
}

func TestWorkflow_researchFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	llm := generate.NewStubClient(script(97)...)
	collector := &research.StubCollector{Err: errors.New("all sources down")}
	f := newFixture(t, llm, collector)
	p := f.createPlan(t, store.NewPlan{})

	events := f.startAndWait(t, p.PlanID)

	got, _ := f.store.GetPlan(context.Background(), p.PlanID)
	if got.Status != models.StatusDraftReady {
		t.Fatalf("status = %s", got.Status)
	}
	var sawResearchError bool
	for _, ev := range events {
		if ev.Stage == models.StageResearching && ev.Status == models.EventError {
			sawResearchError = true
		}
	}
	if !sawResearchError {
		t.Fatalf("expected a researching/error event: %+v", events)
	}
}

func TestWorkflow_hardFailureMarksPlanFailed(t *testing.T) {
	t.Parallel()
	llm := generate.NewStubClient("never used")
	llm.Errs = []error{errors.New("invalid api key")}
	f := newFixture(t, llm, nil)
	p := f.createPlan(t, store.NewPlan{SkipResearch: true})

	events := f.startAndWait(t, p.PlanID)

	got, _ := f.store.GetPlan(context.Background(), p.PlanID)
	if got.Status != models.StatusFailed {
		t.Fatalf("status = %s", got.Status)
	}
	if got.ErrorLog == nil || !contains(*got.ErrorLog, "invalid api key") {
		t.Fatalf("error log: %v", got.ErrorLog)
	}
	last := events[len(events)-1]
	if last.Stage != models.StageError || last.Status != models.EventError {
		t.Fatalf("terminal event: %+v", last)
	}
}

func TestWorkflow_transientErrorsRetriedThenSucceed(t *testing.T) {
	t.Parallel()
	// The errored first call consumes a script slot; pad it.
	llm := generate.NewStubClient(append([]string{"unused"}, script(97)...)...)
	llm.Errs = []error{&generate.TransientError{Err: errors.New("rate limited")}}
	f := newFixture(t, llm, nil)
	p := f.createPlan(t, store.NewPlan{SkipResearch: true})

	f.startAndWait(t, p.PlanID)

	got, _ := f.store.GetPlan(context.Background(), p.PlanID)
	if got.Status != models.StatusDraftReady {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestWorkflow_cancelMidLoop(t *testing.T) {
	t.Parallel()
	// Generation stalls until cancelled.
	llm := newBlockingClient()
	f := newFixture(t, llm.stub(), nil)
	f.orch.refiner.LLM = llm
	p := f.createPlan(t, store.NewPlan{SkipResearch: true})

	ch, cancelSub := f.bus.Subscribe(p.PlanID)
	defer cancelSub()
	if err := f.orch.Start(context.Background(), p.PlanID); err != nil {
		t.Fatalf("start: %v", err)
	}

	<-llm.started
	if err := f.orch.Cancel(p.PlanID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	var last models.Event
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case ev, ok := <-ch:
			if !ok {
				done = true
				break
			}
			last = ev
			if ev.Terminal() {
				done = true
			}
		case <-timeout:
			t.Fatal("no terminal event after cancel")
		}
	}
	waitStopped(t, f.orch, p.PlanID)

	got, _ := f.store.GetPlan(context.Background(), p.PlanID)
	if got.Status != models.StatusCancelled {
		t.Fatalf("status = %s", got.Status)
	}
	if last.Stage != models.StageError || !contains(last.Message, "cancelled") {
		t.Fatalf("terminal event: %+v", last)
	}
	if c, _ := last.Data["cancelled"].(bool); !c {
		t.Fatalf("terminal event not marked as a cancellation: %+v", last.Data)
	}
	iters, err := f.store.ListIterations(context.Background(), p.PlanID)
	if err != nil {
		t.Fatal(err)
	}
	if len(iters) != 0 {
		t.Fatalf("iterations recorded after cancellation: %+v", iters)
	}
}

func TestStart_conflictsWhileRunning(t *testing.T) {
	t.Parallel()
	llm := newBlockingClient()
	f := newFixture(t, llm.stub(), nil)
	f.orch.refiner.LLM = llm
	p := f.createPlan(t, store.NewPlan{SkipResearch: true})

	if err := f.orch.Start(context.Background(), p.PlanID); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-llm.started

	err := f.orch.Start(context.Background(), p.PlanID)
	if !errors.Is(err, ErrAlreadyRunning) && !errors.Is(err, ErrNotStartable) {
		t.Fatalf("second start: %v", err)
	}

	_ = f.orch.Cancel(p.PlanID)
	waitStopped(t, f.orch, p.PlanID)
}

func TestStart_unknownPlan(t *testing.T) {
	t.Parallel()
	f := newFixture(t, generate.NewStubClient("x"), nil)
	err := f.orch.Start(context.Background(), "no-such-plan")
	if !errors.Is(err, store.ErrPlanNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestCancel_notRunning(t *testing.T) {
	t.Parallel()
	f := newFixture(t, generate.NewStubClient("x"), nil)
	if err := f.orch.Cancel("idle-plan"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("err = %v", err)
	}
}

func TestWorkflow_variantFanOutOneFailureSurvives(t *testing.T) {
	t.Parallel()
	llm := generate.NewStubClient(append(script(97), "adapted", "adapted", "adapted")...)
	f := newFixture(t, llm, nil)
	p := f.createPlan(t, store.NewPlan{
		SkipResearch:   true,
		TargetChannels: []string{"twitter", "carrier-pigeon", "linkedin"},
	})

	f.startAndWait(t, p.PlanID)

	got, _ := f.store.GetPlan(context.Background(), p.PlanID)
	if got.Status != models.StatusDraftReady {
		t.Fatalf("status = %s", got.Status)
	}
	variants, err := f.store.ListVariants(context.Background(), p.PlanID)
	if err != nil {
		t.Fatal(err)
	}
	if len(variants) != 3 {
		t.Fatalf("variants: %d", len(variants))
	}
	byChannel := map[string]store.Variant{}
	for _, v := range variants {
		byChannel[v.Channel] = v
	}
	if v := byChannel["twitter"]; v.Error != nil || v.Body == "" {
		t.Fatalf("twitter variant: %+v", v)
	}
	if v := byChannel["linkedin"]; v.Error != nil || v.Body == "" {
		t.Fatalf("linkedin variant: %+v", v)
	}
	if v := byChannel["carrier-pigeon"]; v.Error == nil {
		t.Fatalf("bad channel should fail: %+v", v)
	}
}

func TestStartable(t *testing.T) {
	t.Parallel()
	for _, s := range []string{models.StatusPlanned, models.StatusDraftReady, models.StatusFailed, models.StatusCancelled} {
		if !Startable(s) {
			t.Fatalf("%s should be startable", s)
		}
	}
	for _, s := range []string{models.StatusResearching, models.StatusGenerating, models.StatusRefining} {
		if Startable(s) {
			t.Fatalf("%s should not be startable", s)
		}
	}
}

// blockingClient stalls the first Complete call until its context is
// cancelled, signalling started so tests can line up a cancellation.
type blockingClient struct {
	release chan struct{}
	started chan struct{}
	once    sync.Once
}

func newBlockingClient() *blockingClient {
	return &blockingClient{release: make(chan struct{}), started: make(chan struct{})}
}

func (b *blockingClient) stub() *generate.StubClient { return generate.NewStubClient("unused") }

func (b *blockingClient) Complete(ctx context.Context, _ generate.Request) (string, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-b.release:
		return "released", nil
	}
}

func contains(s, sub string) bool { return strings.Contains(s, sub) }
