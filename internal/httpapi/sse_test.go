package httpapi

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/houghtp/terra-automation-platform-sub002/internal/bus"
	"github.com/houghtp/terra-automation-platform-sub002/pkg/models"
)

func TestEventStreamHandler_connectedPing(t *testing.T) {
	b := bus.New(time.Minute, 8)
	defer b.Close()
	handler := eventStreamHandler(b, "p1")

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/plans/p1/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		handler(rec, req)
		close(done)
	}()
	// Wait for handler to send "connected" then stop (avoid reading rec.Body while handler writes - race).
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	sc := bufio.NewScanner(rec.Body)
	var found bool
	for sc.Scan() {
		if strings.Contains(sc.Text(), "connected") {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected response to contain \"connected\"")
	}
}

func TestEventStreamHandler_endsAfterTerminalEvent(t *testing.T) {
	b := bus.New(time.Minute, 8)
	defer b.Close()
	handler := eventStreamHandler(b, "p1")

	b.Publish(models.Event{PlanID: "p1", Stage: models.StageGenerating, Status: models.EventRunning})
	b.Publish(models.Event{PlanID: "p1", Stage: models.StageCompleted, Status: models.EventSuccess})

	req := httptest.NewRequest(http.MethodGet, "/plans/p1/events", nil)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		handler(rec, req)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not end after terminal event")
	}

	body := rec.Body.String()
	if !strings.Contains(body, models.StageGenerating) || !strings.Contains(body, models.StageCompleted) {
		t.Fatalf("replayed events missing:\n%s", body)
	}
}

func TestEventStreamHandler_otherPlanNotVisible(t *testing.T) {
	b := bus.New(time.Minute, 8)
	defer b.Close()
	handler := eventStreamHandler(b, "p1")

	b.Publish(models.Event{PlanID: "p2", Stage: models.StageCompleted, Status: models.EventSuccess})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/plans/p1/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if strings.Contains(rec.Body.String(), "p2") {
		t.Fatalf("leaked another plan's events:\n%s", rec.Body.String())
	}
}
