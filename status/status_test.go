package status_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/xraph/conduit"
	"github.com/xraph/conduit/status"
)

func TestCanTransition_Table(t *testing.T) {
	allowed := map[[2]status.Status]bool{
		{status.Received, status.Processing}:   true,
		{status.Received, status.Cancelled}:    true,
		{status.Processing, status.Completed}:  true,
		{status.Processing, status.Partially}:  true,
		{status.Processing, status.Failed}:     true,
		{status.Processing, status.Retrying}:   true,
		{status.Processing, status.Cancelled}:  true,
		{status.Retrying, status.Processing}:   true,
	}

	for _, from := range status.All {
		for _, to := range status.All {
			want := allowed[[2]status.Status{from, to}]
			if got := status.CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTerminalStatesHaveNoExit(t *testing.T) {
	for _, from := range []status.Status{status.Completed, status.Failed, status.Cancelled} {
		if !from.IsTerminal() {
			t.Errorf("%s should be terminal", from)
		}
		for _, to := range status.All {
			if status.CanTransition(from, to) {
				t.Errorf("terminal %s allows -> %s", from, to)
			}
		}
	}
}

func TestValidate_WrapsInvalidTransition(t *testing.T) {
	err := status.Validate(status.Completed, status.Processing)
	if !errors.Is(err, conduit.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := status.Validate(status.Received, status.Processing); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want status.Status
		ok   bool
	}{
		{"COMPLETED", status.Completed, true},
		{"Completed", status.Completed, true},
		{"partially", status.Partially, true},
		{"", status.Received, true},
		{"DONE", "", false},
	}
	for _, tt := range tests {
		got, err := status.Parse(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("Parse(%q) err = %v, want ok=%v", tt.in, err, tt.ok)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStatus_JSON(t *testing.T) {
	var s status.Status
	if err := json.Unmarshal([]byte(`"Retrying"`), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s != status.Retrying {
		t.Errorf("got %q", s)
	}
	out, _ := json.Marshal(status.Failed)
	if string(out) != `"FAILED"` {
		t.Errorf("marshal = %s", out)
	}
}

func TestValidPath(t *testing.T) {
	good := []status.Status{
		status.Received, status.Processing, status.Retrying,
		status.Processing, status.Retrying, status.Processing, status.Completed,
	}
	if !status.ValidPath(good) {
		t.Error("expected retry path to be valid")
	}
	if status.ValidPath([]status.Status{status.Processing, status.Completed}) {
		t.Error("path must start at RECEIVED")
	}
	if status.ValidPath([]status.Status{status.Received, status.Completed}) {
		t.Error("RECEIVED -> COMPLETED is not an edge")
	}
}

func TestTracker_RejectKeepsStatus(t *testing.T) {
	tr := status.NewTracker()
	if err := tr.Transition(status.Processing); err != nil {
		t.Fatal(err)
	}
	if err := tr.Transition(status.Completed); err != nil {
		t.Fatal(err)
	}
	if err := tr.Transition(status.Processing); !errors.Is(err, conduit.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if tr.Current() != status.Completed {
		t.Errorf("current = %s, want COMPLETED", tr.Current())
	}
	if !status.ValidPath(tr.History()) {
		t.Errorf("history not a valid path: %v", tr.History())
	}
}

func TestTracker_ConcurrentTransitionsStayValid(t *testing.T) {
	tr := status.NewTracker()
	var wg sync.WaitGroup
	targets := []status.Status{status.Processing, status.Retrying, status.Completed, status.Cancelled}
	for i := range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tr.Transition(targets[i%len(targets)])
		}()
	}
	wg.Wait()
	if !status.ValidPath(tr.History()) {
		t.Errorf("history not a valid path: %v", tr.History())
	}
}
