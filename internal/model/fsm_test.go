package model

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusDispatching, true},
		{StatusPending, StatusCancelRequested, true},
		{StatusPending, StatusRunning, false},
		{StatusDispatching, StatusRunning, true},
		{StatusDispatching, StatusFailed, true},
		{StatusDispatching, StatusCompleted, false},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusCancelRequested, true},
		{StatusCancelRequested, StatusCancelled, true},
		{StatusCancelRequested, StatusFailed, true},
		{StatusCancelRequested, StatusRunning, false},
		{StatusCompleted, StatusRunning, false},
		{StatusCompleted, StatusCompleted, false},
		{StatusFailed, StatusPending, false},
		{StatusCancelled, StatusDispatching, false},
	}

	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed, StatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}

	nonTerminal := []Status{StatusPending, StatusDispatching, StatusRunning, StatusCancelRequested}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}

func TestRecordMatches(t *testing.T) {
	rec := &Record{Service: "sync", UserID: "alice"}

	cases := []struct {
		service, userID string
		want            bool
	}{
		{"", "", true},
		{"sync", "", true},
		{"", "alice", true},
		{"sync", "alice", true},
		{"other", "", false},
		{"sync", "bob", false},
	}

	for _, c := range cases {
		if got := rec.Matches(c.service, c.userID); got != c.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", c.service, c.userID, got, c.want)
		}
	}
}

func TestRecordCloneIsIndependent(t *testing.T) {
	rec := &Record{
		TaskID:     "1",
		Parameters: map[string]interface{}{"k": "v"},
		Logs:       []string{"first"},
	}
	clone := rec.Clone()
	clone.Parameters["k"] = "changed"
	clone.Logs[0] = "changed"

	if rec.Parameters["k"] != "v" {
		t.Errorf("original Parameters mutated via clone: %v", rec.Parameters)
	}
	if rec.Logs[0] != "first" {
		t.Errorf("original Logs mutated via clone: %v", rec.Logs)
	}
}
