package store

import "testing"

func TestTaskIDFromExpiredKey(t *testing.T) {
	cases := []struct {
		key    string
		wantID string
		wantOK bool
	}{
		{"task:123", "123", true},
		{"task:123:metadata", "", false},
		{"task:", "", false},
		{"index:tasks", "", false},
		{"", "", false},
	}

	for _, c := range cases {
		id, ok := TaskIDFromExpiredKey(c.key)
		if id != c.wantID || ok != c.wantOK {
			t.Errorf("TaskIDFromExpiredKey(%q) = (%q, %v), want (%q, %v)", c.key, id, ok, c.wantID, c.wantOK)
		}
	}
}
