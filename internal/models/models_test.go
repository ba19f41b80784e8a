package models

import (
	"testing"
	"time"
)

func TestRole_CanAssignTo(t *testing.T) {
	for _, actor := range Roles {
		for _, target := range Roles {
			want := actor == RoleAdmin ||
				(actor == RoleManager && (target == RoleMember || target == RoleManager))
			if got := actor.CanAssignTo(target); got != want {
				t.Errorf("%s.CanAssignTo(%s) = %v, want %v", actor, target, got, want)
			}
		}
	}
}

func TestRole_CanAssignToUnknown(t *testing.T) {
	if Role("OWNER").CanAssignTo(RoleMember) {
		t.Error("unknown role should assign nothing")
	}
	if RoleAdmin.CanAssignTo(Role("OWNER")) {
		t.Error("admin should not assign an unknown role")
	}
}

func TestRole_CanModify(t *testing.T) {
	tests := []struct {
		actor   Role
		current Role
		want    bool
	}{
		{RoleAdmin, RoleAdmin, true},
		{RoleAdmin, RoleMember, true},
		{RoleManager, RoleAdmin, false},
		{RoleManager, RoleManager, true},
		{RoleManager, RoleMember, true},
		{RoleMember, RoleMember, false},
		{RoleMember, RoleManager, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.actor)+"->"+string(tt.current), func(t *testing.T) {
			if got := tt.actor.CanModify(tt.current); got != tt.want {
				t.Errorf("CanModify = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		input string
		want  Role
	}{
		{"ADMIN", RoleAdmin},
		{"admin", RoleAdmin},
		{"Manager", RoleManager},
		{"MEMBER", RoleMember},
		{"", RoleMember},
		{"owner", RoleMember},
	}

	for _, tt := range tests {
		if got := ParseRole(tt.input); got != tt.want {
			t.Errorf("ParseRole(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNormalizeSet(t *testing.T) {
	got := NormalizeSet([]string{"b", "a", "", "b", "c", "a"})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("NormalizeSet = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("NormalizeSet[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if out := NormalizeSet(nil); out == nil || len(out) != 0 {
		t.Errorf("NormalizeSet(nil) = %v, want empty non-nil", out)
	}
}

func TestMessage_ToggleReaction(t *testing.T) {
	m := &Message{ID: "m1"}

	m.ToggleReaction("👍", "u1")
	m.ToggleReaction("👍", "u2")
	if got := m.Reactions["👍"]; len(got) != 2 {
		t.Fatalf("expected 2 reactions, got %v", got)
	}

	m.ToggleReaction("👍", "u1")
	if got := m.Reactions["👍"]; len(got) != 1 || got[0] != "u2" {
		t.Fatalf("expected [u2], got %v", got)
	}

	m.ToggleReaction("👍", "u2")
	if _, ok := m.Reactions["👍"]; ok {
		t.Error("empty reaction should be removed")
	}
}

func TestMessage_MarkReadBy(t *testing.T) {
	m := &Message{ID: "m1", ReadBy: []string{"u2"}}

	if !m.MarkReadBy("u1") {
		t.Error("first read should change the set")
	}
	if m.MarkReadBy("u1") {
		t.Error("second read should be a no-op")
	}
	if len(m.ReadBy) != 2 || m.ReadBy[0] != "u1" {
		t.Errorf("ReadBy = %v", m.ReadBy)
	}
}

func TestChatRoom_SortTime(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	room := &ChatRoom{ID: "r1", CreatedAt: created}
	if !room.SortTime().Equal(created) {
		t.Errorf("SortTime without messages = %v, want %v", room.SortTime(), created)
	}

	last := created.Add(time.Hour)
	room.LastMessageTimestamp = last
	if !room.SortTime().Equal(last) {
		t.Errorf("SortTime = %v, want %v", room.SortTime(), last)
	}
}

func TestTask_IsOverdue(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		task Task
		want bool
	}{
		{"no due date", Task{Status: TaskTodo}, false},
		{"open past due", Task{Status: TaskInProgress, DueDate: &past}, true},
		{"open not due", Task{Status: TaskTodo, DueDate: &future}, false},
		{"done past due", Task{Status: TaskDone, DueDate: &past}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.task.IsOverdue(now); got != tt.want {
				t.Errorf("IsOverdue = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCursor(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	a := Cursor{Time: base, ID: "a"}
	b := Cursor{Time: base, ID: "b"}
	c := Cursor{Time: base.Add(time.Second), ID: "a"}

	if !a.Before(b) || b.Before(a) {
		t.Error("ties should break on id")
	}
	if !b.Before(c) {
		t.Error("earlier time should sort first")
	}
	if a.Before(a) {
		t.Error("Before must be strict")
	}

	parsed, err := ParseCursor(c.String())
	if err != nil {
		t.Fatalf("ParseCursor: %v", err)
	}
	if !parsed.Time.Equal(c.Time) || parsed.ID != c.ID {
		t.Errorf("ParseCursor = %+v, want %+v", parsed, c)
	}

	if _, err := ParseCursor("not-a-number/x"); err == nil {
		t.Error("expected error for malformed cursor")
	}
}

func TestMember_NaturalKey(t *testing.T) {
	m := NewProjectMember("p1", "u1", RoleMember, "u0")
	if m.ID != m.NaturalKey() {
		t.Errorf("locally created member id %q should equal natural key %q", m.ID, m.NaturalKey())
	}
	m.ID = "remote-42"
	if m.NaturalKey() != "p1/u1" {
		t.Errorf("NaturalKey = %q", m.NaturalKey())
	}
}
