package apperr

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/good-yellow-bee/teamsync/internal/models"
)

func TestKindOf(t *testing.T) {
	base := errors.New("connection refused")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", Validation("send_message", "content is required"), KindValidation},
		{"authorization", Authorization("change_role", "no"), KindAuthorization},
		{"sync", Sync("fetch", models.CollectionMessages, "room1", base), KindSync},
		{"mutation", Mutation("create_task", models.CollectionTasks, "t1", nil, base), KindMutation},
		{"cache", Cache("upsert", base), KindCache},
		{"wrapped", fmt.Errorf("outer: %w", Cache("upsert", base)), KindCache},
		{"plain", base, ""},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	base := errors.New("boom")
	err := Sync("fetch", models.CollectionTasks, "p1", base)
	if !errors.Is(err, base) {
		t.Error("errors.Is should see the cause")
	}
}

func TestError_Message(t *testing.T) {
	err := Sync("fetch", models.CollectionMessages, "room1", errors.New("timeout"))
	msg := err.Error()
	for _, want := range []string{"sync error", "fetch", "messages:room1", "timeout"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestError_Recoverable(t *testing.T) {
	if Cache("write", errors.New("disk full")).Recoverable() {
		t.Error("cache errors are not recoverable")
	}
	if !Mutation("send_message", models.CollectionMessages, "m1", nil, errors.New("x")).Recoverable() {
		t.Error("mutation errors are recoverable")
	}
}
