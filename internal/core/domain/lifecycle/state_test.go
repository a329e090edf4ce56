// internal/core/domain/lifecycle/state_test.go
package lifecycle

import (
	"testing"

	"trading-bot-orchestrator/internal/infrastructure/persistence/postgres/models"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to string
		allowed  bool
	}{
		// Счастливый путь
		{models.StatusPending, models.StatusStarting, true},
		{models.StatusStarting, models.StatusRunning, true},
		{models.StatusRunning, models.StatusStopping, true},
		{models.StatusStopping, models.StatusStopped, true},

		// failed достижим из нетерминальных
		{models.StatusPending, models.StatusFailed, true},
		{models.StatusStarting, models.StatusFailed, true},
		{models.StatusRunning, models.StatusFailed, true},
		{models.StatusStopping, models.StatusFailed, true},

		// Стоп, пришедший до фактического запуска
		{models.StatusPending, models.StatusStopping, true},
		{models.StatusStarting, models.StatusStopping, true},

		// Пропуск состояний запрещён
		{models.StatusPending, models.StatusRunning, false},
		{models.StatusPending, models.StatusStopped, false},
		{models.StatusStarting, models.StatusStopped, false},
		{models.StatusRunning, models.StatusStopped, false},

		// Терминальные статусы запечатаны
		{models.StatusStopped, models.StatusRunning, false},
		{models.StatusStopped, models.StatusFailed, false},
		{models.StatusFailed, models.StatusPending, false},
		{models.StatusFailed, models.StatusStopped, false},

		// Движение назад запрещено
		{models.StatusRunning, models.StatusStarting, false},
		{models.StatusStopping, models.StatusRunning, false},
	}

	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.allowed {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestTransitionRejectsInvalid(t *testing.T) {
	status, err := Transition(models.StatusStopped, models.StatusRunning)
	if err == nil {
		t.Fatal("expected error for terminal transition")
	}
	if status != models.StatusStopped {
		t.Fatalf("status must stay unchanged on invalid transition, got %s", status)
	}

	status, err = Transition(models.StatusPending, models.StatusStarting)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != models.StatusStarting {
		t.Fatalf("got %s, want starting", status)
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []string{models.StatusPending, models.StatusStarting, models.StatusRunning, models.StatusStopping} {
		if IsTerminal(s) {
			t.Errorf("%s must not be terminal", s)
		}
	}
	for _, s := range []string{models.StatusStopped, models.StatusFailed} {
		if !IsTerminal(s) {
			t.Errorf("%s must be terminal", s)
		}
	}
}
