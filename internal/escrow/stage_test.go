package escrow

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseStage(t *testing.T) {
	for _, code := range []uint8{1, 2, 3} {
		s, err := ParseStage(code)
		if err != nil {
			t.Fatalf("ParseStage(%d): %v", code, err)
		}
		if uint8(s) != code {
			t.Errorf("ParseStage(%d) = %d", code, s)
		}
	}
	for _, code := range []uint8{0, 4, 255} {
		if _, err := ParseStage(code); !errors.Is(err, ErrInvalidStage) {
			t.Errorf("ParseStage(%d) err = %v, want ErrInvalidStage", code, err)
		}
	}
}

func TestStage_Transitions(t *testing.T) {
	tests := []struct {
		from, to Stage
		want     bool
	}{
		{StageInitialized, StageCompleted, true},
		{StageInitialized, StagePulledBack, true},
		{StageInitialized, StageInitialized, false},
		{StageCompleted, StagePulledBack, false},
		{StageCompleted, StageInitialized, false},
		{StagePulledBack, StageCompleted, false},
		{StagePulledBack, StageInitialized, false},
		{Stage(0), StageCompleted, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStage_IsTerminal(t *testing.T) {
	if StageInitialized.IsTerminal() {
		t.Error("initialized should not be terminal")
	}
	if !StageCompleted.IsTerminal() || !StagePulledBack.IsTerminal() {
		t.Error("completed and pulled_back should be terminal")
	}
}

func TestStage_Text(t *testing.T) {
	b, err := json.Marshal(map[string]Stage{"stage": StagePulledBack})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"stage":"pulled_back"}` {
		t.Errorf("got %s", b)
	}

	var out struct{ Stage Stage }
	if err := json.Unmarshal([]byte(`{"Stage":"completed"}`), &out); err != nil {
		t.Fatal(err)
	}
	if out.Stage != StageCompleted {
		t.Errorf("got %s", out.Stage)
	}

	if _, err := json.Marshal(Stage(9)); err == nil {
		t.Error("expected error marshaling invalid stage")
	}
	if err := json.Unmarshal([]byte(`{"Stage":"open"}`), &out); err == nil {
		t.Error("expected error for unknown stage name")
	}
}
