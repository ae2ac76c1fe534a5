package player

import (
	"testing"
)

func TestCollapseEmptyBatch(t *testing.T) {
	plan := Collapse(nil)

	if !plan.IsNoop() {
		t.Errorf("empty batch should collapse to a no-op plan, got %+v", plan)
	}
}

func TestCollapseStatePriority(t *testing.T) {
	tests := []struct {
		name      string
		batch     []string
		wantState DesiredState
		wantSkip  bool
	}{
		{
			name:      "stop beats play regardless of order",
			batch:     []string{`{"action":"play"}`, `{"action":"stop"}`},
			wantState: DesiredStopped,
		},
		{
			name:      "stop beats play when enqueued first",
			batch:     []string{`{"action":"stop"}`, `{"action":"play"}`},
			wantState: DesiredStopped,
		},
		{
			name:      "pause beats play",
			batch:     []string{`{"action":"play"}`, `{"action":"pause"}`, `{"action":"play"}`},
			wantState: DesiredPaused,
		},
		{
			name:      "stop beats pause",
			batch:     []string{`{"action":"pause"}`, `{"action":"stop"}`},
			wantState: DesiredStopped,
		},
		{
			name:      "skip and play coexist",
			batch:     []string{`{"action":"skip"}`, `{"action":"play"}`},
			wantState: DesiredPlaying,
			wantSkip:  true,
		},
		{
			name:      "skip and play coexist regardless of order",
			batch:     []string{`{"action":"play"}`, `{"action":"skip"}`},
			wantState: DesiredPlaying,
			wantSkip:  true,
		},
		{
			name:      "skip leaves an earlier pause intact",
			batch:     []string{`{"action":"pause"}`, `{"action":"skip"}`},
			wantState: DesiredPaused,
			wantSkip:  true,
		},
		{
			name:      "stop still wins over skip",
			batch:     []string{`{"action":"skip"}`, `{"action":"stop"}`},
			wantState: DesiredStopped,
			wantSkip:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := Collapse(tt.batch)

			if plan.Skip != tt.wantSkip {
				t.Errorf("skip = %v, want %v", plan.Skip, tt.wantSkip)
			}
			if plan.State == nil {
				t.Fatalf("state = nil, want %s", tt.wantState)
			}
			if *plan.State != tt.wantState {
				t.Errorf("state = %s, want %s", *plan.State, tt.wantState)
			}
		})
	}
}

func TestCollapseSkipOnly(t *testing.T) {
	plan := Collapse([]string{`{"action":"skip"}`})

	if !plan.Skip {
		t.Error("skip should be set")
	}
	if plan.State != nil {
		t.Errorf("skip alone must not set a state, got %s", *plan.State)
	}
}

func TestCollapseVolumeLastWriteWins(t *testing.T) {
	tests := []struct {
		name      string
		batch     []string
		wantSet   *int
		wantDelta int
	}{
		{
			name:    "last set wins over earlier set and delta",
			batch:   []string{`{"action":"set_volume","value":30}`, `{"action":"volume_up"}`, `{"action":"set_volume","value":90}`},
			wantSet: intPtr(90),
		},
		{
			name:      "delta after set discards the set",
			batch:     []string{`{"action":"set_volume","value":50}`, `{"action":"volume_down"}`},
			wantDelta: -VolumeStep,
		},
		{
			name:      "last delta wins",
			batch:     []string{`{"action":"volume_down"}`, `{"action":"volume_up"}`},
			wantDelta: VolumeStep,
		},
		{
			name:    "set_volume clamps above 100",
			batch:   []string{`{"action":"set_volume","value":150}`},
			wantSet: intPtr(100),
		},
		{
			name:    "set_volume clamps below 0",
			batch:   []string{`{"action":"set_volume","value":-5}`},
			wantSet: intPtr(0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := Collapse(tt.batch)

			switch {
			case tt.wantSet != nil:
				if plan.VolumeSet == nil {
					t.Fatalf("volume_set = nil, want %d", *tt.wantSet)
				}
				if *plan.VolumeSet != *tt.wantSet {
					t.Errorf("volume_set = %d, want %d", *plan.VolumeSet, *tt.wantSet)
				}
				if plan.VolumeDelta != 0 {
					t.Errorf("volume_delta = %d, want 0", plan.VolumeDelta)
				}
			default:
				if plan.VolumeSet != nil {
					t.Errorf("volume_set = %d, want nil", *plan.VolumeSet)
				}
				if plan.VolumeDelta != tt.wantDelta {
					t.Errorf("volume_delta = %d, want %d", plan.VolumeDelta, tt.wantDelta)
				}
			}
		})
	}
}

func TestCollapseDiscardsBadRecords(t *testing.T) {
	batch := []string{
		`not json at all`,
		`{"action":"warp_ten"}`,
		`{"action":"set_volume"}`,
		`{"action":"play"}`,
	}

	plan := Collapse(batch)

	if plan.State == nil || *plan.State != DesiredPlaying {
		t.Error("malformed records must not abort collapsing of the rest of the batch")
	}
	if plan.VolumeSet != nil || plan.VolumeDelta != 0 {
		t.Error("set_volume without value should have no effect")
	}
}

func TestCollapseIdempotentAcrossDrain(t *testing.T) {
	batch := []string{`{"action":"play"}`, `{"action":"volume_up"}`}

	first := Collapse(batch)
	second := Collapse(nil)

	if first.IsNoop() {
		t.Error("first collapse should produce actions")
	}
	if !second.IsNoop() {
		t.Error("collapsing the already-drained inbox must be a no-op")
	}
}

func TestClampVolume(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{-10, 0},
		{0, 0},
		{55, 55},
		{100, 100},
		{150, 100},
	}

	for _, tt := range tests {
		if got := ClampVolume(tt.in); got != tt.want {
			t.Errorf("ClampVolume(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func intPtr(v int) *int { return &v }
