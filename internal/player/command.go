package player

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Command actions accepted on the inbox.
const (
	ActionPlay       = "play"
	ActionPause      = "pause"
	ActionSkip       = "skip"
	ActionStop       = "stop"
	ActionSetVolume  = "set_volume"
	ActionVolumeUp   = "volume_up"
	ActionVolumeDown = "volume_down"
)

// VolumeStep is the fixed step applied by volume_up/volume_down,
// relative to the volume read at apply-time.
const VolumeStep = 10

// State-affecting command priorities: the highest priority seen in a
// batch determines the resulting desired state. Skip lives on its own
// axis of the plan and never competes here.
var statePriority = map[string]int{
	ActionPlay:  1,
	ActionPause: 2,
	ActionStop:  4,
}

// Command is one decoded inbox record.
type Command struct {
	Action string `json:"action"`
	Value  *int   `json:"value,omitempty"`
}

// ParseCommand decodes a raw inbox record. A malformed record yields an
// error so the caller can discard it without aborting the batch.
func ParseCommand(raw string) (Command, error) {
	var cmd Command
	if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
		return Command{}, fmt.Errorf("malformed command record: %w", err)
	}
	cmd.Action = strings.ToLower(cmd.Action)
	return cmd, nil
}

// ActionPlan is the single collapsed decision for one tick.
// State and Skip are independent: a batch containing both skip and play
// yields skip=true and state=playing. VolumeSet and VolumeDelta are
// mutually exclusive (last volume command wins).
type ActionPlan struct {
	State       *DesiredState
	Skip        bool
	VolumeSet   *int
	VolumeDelta int
}

// IsNoop reports whether the plan requires no action at all.
func (p ActionPlan) IsNoop() bool {
	return p.State == nil && !p.Skip && p.VolumeSet == nil && p.VolumeDelta == 0
}

// Collapse reduces an ordered command batch (oldest first) to one
// ActionPlan. Safe to call with an empty batch; unrecognized or
// malformed records are logged and discarded.
func Collapse(raw []string) ActionPlan {
	var plan ActionPlan
	highest := 0

	for _, rec := range raw {
		cmd, err := ParseCommand(rec)
		if err != nil {
			log.Error().Err(err).Str("record", rec).Msg("Discarding command")
			continue
		}

		switch cmd.Action {
		case ActionSkip:
			plan.Skip = true

		case ActionPlay, ActionPause, ActionStop:
			if pr := statePriority[cmd.Action]; pr > highest {
				highest = pr
				state := desiredForAction(cmd.Action)
				plan.State = &state
			}

		case ActionSetVolume:
			if cmd.Value == nil {
				log.Warn().Str("record", rec).Msg("set_volume without value discarded")
				continue
			}
			vol := ClampVolume(*cmd.Value)
			plan.VolumeSet = &vol
			plan.VolumeDelta = 0

		case ActionVolumeUp:
			plan.VolumeSet = nil
			plan.VolumeDelta = VolumeStep

		case ActionVolumeDown:
			plan.VolumeSet = nil
			plan.VolumeDelta = -VolumeStep

		default:
			log.Warn().Str("action", cmd.Action).Msg("Unknown command action discarded")
		}
	}

	if !plan.IsNoop() {
		logPlan(len(raw), plan)
	}
	return plan
}

func desiredForAction(action string) DesiredState {
	switch action {
	case ActionPlay:
		return DesiredPlaying
	case ActionPause:
		return DesiredPaused
	default:
		return DesiredStopped
	}
}

// ClampVolume bounds a volume value to the engine's 0-100 range.
func ClampVolume(vol int) int {
	if vol < 0 {
		return 0
	}
	if vol > 100 {
		return 100
	}
	return vol
}

func logPlan(batch int, plan ActionPlan) {
	ev := log.Info().Int("commands", batch).Bool("skip", plan.Skip)
	if plan.State != nil {
		ev = ev.Str("state", string(*plan.State))
	}
	if plan.VolumeSet != nil {
		ev = ev.Int("volume_set", *plan.VolumeSet)
	} else if plan.VolumeDelta != 0 {
		ev = ev.Int("volume_delta", plan.VolumeDelta)
	}
	ev.Msg("Collapsed command batch")
}
