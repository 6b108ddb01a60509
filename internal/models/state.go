// Package models defines the conversation state carried between turns.
package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownSlot is returned when a write targets a slot outside the closed set.
var ErrUnknownSlot = errors.New("unknown slot")

// SlotWrite records a rejected write to an unknown slot.
type SlotWrite struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Slots maps each slot of the closed set to its value. An empty string means
// the slot is unset and is encoded as JSON null.
type Slots map[SlotName]string

// NewSlots returns a slot map with every known slot present and unset.
func NewSlots() Slots {
	s := make(Slots, len(AllSlots))
	for _, name := range AllSlots {
		s[name] = ""
	}
	return s
}

// IsFilled reports whether the slot holds a non-blank value.
func (s Slots) IsFilled(name SlotName) bool {
	return strings.TrimSpace(s[name]) != ""
}

// Clone returns an independent copy of the slots.
func (s Slots) Clone() Slots {
	out := NewSlots()
	for k, v := range s {
		out[k] = v
	}
	return out
}

// MarshalJSON encodes every known slot in canonical order, unset slots as null.
func (s Slots) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range AllSlots {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(string(name))
		buf.Write(key)
		buf.WriteByte(':')
		v := strings.TrimSpace(s[name])
		if v == "" {
			buf.WriteString("null")
			continue
		}
		val, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes known slots. Unknown keys are ignored here; State
// records them as unknown slot writes.
func (s *Slots) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("slots: %w", err)
	}
	out := NewSlots()
	for k, v := range raw {
		name := SlotName(k)
		if !name.IsKnown() {
			continue
		}
		out[name] = scalarString(v)
	}
	*s = out
	return nil
}

// scalarString flattens a JSON scalar into its slot string form.
func scalarString(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// Meta holds per-conversation bookkeeping.
type Meta struct {
	SafeSpaceShown    bool               `json:"safe_space_shown"`
	Welcomed          bool               `json:"welcomed"`
	AwaitingFiles     bool               `json:"awaiting_files"`
	RepairCounts      map[QuestionID]int `json:"repair_counts"`
	UnknownSlotWrites []SlotWrite        `json:"unknown_slot_writes"`
}

// State is the caller-owned conversation state, round-tripped every turn.
type State struct {
	Mode           Mode
	Phase          Phase
	User           map[string]any
	Slots          Slots
	LastQuestionID QuestionID
	Turn           int
	EndReason      EndReason
	SafetyFlags    []RedFlag
	Meta           Meta
}

type stateWire struct {
	Mode           Mode           `json:"mode"`
	Phase          Phase          `json:"phase"`
	User           map[string]any `json:"user,omitempty"`
	Slots          Slots          `json:"slots"`
	LastQuestionID *QuestionID    `json:"last_question_id"`
	Turn           int            `json:"turn"`
	EndReason      *EndReason     `json:"end_reason"`
	SafetyFlags    []RedFlag      `json:"safety_flags"`
	Meta           Meta           `json:"meta"`
}

// NewState creates a fresh conversation at INTRO with every slot unset.
func NewState(user map[string]any) State {
	s := State{
		Mode:  ModeNormal,
		Phase: PhaseIntro,
		User:  user,
		Slots: NewSlots(),
	}
	s.normalize()
	return s
}

// normalize fills defaults so that a decoded or zero state is usable.
func (s *State) normalize() {
	if s.Mode == "" {
		s.Mode = ModeNormal
	}
	if s.Phase == "" {
		s.Phase = PhaseIntro
	}
	if s.Slots == nil {
		s.Slots = NewSlots()
	} else {
		for _, name := range AllSlots {
			if _, ok := s.Slots[name]; !ok {
				s.Slots[name] = ""
			}
		}
	}
	if s.SafetyFlags == nil {
		s.SafetyFlags = []RedFlag{}
	}
	if s.Meta.RepairCounts == nil {
		s.Meta.RepairCounts = map[QuestionID]int{}
	}
	for q := range s.Meta.RepairCounts {
		if !q.IsKnown() {
			delete(s.Meta.RepairCounts, q)
		}
	}
	if s.Meta.UnknownSlotWrites == nil {
		s.Meta.UnknownSlotWrites = []SlotWrite{}
	}
}

// Normalize applies meta and slot defaulting in place.
func (s *State) Normalize() {
	s.normalize()
}

// MarshalJSON encodes the state; unset pending question and end reason are null.
func (s State) MarshalJSON() ([]byte, error) {
	s.normalize()
	w := stateWire{
		Mode:        s.Mode,
		Phase:       s.Phase,
		User:        s.User,
		Slots:       s.Slots,
		Turn:        s.Turn,
		SafetyFlags: s.SafetyFlags,
		Meta:        s.Meta,
	}
	if s.LastQuestionID != "" {
		q := s.LastQuestionID
		w.LastQuestionID = &q
	}
	if s.EndReason != "" {
		r := s.EndReason
		w.EndReason = &r
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a caller-supplied state. Slot keys outside the
// closed set are recorded in Meta.UnknownSlotWrites rather than dropped
// silently.
func (s *State) UnmarshalJSON(data []byte) error {
	var w stateWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("chat state: %w", err)
	}
	var probe struct {
		Slots map[string]json.RawMessage `json:"slots"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("chat state slots: %w", err)
	}

	if w.Mode != "" && w.Mode != ModeNormal && w.Mode != ModeSafetyLock {
		return fmt.Errorf("chat state: invalid mode %q", w.Mode)
	}
	if w.Phase != "" && !w.Phase.IsValid() {
		return fmt.Errorf("chat state: invalid phase %q", w.Phase)
	}

	*s = State{
		Mode:        w.Mode,
		Phase:       w.Phase,
		User:        w.User,
		Slots:       w.Slots,
		Turn:        w.Turn,
		SafetyFlags: w.SafetyFlags,
		Meta:        w.Meta,
	}
	if w.LastQuestionID != nil {
		s.LastQuestionID = *w.LastQuestionID
	}
	if w.EndReason != nil {
		s.EndReason = *w.EndReason
	}
	s.normalize()

	for k, v := range probe.Slots {
		if SlotName(k).IsKnown() {
			continue
		}
		var value any
		_ = json.Unmarshal(v, &value)
		s.Meta.UnknownSlotWrites = append(s.Meta.UnknownSlotWrites, SlotWrite{Key: k, Value: value})
	}
	if s.LastQuestionID != "" && !s.LastQuestionID.IsKnown() {
		s.LastQuestionID = ""
	}
	return nil
}

// Clone returns a deep copy that shares no mutable memory with s.
func (s State) Clone() State {
	out := s
	out.Slots = s.Slots.Clone()
	if s.User != nil {
		out.User = make(map[string]any, len(s.User))
		for k, v := range s.User {
			out.User[k] = v
		}
	}
	out.SafetyFlags = append([]RedFlag{}, s.SafetyFlags...)
	out.Meta.RepairCounts = make(map[QuestionID]int, len(s.Meta.RepairCounts))
	for k, v := range s.Meta.RepairCounts {
		out.Meta.RepairCounts[k] = v
	}
	out.Meta.UnknownSlotWrites = append([]SlotWrite{}, s.Meta.UnknownSlotWrites...)
	out.normalize()
	return out
}

// Public returns a copy without the caller's user profile.
func (s State) Public() State {
	out := s.Clone()
	out.User = nil
	return out
}

// Slot returns the trimmed value of a slot, or "" when unset.
func (s *State) Slot(name SlotName) string {
	return strings.TrimSpace(s.Slots[name])
}

// SetSlot writes a slot. Unknown names are recorded and ErrUnknownSlot is returned.
func (s *State) SetSlot(name SlotName, value string) error {
	if !name.IsKnown() {
		s.Meta.UnknownSlotWrites = append(s.Meta.UnknownSlotWrites, SlotWrite{Key: string(name), Value: value})
		return fmt.Errorf("%w: %q", ErrUnknownSlot, name)
	}
	if s.Slots == nil {
		s.Slots = NewSlots()
	}
	s.Slots[name] = strings.TrimSpace(value)
	return nil
}

// FillSlot writes value only when the slot is currently empty. It reports
// whether the slot was written.
func (s *State) FillSlot(name SlotName, value string) (bool, error) {
	if strings.TrimSpace(value) == "" {
		return false, nil
	}
	if name.IsKnown() && s.Slots.IsFilled(name) {
		return false, nil
	}
	if err := s.SetSlot(name, value); err != nil {
		return false, err
	}
	return true, nil
}

// DisplayName returns the collected name, falling back to the caller profile.
func (s *State) DisplayName() string {
	if n := s.Slot(SlotUserName); n != "" {
		return n
	}
	if s.User != nil {
		if n, ok := s.User["name"].(string); ok {
			return strings.TrimSpace(n)
		}
	}
	return ""
}

// IsDone reports whether the conversation has ended.
func (s *State) IsDone() bool {
	return s.Phase == PhaseEnd
}

// IsLocked reports whether the safety lock is engaged.
func (s *State) IsLocked() bool {
	return s.Mode == ModeSafetyLock
}

// Lock engages the safety lock. There is no inverse.
func (s *State) Lock() {
	s.Mode = ModeSafetyLock
}

// AddSafetyFlags appends flags that have not been seen before, keeping
// first-seen order.
func (s *State) AddSafetyFlags(flags ...RedFlag) {
	seen := make(map[RedFlag]bool, len(s.SafetyFlags))
	for _, f := range s.SafetyFlags {
		seen[f] = true
	}
	for _, f := range flags {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		s.SafetyFlags = append(s.SafetyFlags, f)
	}
}

// AdvanceTo moves the phase forward to p. Backward moves are refused.
func (s *State) AdvanceTo(p Phase) bool {
	if p.Rank() <= s.Phase.Rank() {
		return false
	}
	s.Phase = p
	return true
}

// End forces phase END with the given reason and clears the pending question.
func (s *State) End(reason EndReason) {
	s.Phase = PhaseEnd
	s.LastQuestionID = ""
	if reason != "" {
		s.EndReason = reason
	}
}

// RepairCount returns the failed-parse counter for q.
func (s *State) RepairCount(q QuestionID) int {
	return s.Meta.RepairCounts[q]
}

// IncrementRepair bumps the failed-parse counter for q and returns the new value.
func (s *State) IncrementRepair(q QuestionID) int {
	if s.Meta.RepairCounts == nil {
		s.Meta.RepairCounts = map[QuestionID]int{}
	}
	s.Meta.RepairCounts[q]++
	return s.Meta.RepairCounts[q]
}

// ResetRepair clears the failed-parse counter for q.
func (s *State) ResetRepair(q QuestionID) {
	if s.Meta.RepairCounts == nil {
		s.Meta.RepairCounts = map[QuestionID]int{}
	}
	s.Meta.RepairCounts[q] = 0
}
