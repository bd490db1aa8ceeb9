package localcart

import (
	"time"

	"github.com/fjod/cartsync/internal/domain"
	"github.com/fjod/cartsync/internal/pricing"
)

// MaxHistory bounds the undo/redo ring.
const MaxHistory = 30

// Action describes the mutation that produced a history state.
type Action struct {
	Type    string    `json:"type"`
	Summary string    `json:"summary"`
	At      time.Time `json:"at"`
}

// HistoryInfo tells a client whether undo or redo is possible and which
// action it would revert or replay.
type HistoryInfo struct {
	Available bool    `json:"available"`
	Action    *Action `json:"action,omitempty"`
	Position  int     `json:"position"`
	Size      int     `json:"size"`
}

type state struct {
	lines    []domain.CartLine
	coupons  []pricing.Coupon
	shipping string
	action   Action
}

// history keeps the last MaxHistory states; cursor points at the current one.
type history struct {
	states []state
	cursor int
}

func (h *history) reset(s state) {
	h.states = []state{s}
	h.cursor = 0
}

func (h *history) push(s state) {
	h.states = append(h.states[:h.cursor+1], s)
	if len(h.states) > MaxHistory {
		h.states = h.states[len(h.states)-MaxHistory:]
	}
	h.cursor = len(h.states) - 1
}

func (h *history) undo() (state, Action, bool) {
	if h.cursor <= 0 {
		return state{}, Action{}, false
	}
	undone := h.states[h.cursor].action
	h.cursor--
	return h.states[h.cursor], undone, true
}

func (h *history) redo() (state, bool) {
	if h.cursor >= len(h.states)-1 {
		return state{}, false
	}
	h.cursor++
	return h.states[h.cursor], true
}

func (h *history) undoInfo() HistoryInfo {
	info := HistoryInfo{Position: h.cursor, Size: len(h.states)}
	if h.cursor > 0 {
		a := h.states[h.cursor].action
		info.Available, info.Action = true, &a
	}
	return info
}

func (h *history) redoInfo() HistoryInfo {
	info := HistoryInfo{Position: h.cursor, Size: len(h.states)}
	if h.cursor < len(h.states)-1 {
		a := h.states[h.cursor+1].action
		info.Available, info.Action = true, &a
	}
	return info
}
