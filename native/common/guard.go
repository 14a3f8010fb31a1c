package common

import "errors"

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when any of the supplied views reports the
// module as paused. Nil views are ignored.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseViews combines several pause sources; a module is paused when any of
// them says so.
type PauseViews []PauseView

// IsPaused implements PauseView.
func (v PauseViews) IsPaused(module string) bool {
	for _, view := range v {
		if view != nil && view.IsPaused(module) {
			return true
		}
	}
	return false
}

// StaticPauses is a fixed set of paused module names, typically loaded from
// configuration.
type StaticPauses map[string]bool

// IsPaused implements PauseView.
func (s StaticPauses) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	return s[module]
}
