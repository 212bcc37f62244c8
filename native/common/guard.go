package common

import "errors"

// ErrModulePaused is returned by Guard when the named module's kill switch
// is on. Paused modules reject mutations and leave state untouched.
var ErrModulePaused = errors.New("module paused")

// PauseView reports the pause switch for a protocol module ("flashpool",
// "flashloan", "achievements").
type PauseView interface {
	IsPaused(module string) bool
}

// Guard checks the pause switch for module. Engines without a configured
// view, and anonymous callers, pass through unguarded.
func Guard(view PauseView, module string) error {
	if view == nil || module == "" {
		return nil
	}
	if !view.IsPaused(module) {
		return nil
	}
	return ErrModulePaused
}
