package robot

// Action names understood by the dispatch layer.
// Individual backends may support a subset; an action missing from this
// table is rejected as PERMANENT before it reaches a queue, an action a
// backend does not implement fails as UNSUPPORTED when executed.
const (
	// Screen interaction
	ActionTap       = "tap"
	ActionLongPress = "long_press"
	ActionSwipe     = "swipe"
	ActionSwipeFrom = "swipe_from"

	// Input
	ActionTypeKeys    = "type_keys"
	ActionPressButton = "press_button"
	ActionOpenURL     = "open_url"

	// Screen state
	ActionScreenshot     = "screenshot"
	ActionScreenSize     = "screen_size"
	ActionListElements   = "list_elements"
	ActionSetOrientation = "set_orientation"
	ActionGetOrientation = "get_orientation"

	// App management
	ActionLaunchApp    = "launch_app"
	ActionTerminateApp = "terminate_app"
	ActionListApps     = "list_apps"
	ActionRunningApps  = "running_apps"
	ActionAppRunning   = "app_running"

	// Debugging
	ActionDeviceLogs = "device_logs"
)

// knownActions is the full action vocabulary.
var knownActions = map[string]struct{}{
	ActionTap:            {},
	ActionLongPress:      {},
	ActionSwipe:          {},
	ActionSwipeFrom:      {},
	ActionTypeKeys:       {},
	ActionPressButton:    {},
	ActionOpenURL:        {},
	ActionScreenshot:     {},
	ActionScreenSize:     {},
	ActionListElements:   {},
	ActionSetOrientation: {},
	ActionGetOrientation: {},
	ActionLaunchApp:      {},
	ActionTerminateApp:   {},
	ActionListApps:       {},
	ActionRunningApps:    {},
	ActionAppRunning:     {},
	ActionDeviceLogs:     {},
}

// KnownAction reports whether the action is part of the vocabulary.
func KnownAction(action string) bool {
	_, ok := knownActions[action]
	return ok
}

// Actions returns the full vocabulary, for status reports and tooling.
func Actions() []string {
	actions := make([]string, 0, len(knownActions))
	for a := range knownActions {
		actions = append(actions, a)
	}
	return actions
}

// SwipeDirection values for ActionSwipe/ActionSwipeFrom params.
const (
	SwipeUp    = "up"
	SwipeDown  = "down"
	SwipeLeft  = "left"
	SwipeRight = "right"
)

// ValidSwipeDirection reports whether dir is a known swipe direction.
func ValidSwipeDirection(dir string) bool {
	switch dir {
	case SwipeUp, SwipeDown, SwipeLeft, SwipeRight:
		return true
	default:
		return false
	}
}

// Button values for ActionPressButton params.
const (
	ButtonHome       = "home"
	ButtonBack       = "back"
	ButtonMenu       = "menu"
	ButtonVolumeUp   = "volume_up"
	ButtonVolumeDown = "volume_down"
	ButtonPower      = "power"
	ButtonRecentApps = "recent_apps"
)

// ValidButton reports whether b is a known button name.
func ValidButton(b string) bool {
	switch b {
	case ButtonHome, ButtonBack, ButtonMenu, ButtonVolumeUp,
		ButtonVolumeDown, ButtonPower, ButtonRecentApps:
		return true
	default:
		return false
	}
}
