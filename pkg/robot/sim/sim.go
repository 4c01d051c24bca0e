// Package sim provides a simulated capability backend.
//
// The simulated robot answers every action with synthetic but plausible
// data and never touches real hardware. The agent's simulation mode and
// the test suite both run against it.
package sim

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/devrelay/devrelay-go/pkg/robot"
	"github.com/devrelay/devrelay-go/pkg/wire"
)

// Config customizes a simulated robot.
type Config struct {
	// Latency is applied to every action before it completes.
	Latency time.Duration

	// ScreenWidth/ScreenHeight are the simulated display dimensions.
	// Default 1080x2340.
	ScreenWidth  int
	ScreenHeight int
}

// Robot is a simulated device backend.
type Robot struct {
	deviceID string
	config   Config

	mu          sync.Mutex
	orientation string
	running     map[string]bool
	failures    map[string]error
	closed      bool
}

// New creates a simulated robot for the given device.
func New(deviceID string, config Config) *Robot {
	if config.ScreenWidth <= 0 {
		config.ScreenWidth = 1080
	}
	if config.ScreenHeight <= 0 {
		config.ScreenHeight = 2340
	}
	return &Robot{
		deviceID:    deviceID,
		config:      config,
		orientation: "portrait",
		running:     map[string]bool{"com.android.launcher": true},
		failures:    make(map[string]error),
	}
}

// Factory returns a robot.Factory producing simulated robots that share
// one configuration.
func Factory(config Config) robot.Factory {
	return func(deviceID string) (robot.Robot, error) {
		return New(deviceID, config), nil
	}
}

// FailWith makes the given action fail with err until cleared with nil.
// Used by tests to exercise error classification.
func (r *Robot) FailWith(action string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failures, action)
		return
	}
	r.failures[action] = err
}

// Execute performs one simulated action.
func (r *Robot) Execute(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, robot.ErrDeviceGone
	}
	injected := r.failures[action]
	r.mu.Unlock()

	if r.config.Latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.config.Latency):
		}
	}

	if injected != nil {
		return nil, injected
	}

	switch action {
	case robot.ActionTap, robot.ActionLongPress:
		x, y, err := coordParams(params)
		if err != nil {
			return nil, err
		}
		return map[string]any{"message": fmt.Sprintf("%s at (%d, %d)", action, x, y)}, nil

	case robot.ActionSwipe:
		dir, _ := params["direction"].(string)
		if !robot.ValidSwipeDirection(dir) {
			return nil, robot.NewActionError(wire.CodePermanent, "invalid direction: %q", dir)
		}
		return map[string]any{"message": "swiped " + dir}, nil

	case robot.ActionSwipeFrom:
		x, y, err := coordParams(params)
		if err != nil {
			return nil, err
		}
		dir, _ := params["direction"].(string)
		if !robot.ValidSwipeDirection(dir) {
			return nil, robot.NewActionError(wire.CodePermanent, "invalid direction: %q", dir)
		}
		return map[string]any{"message": fmt.Sprintf("swiped %s from (%d, %d)", dir, x, y)}, nil

	case robot.ActionTypeKeys:
		text, _ := params["text"].(string)
		return map[string]any{"message": "typed: " + text}, nil

	case robot.ActionPressButton:
		button, _ := params["button"].(string)
		if !robot.ValidButton(button) {
			return nil, robot.NewActionError(wire.CodePermanent, "invalid button: %q", button)
		}
		return map[string]any{"message": "pressed " + button}, nil

	case robot.ActionOpenURL:
		url, _ := params["url"].(string)
		if url == "" {
			return nil, robot.NewActionError(wire.CodePermanent, "url parameter is required")
		}
		return map[string]any{"message": "opened " + url}, nil

	case robot.ActionScreenshot:
		return map[string]any{"screenshot": r.syntheticScreenshot()}, nil

	case robot.ActionScreenSize:
		return map[string]any{
			"screen_size": map[string]any{
				"width":  r.config.ScreenWidth,
				"height": r.config.ScreenHeight,
			},
		}, nil

	case robot.ActionListElements:
		return map[string]any{"elements": r.syntheticElements()}, nil

	case robot.ActionSetOrientation:
		orientation, _ := params["orientation"].(string)
		if orientation != "portrait" && orientation != "landscape" {
			return nil, robot.NewActionError(wire.CodePermanent, "invalid orientation: %q", orientation)
		}
		r.mu.Lock()
		r.orientation = orientation
		r.mu.Unlock()
		return map[string]any{"orientation": orientation}, nil

	case robot.ActionGetOrientation:
		r.mu.Lock()
		orientation := r.orientation
		r.mu.Unlock()
		return map[string]any{"orientation": orientation}, nil

	case robot.ActionLaunchApp:
		pkg, err := packageParam(params)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.running[pkg] = true
		r.mu.Unlock()
		return map[string]any{"message": "launched " + pkg}, nil

	case robot.ActionTerminateApp:
		pkg, err := packageParam(params)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		delete(r.running, pkg)
		r.mu.Unlock()
		return map[string]any{"message": "terminated " + pkg}, nil

	case robot.ActionListApps:
		return map[string]any{"apps": []any{
			map[string]any{"package_name": "com.android.launcher", "app_name": "Launcher"},
			map[string]any{"package_name": "com.android.settings", "app_name": "Settings"},
		}}, nil

	case robot.ActionRunningApps:
		r.mu.Lock()
		apps := make([]any, 0, len(r.running))
		for pkg := range r.running {
			apps = append(apps, map[string]any{"package_name": pkg})
		}
		r.mu.Unlock()
		return map[string]any{"apps": apps}, nil

	case robot.ActionAppRunning:
		pkg, err := packageParam(params)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		running := r.running[pkg]
		r.mu.Unlock()
		return map[string]any{"is_running": running}, nil

	case robot.ActionDeviceLogs:
		return map[string]any{"logs": fmt.Sprintf("--- simulated log for %s ---", r.deviceID)}, nil

	default:
		return nil, robot.NewActionError(wire.CodeUnsupported, "action %q not implemented by simulator", action)
	}
}

// Close marks the simulated device as gone.
func (r *Robot) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// syntheticScreenshot returns a tiny stable base64 payload.
func (r *Robot) syntheticScreenshot() string {
	raw := fmt.Sprintf("screenshot:%s:%dx%d", r.deviceID, r.config.ScreenWidth, r.config.ScreenHeight)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// syntheticElements returns a fixed element tree.
func (r *Robot) syntheticElements() []any {
	return []any{
		map[string]any{
			"class_name": "android.widget.FrameLayout",
			"bounds":     map[string]any{"x": 0, "y": 0, "width": r.config.ScreenWidth, "height": r.config.ScreenHeight},
			"children": []any{
				map[string]any{
					"class_name": "android.widget.Button",
					"text":       "OK",
					"clickable":  true,
					"bounds":     map[string]any{"x": 100, "y": 200, "width": 200, "height": 80},
				},
			},
		},
	}
}

// coordParams extracts required x/y coordinates.
func coordParams(params map[string]any) (int, int, error) {
	x, okX := numberParam(params, "x")
	y, okY := numberParam(params, "y")
	if !okX || !okY {
		return 0, 0, robot.NewActionError(wire.CodePermanent, "x and y coordinates are required")
	}
	return x, y, nil
}

// packageParam extracts the required package_name parameter.
func packageParam(params map[string]any) (string, error) {
	pkg, _ := params["package_name"].(string)
	if pkg == "" {
		return "", robot.NewActionError(wire.CodePermanent, "package_name parameter is required")
	}
	return pkg, nil
}

// numberParam reads an integer that may have arrived as a JSON float.
func numberParam(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// Compile-time interface satisfaction check.
var _ robot.Robot = (*Robot)(nil)
