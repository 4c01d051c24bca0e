package sim

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/devrelay/devrelay-go/pkg/robot"
	"github.com/devrelay/devrelay-go/pkg/wire"
)

func TestTapRequiresCoordinates(t *testing.T) {
	r := New("d1", Config{})
	ctx := context.Background()

	result, err := r.Execute(ctx, robot.ActionTap, map[string]any{"x": 100, "y": float64(200)})
	if err != nil {
		t.Fatalf("tap failed: %v", err)
	}
	if result["message"] != "tap at (100, 200)" {
		t.Errorf("unexpected message: %v", result["message"])
	}

	_, err = r.Execute(ctx, robot.ActionTap, map[string]any{"x": 100})
	var actionErr *robot.ActionError
	if !errors.As(err, &actionErr) || actionErr.Code != wire.CodePermanent {
		t.Errorf("missing coordinates should be PERMANENT, got %v", err)
	}
}

func TestSwipeValidatesDirection(t *testing.T) {
	r := New("d1", Config{})
	ctx := context.Background()

	if _, err := r.Execute(ctx, robot.ActionSwipe, map[string]any{"direction": "up"}); err != nil {
		t.Errorf("swipe up failed: %v", err)
	}
	if _, err := r.Execute(ctx, robot.ActionSwipe, map[string]any{"direction": "sideways"}); err == nil {
		t.Error("invalid direction should fail")
	}
}

func TestScreenshotIsStable(t *testing.T) {
	r := New("d1", Config{ScreenWidth: 800, ScreenHeight: 600})

	result, err := r.Execute(context.Background(), robot.ActionScreenshot, nil)
	if err != nil {
		t.Fatalf("screenshot failed: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(result["screenshot"].(string))
	if err != nil {
		t.Fatalf("screenshot is not base64: %v", err)
	}
	if string(raw) != "screenshot:d1:800x600" {
		t.Errorf("unexpected payload: %s", raw)
	}
}

func TestOrientationRoundtrip(t *testing.T) {
	r := New("d1", Config{})
	ctx := context.Background()

	result, _ := r.Execute(ctx, robot.ActionGetOrientation, nil)
	if result["orientation"] != "portrait" {
		t.Errorf("default orientation should be portrait, got %v", result["orientation"])
	}

	if _, err := r.Execute(ctx, robot.ActionSetOrientation, map[string]any{"orientation": "landscape"}); err != nil {
		t.Fatalf("set orientation failed: %v", err)
	}
	result, _ = r.Execute(ctx, robot.ActionGetOrientation, nil)
	if result["orientation"] != "landscape" {
		t.Errorf("orientation should persist, got %v", result["orientation"])
	}

	if _, err := r.Execute(ctx, robot.ActionSetOrientation, map[string]any{"orientation": "upside_down"}); err == nil {
		t.Error("invalid orientation should fail")
	}
}

func TestAppLifecycle(t *testing.T) {
	r := New("d1", Config{})
	ctx := context.Background()
	params := map[string]any{"package_name": "com.example.app"}

	result, _ := r.Execute(ctx, robot.ActionAppRunning, params)
	if result["is_running"] != false {
		t.Error("app should not be running before launch")
	}

	if _, err := r.Execute(ctx, robot.ActionLaunchApp, params); err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	result, _ = r.Execute(ctx, robot.ActionAppRunning, params)
	if result["is_running"] != true {
		t.Error("app should be running after launch")
	}

	if _, err := r.Execute(ctx, robot.ActionTerminateApp, params); err != nil {
		t.Fatalf("terminate failed: %v", err)
	}
	result, _ = r.Execute(ctx, robot.ActionAppRunning, params)
	if result["is_running"] != false {
		t.Error("app should be stopped after terminate")
	}
}

func TestLatencyHonorsContext(t *testing.T) {
	r := New("d1", Config{Latency: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := r.Execute(ctx, robot.ActionTap, map[string]any{"x": 1, "y": 2})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context deadline, got %v", err)
	}
}

func TestFailureInjection(t *testing.T) {
	r := New("d1", Config{})
	ctx := context.Background()
	boom := robot.NewActionError(wire.CodePermission, "accessibility service disabled")

	r.FailWith(robot.ActionTap, boom)
	if _, err := r.Execute(ctx, robot.ActionTap, map[string]any{"x": 1, "y": 2}); !errors.Is(err, boom) {
		t.Errorf("expected injected failure, got %v", err)
	}

	r.FailWith(robot.ActionTap, nil)
	if _, err := r.Execute(ctx, robot.ActionTap, map[string]any{"x": 1, "y": 2}); err != nil {
		t.Errorf("cleared injection should succeed, got %v", err)
	}
}

func TestClosedRobotReportsDeviceGone(t *testing.T) {
	r := New("d1", Config{})
	_ = r.Close()

	_, err := r.Execute(context.Background(), robot.ActionTap, map[string]any{"x": 1, "y": 2})
	if !errors.Is(err, robot.ErrDeviceGone) {
		t.Errorf("expected ErrDeviceGone, got %v", err)
	}
}

func TestUnimplementedActionIsUnsupported(t *testing.T) {
	r := New("d1", Config{})

	_, err := r.Execute(context.Background(), "shake", nil)
	var actionErr *robot.ActionError
	if !errors.As(err, &actionErr) || actionErr.Code != wire.CodeUnsupported {
		t.Errorf("expected UNSUPPORTED, got %v", err)
	}
}
