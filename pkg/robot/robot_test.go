package robot

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/devrelay/devrelay-go/pkg/wire"
)

type stubRobot struct {
	deviceID string
	closed   bool
}

func (r *stubRobot) Execute(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
	return map[string]any{"device": r.deviceID}, nil
}

func (r *stubRobot) Close() error {
	r.closed = true
	return nil
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want wire.Code
	}{
		{"action error keeps its code", NewActionError(wire.CodePermission, "denied"), wire.CodePermission},
		{"wrapped action error", fmt.Errorf("execute: %w", NewActionError(wire.CodeUnsupported, "no such action")), wire.CodeUnsupported},
		{"device gone", ErrDeviceGone, wire.CodeUserEnv},
		{"wrapped device gone", fmt.Errorf("tap: %w", ErrDeviceGone), wire.CodeUserEnv},
		{"plain error defaults to transient", errors.New("socket reset"), wire.CodeTransient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Errorf("Classify(%v) = %s, want %s", tc.err, got, tc.want)
			}
		})
	}
}

func TestRegistryCreatesOnce(t *testing.T) {
	created := 0
	reg := NewRegistry(func(deviceID string) (Robot, error) {
		created++
		return &stubRobot{deviceID: deviceID}, nil
	})

	first, err := reg.Get("d1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	second, err := reg.Get("d1")
	if err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	if first != second {
		t.Error("same device should reuse the robot")
	}
	if created != 1 {
		t.Errorf("expected one factory call, got %d", created)
	}

	if _, err := reg.Get("d2"); err != nil {
		t.Fatalf("Get for second device failed: %v", err)
	}
	devices := reg.Devices()
	if len(devices) != 2 || devices[0] != "d1" || devices[1] != "d2" {
		t.Errorf("unexpected device list: %v", devices)
	}
}

func TestRegistryFactoryError(t *testing.T) {
	boom := errors.New("no such device")
	reg := NewRegistry(func(deviceID string) (Robot, error) {
		return nil, boom
	})

	if _, err := reg.Get("d1"); !errors.Is(err, boom) {
		t.Errorf("expected the factory error, got %v", err)
	}
	if len(reg.Devices()) != 0 {
		t.Error("failed creation should not be cached")
	}
}

func TestRegistryRelease(t *testing.T) {
	reg := NewRegistry(func(deviceID string) (Robot, error) {
		return &stubRobot{deviceID: deviceID}, nil
	})

	rb, _ := reg.Get("d1")
	if err := reg.Release("d1"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if !rb.(*stubRobot).closed {
		t.Error("Release should close the robot")
	}
	if len(reg.Devices()) != 0 {
		t.Error("released device should be forgotten")
	}

	// Releasing an unknown device is a no-op.
	if err := reg.Release("absent"); err != nil {
		t.Errorf("Release of unknown device failed: %v", err)
	}
}

func TestRegistryClose(t *testing.T) {
	reg := NewRegistry(func(deviceID string) (Robot, error) {
		return &stubRobot{deviceID: deviceID}, nil
	})

	a, _ := reg.Get("d1")
	b, _ := reg.Get("d2")

	if err := reg.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !a.(*stubRobot).closed || !b.(*stubRobot).closed {
		t.Error("Close should close every robot")
	}

	if _, err := reg.Get("d3"); err == nil {
		t.Error("closed registry should reject Get")
	}
	if err := reg.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestKnownAction(t *testing.T) {
	for _, a := range []string{ActionTap, ActionScreenshot, ActionDeviceLogs} {
		if !KnownAction(a) {
			t.Errorf("%s should be known", a)
		}
	}
	if KnownAction("reboot") {
		t.Error("unknown action should be rejected")
	}
	if len(Actions()) != len(knownActions) {
		t.Error("Actions should cover the full vocabulary")
	}
}

func TestValidSwipeDirectionAndButton(t *testing.T) {
	if !ValidSwipeDirection(SwipeUp) || ValidSwipeDirection("diagonal") {
		t.Error("swipe direction validation is wrong")
	}
	if !ValidButton(ButtonHome) || ValidButton("eject") {
		t.Error("button validation is wrong")
	}
}
