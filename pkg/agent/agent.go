// Package agent wires the connection manager, dispatcher, authenticator,
// and robot registry into one runnable automation agent.
//
// Every collaborator is an explicitly owned instance; there is no
// process-wide state. Two agents in one process do not share anything.
package agent

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/devrelay/devrelay-go/pkg/auth"
	"github.com/devrelay/devrelay-go/pkg/config"
	"github.com/devrelay/devrelay-go/pkg/connection"
	"github.com/devrelay/devrelay-go/pkg/dispatch"
	"github.com/devrelay/devrelay-go/pkg/log"
	"github.com/devrelay/devrelay-go/pkg/robot"
	"github.com/devrelay/devrelay-go/pkg/transport"
)

// Agent is a running automation agent instance.
type Agent struct {
	config config.Config
	logger log.Logger

	sessions   *auth.Authenticator
	manager    *connection.Manager
	dispatcher *dispatch.Dispatcher
	robots     *robot.Registry
}

// New builds an agent from validated configuration and a robot factory.
// logger may be nil to disable event logging.
func New(cfg config.Config, factory robot.Factory, logger log.Logger) (*Agent, error) {
	if factory == nil {
		return nil, errors.New("robot factory is required")
	}
	if logger == nil {
		logger = log.NoopLogger{}
	}

	sessions := auth.NewAuthenticator(auth.Config{
		BaseURL:       cfg.Endpoint,
		DeviceID:      cfg.DeviceID,
		Provider:      cfg.Provider,
		Platform:      cfg.Platform,
		RenewalMargin: cfg.Session.RenewalMargin.Std(),
	})

	dialer := &transport.WebSocketDialer{}
	manager := connection.NewManager(cfg.ConnectionConfig(), dialer, sessions, logger)

	robots := robot.NewRegistry(factory)
	dispatcher := dispatch.NewDispatcher(cfg.DispatchConfig(), manager, robots, logger)

	a := &Agent{
		config:     cfg,
		logger:     logger,
		sessions:   sessions,
		manager:    manager,
		dispatcher: dispatcher,
		robots:     robots,
	}

	manager.SetFrameHandler(dispatcher.HandleFrame)
	manager.OnDisconnected(dispatcher.ConnectionLost)
	manager.OnConnected(func() {
		dispatcher.ConnectionUp()
		a.sendStatus()
	})

	return a, nil
}

// Manager exposes the connection manager, mainly for tests and tooling.
func (a *Agent) Manager() *connection.Manager {
	return a.manager
}

// Dispatcher exposes the command dispatcher.
func (a *Agent) Dispatcher() *dispatch.Dispatcher {
	return a.dispatcher
}

// Sessions exposes the session authenticator.
func (a *Agent) Sessions() *auth.Authenticator {
	return a.sessions
}

// Run drives the agent until the context is cancelled, Close is called,
// or connection retries are exhausted under a bounded attempt budget.
// The controller session is deleted best effort on the way out.
func (a *Agent) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.dispatcher.Run(runCtx)
	}()

	err := a.manager.Run(runCtx)

	cancel()
	<-dispatchDone

	deleteCtx, deleteCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer deleteCancel()
	if deleteErr := a.sessions.Delete(deleteCtx); deleteErr != nil {
		a.logger.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: a.manager.ConnectionID(),
			Layer:        log.LayerSession,
			Category:     log.CategoryError,
			Error: &log.ErrorEventData{
				Layer:   log.LayerSession,
				Message: deleteErr.Error(),
				Context: "delete session",
			},
		})
	}

	if closeErr := a.robots.Close(); closeErr != nil && err == nil {
		err = closeErr
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close requests a clean shutdown of a running agent.
func (a *Agent) Close() {
	a.manager.Close()
	a.dispatcher.Close()
}

// sendStatus reports the agent identity, device inventory, and action
// vocabulary to the controller after each connect.
func (a *Agent) sendStatus() {
	a.dispatcher.SendStatus(uuid.NewString(), map[string]any{
		"agent_id": a.sessions.DeviceID(),
		"state":    "connected",
		"devices":  a.robots.Devices(),
		"actions":  robot.Actions(),
	})
}
