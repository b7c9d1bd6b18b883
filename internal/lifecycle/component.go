// Package lifecycle orders component startup by declared dependencies and
// shuts the system down in reverse, with per-component grace periods.
package lifecycle

import "context"

// Component is one managed unit: the store, the engine, the governor, the
// reconciler, the monitor, the MCP server.
type Component interface {
	// Start initializes the component. Must be idempotent.
	Start(ctx context.Context) error

	// Stop shuts the component down, finishing in-flight work within the
	// context deadline. A Stop error never prevents other components from
	// stopping.
	Stop(ctx context.Context) error

	// Name identifies the component in logs and errors. Must be non-empty.
	Name() string
}

// FuncComponent adapts plain start/stop functions to Component, for
// components whose own API does not take a context on both sides.
type FuncComponent struct {
	ComponentName string
	StartFunc     func(ctx context.Context) error
	StopFunc      func(ctx context.Context) error
}

func (f *FuncComponent) Start(ctx context.Context) error {
	if f.StartFunc == nil {
		return nil
	}
	return f.StartFunc(ctx)
}

func (f *FuncComponent) Stop(ctx context.Context) error {
	if f.StopFunc == nil {
		return nil
	}
	return f.StopFunc(ctx)
}

func (f *FuncComponent) Name() string { return f.ComponentName }
