package task

import "context"

// Controller is the part of a Task an actuator may steer while it runs.
type Controller interface {
	Pause() error
	Resume() error
	Cancel()
	State() State
}

type controllerKey struct{}

func withController(ctx context.Context, c Controller) context.Context {
	return context.WithValue(ctx, controllerKey{}, c)
}

// ControllerFromContext returns the task that invoked the actuator owning ctx, or nil.
func ControllerFromContext(ctx context.Context) Controller {
	if c, ok := ctx.Value(controllerKey{}).(Controller); ok {
		return c
	}
	return nil
}
