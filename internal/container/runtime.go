// Package container isolates the LDES consumer lifecycle from any one
// container engine behind a narrow capability interface.
package container

import "context"

// Runtime is the capability surface the LDES handlers need: lifecycle
// control and log retrieval for a named consumer container, nothing more.
type Runtime interface {
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Restart(ctx context.Context, name string) error
	// Running reports whether the container is up and, when the image
	// defines a healthcheck, healthy.
	Running(ctx context.Context, name string) (bool, error)
	// Logs returns up to tail recent log lines.
	Logs(ctx context.Context, name string, tail int) (string, error)
}
