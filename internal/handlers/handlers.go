// Package handlers registers the built-in task handlers.
package handlers

import (
	"log/slog"

	"cronagent/internal/executor"
	"cronagent/internal/handlers/httpcall"
	"cronagent/internal/handlers/logpurge"
	"cronagent/internal/handlers/shell"
	"cronagent/internal/platform/httpclient"
	"cronagent/internal/store"
)

// Deps are the shared dependencies of built-in handlers.
type Deps struct {
	Journal store.Journal
	HTTP    *httpclient.Client
	Log     *slog.Logger
}

// Register adds every built-in handler to reg.
func Register(reg *executor.Registry, d Deps) error {
	if d.HTTP == nil {
		d.HTTP = httpclient.New(httpclient.WithLogger(d.Log))
	}
	if err := reg.Register(httpcall.Name, httpcall.Factory(d.HTTP)); err != nil {
		return err
	}
	if err := reg.Register(shell.Name, shell.Factory); err != nil {
		return err
	}
	return reg.Register(logpurge.Name, logpurge.New(d.Journal, d.Log).Factory())
}
