// Package callbridge provides the public API for embedding the call bridge.
// This is the stable API for external consumers.
package callbridge

import (
	"github.com/tjfontaine/callbridge/internal/config"
	"github.com/tjfontaine/callbridge/internal/core/domain"
	"github.com/tjfontaine/callbridge/internal/core/ports"
	"github.com/tjfontaine/callbridge/internal/orchestrator"
	"github.com/tjfontaine/callbridge/internal/runtime"
)

// Bridge is the main entry point for running the call bridge.
// See internal/runtime.Bridge for full documentation.
type Bridge = runtime.Bridge

// Option is a functional option for configuring a Bridge.
type Option = runtime.Option

// Config is the bridge configuration.
type Config = config.Config

// Types exchanged with the bridge.
type (
	Customer     = domain.Customer
	Session      = domain.Session
	StartRequest = orchestrator.StartRequest
	Result       = orchestrator.Result

	SessionStore    = ports.SessionStore
	CallControl     = ports.CallControl
	AnalyticsDialer = ports.AnalyticsDialer
	AudioRelay      = ports.AudioRelay
)

// New creates a new Bridge with the given options.
// Example:
//
//	b, err := callbridge.New(
//	    callbridge.WithConfigFile("config.yaml"),
//	)
var New = runtime.New

// LoadConfig reads configuration from path, the environment and defaults.
var LoadConfig = config.Load

// Configuration options
var (
	WithConfigFile = runtime.WithConfigFile
	WithConfig     = runtime.WithConfig
	WithLogger     = runtime.WithLogger

	// Component overrides
	WithSessionStore    = runtime.WithSessionStore
	WithCallControl     = runtime.WithCallControl
	WithAnalyticsDialer = runtime.WithAnalyticsDialer
	WithAudioRelay      = runtime.WithAudioRelay
)
