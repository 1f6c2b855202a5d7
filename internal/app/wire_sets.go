//go:build wireinject
// +build wireinject

package app

import (
	"github.com/google/wire"
)

var MetricsSet = wire.NewSet(
	NewMetricsRegistry,
	NewMetrics,
)

var ToolServerSet = wire.NewSet(
	MetricsSet,
	NewServerProfile,
	NewWorkPool,
	NewArtifactStore,
	NewMCPServer,
	NewToolServer,
)
