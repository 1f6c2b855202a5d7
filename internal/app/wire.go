//go:build wireinject
// +build wireinject

package app

import (
	"github.com/google/wire"
	"go.uber.org/zap"

	"toolmesh/internal/infra/config"
)

func InitializeToolServer(kind string, cfg config.Config, logger *zap.Logger) (*ToolServer, error) {
	wire.Build(ToolServerSet)
	return nil, nil
}
