package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolmesh/internal/app"
	"toolmesh/internal/infra/config"
)

func TestRootCommandHasOneSubcommandPerKind(t *testing.T) {
	root := newRootCmd()
	for _, kind := range app.ToolServerKinds {
		cmd, _, err := root.Find([]string{kind})
		require.NoError(t, err)
		assert.Equal(t, kind, cmd.Name())
	}
}

func TestServeOptionsApply(t *testing.T) {
	cfg := config.Config{PDF: config.PDFConfig{ServerConfig: config.ServerConfig{Host: "127.0.0.1", Port: 3001, Dir: "./pdfs"}}}
	opts := serveOptions{host: "0.0.0.0", port: 8001, publicURL: "http://pdf.internal", logLevel: "debug"}

	opts.apply(app.KindPDF, &cfg)
	assert.Equal(t, "0.0.0.0", cfg.PDF.Host)
	assert.Equal(t, 8001, cfg.PDF.Port)
	assert.Equal(t, "./pdfs", cfg.PDF.Dir)
	assert.Equal(t, "http://pdf.internal", cfg.PDF.BaseURL())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Empty(t, cfg.Chart.Host)
}
