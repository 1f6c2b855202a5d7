package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolmesh/internal/domain"
	"toolmesh/internal/infra/config"
	"toolmesh/internal/toolserver/toolservertest"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	server := func(port int) config.ServerConfig {
		return config.ServerConfig{Host: "127.0.0.1", Port: port, Dir: t.TempDir()}
	}
	return config.Config{
		Chart: config.ChartConfig{ServerConfig: server(3003)},
		PDF:   config.PDFConfig{ServerConfig: server(3001), PandocPath: "pandoc", LatexEngine: "pdflatex"},
		Image: config.ImageConfig{ServerConfig: server(3002), ComfyURL: "http://127.0.0.1:1", ComfyTimeout: time.Second},
	}
}

func TestInitializeToolServer(t *testing.T) {
	cfg := testConfig(t)
	tests := []struct {
		kind  string
		name  string
		addr  string
		tools []string
	}{
		{kind: KindChart, name: "chart-generator", addr: "127.0.0.1:3003", tools: []string{"generate_chart", "list_chart_types", "list_themes", "list_generated_charts", "delete_generated_chart"}},
		{kind: KindPDF, name: "pdf-generator", addr: "127.0.0.1:3001", tools: []string{"generate_pdf", "list_styles", "check_pandoc_status", "list_generated_pdfs", "delete_generated_pdf"}},
		{kind: KindImage, name: "comfy-image", addr: "127.0.0.1:3002", tools: []string{"generate_image", "check_comfy_status", "list_aspect_ratios", "list_quality_presets", "list_generated_images", "delete_generated_image"}},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			built, err := InitializeToolServer(tt.kind, cfg, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.name, built.Server.Name())
			assert.Equal(t, tt.addr, built.Addr)

			endpoint := toolservertest.Start(t, built.Server)
			assert.ElementsMatch(t, tt.tools, endpoint.Tools(t))
		})
	}
}

func TestInitializeToolServer_ChartWithoutRenderer(t *testing.T) {
	built, err := InitializeToolServer(KindChart, testConfig(t), nil)
	require.NoError(t, err)

	out := toolservertest.Start(t, built.Server).Call(t, "c", "generate_chart", map[string]any{
		"chart_type": "pie",
		"data":       map[string]any{"values": []any{1, 2}, "labels": []any{"a", "b"}},
	})
	assert.Equal(t, false, out["success"])
	assert.Contains(t, out["error"], "no chart renderer is configured")
}

func TestInitializeToolServer_ImageReportsComfyDown(t *testing.T) {
	built, err := InitializeToolServer(KindImage, testConfig(t), nil)
	require.NoError(t, err)

	out := toolservertest.Start(t, built.Server).Call(t, "", "check_comfy_status", nil)
	assert.Equal(t, false, out["available"])
	assert.Equal(t, "http://127.0.0.1:1", out["url"])
}

func TestInitializeToolServer_UnknownKind(t *testing.T) {
	_, err := InitializeToolServer("video", testConfig(t), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tool server")
}

func TestNewServerProfile(t *testing.T) {
	cfg := testConfig(t)
	profile, err := NewServerProfile(KindPDF, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "pdf-generator", profile.Name)
	assert.Equal(t, "pdf", profile.Extension)
	assert.Equal(t, domain.ArtifactPDF, profile.ArtifactKind)
	assert.Equal(t, cfg.PDF.Dir, profile.Server.Dir)
	require.NotNil(t, profile.Logger)

	_, err = NewToolServer(ServerProfile{Kind: "video", Logger: profile.Logger}, nil, nil, cfg)
	require.Error(t, err)
}

func TestNewMetricsRegistry_RegistersRuntimeCollectors(t *testing.T) {
	registry := NewMetricsRegistry()
	NewMetrics(registry).ObserveProbe("chart", true, time.Millisecond)

	families, err := registry.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, family := range families {
		names[family.GetName()] = true
	}
	assert.True(t, names["go_goroutines"])
	assert.True(t, names["toolmesh_endpoint_up"])
}
