// Package config loads toolmesh settings from defaults, an optional YAML file,
// .env files and the process environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"toolmesh/internal/domain"
)

// Config is the resolved configuration shared by toolctl and toolserver.
type Config struct {
	Endpoints        []domain.RemoteEndpoint
	CallTimeout      time.Duration
	DiscoveryTimeout time.Duration
	ProbeTimeout     time.Duration
	CachePath        string
	Observability    ObservabilityConfig
	Log              LogConfig
	Chart            ChartConfig
	PDF              PDFConfig
	Image            ImageConfig
}

type ObservabilityConfig struct {
	ListenAddress string
}

type LogConfig struct {
	Level       string
	Development bool
}

// ServerConfig is the part every tool server shares.
type ServerConfig struct {
	Host string
	Port int
	// PublicURL is the base of returned file URLs; derived from Host and Port when empty.
	PublicURL string
	Dir       string
}

// BaseURL is the URL clients use to reach this server.
func (s ServerConfig) BaseURL() string {
	if s.PublicURL != "" {
		return strings.TrimRight(s.PublicURL, "/")
	}
	return fmt.Sprintf("http://%s:%d", s.Host, s.Port)
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type ChartConfig struct {
	ServerConfig
	Renderer      string
	RenderTimeout time.Duration
}

type PDFConfig struct {
	ServerConfig
	PandocPath  string
	LatexEngine string
	// SearchPath holds extra directories for pandoc and the LaTeX engine.
	SearchPath []string
}

type ImageConfig struct {
	ServerConfig
	ComfyURL     string
	ComfyTimeout time.Duration
	PollInterval time.Duration
	// WorkflowPath points at a ComfyUI API workflow; the embedded default is used when empty.
	WorkflowPath string
}

// LoadOptions selects the sources Load reads.
type LoadOptions struct {
	// ConfigPath is an optional YAML file.
	ConfigPath string
	// EnvFiles are .env files loaded before reading the environment; missing files are ignored.
	EnvFiles []string
}

type rawConfig struct {
	CallTimeoutSeconds      int                    `mapstructure:"callTimeoutSeconds"`
	DiscoveryTimeoutSeconds int                    `mapstructure:"discoveryTimeoutSeconds"`
	ProbeTimeoutSeconds     int                    `mapstructure:"probeTimeoutSeconds"`
	CachePath               string                 `mapstructure:"cachePath"`
	Endpoints               rawEndpoints           `mapstructure:"endpoints"`
	Extra                   []rawEndpoint          `mapstructure:"extraEndpoints"`
	Observability           rawObservabilityConfig `mapstructure:"observability"`
	Log                     rawLogConfig           `mapstructure:"log"`
	Chart                   rawChartConfig         `mapstructure:"chart"`
	PDF                     rawPDFConfig           `mapstructure:"pdf"`
	Image                   rawImageConfig         `mapstructure:"image"`
}

type rawEndpoints struct {
	Chart rawEndpoint `mapstructure:"chart"`
	PDF   rawEndpoint `mapstructure:"pdf"`
	Image rawEndpoint `mapstructure:"image"`
}

type rawEndpoint struct {
	Name     string   `mapstructure:"name"`
	URL      string   `mapstructure:"url"`
	MCPPath  string   `mapstructure:"mcpPath"`
	Include  []string `mapstructure:"include"`
	Exclude  []string `mapstructure:"exclude"`
	Disabled bool     `mapstructure:"disabled"`
}

type rawObservabilityConfig struct {
	ListenAddress string `mapstructure:"listenAddress"`
}

type rawLogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type rawServerConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	PublicURL string `mapstructure:"publicURL"`
	Dir       string `mapstructure:"dir"`
}

type rawChartConfig struct {
	rawServerConfig      `mapstructure:",squash"`
	Renderer             string `mapstructure:"renderer"`
	RenderTimeoutSeconds int    `mapstructure:"renderTimeoutSeconds"`
}

type rawPDFConfig struct {
	rawServerConfig `mapstructure:",squash"`
	PandocPath      string `mapstructure:"pandocPath"`
	LatexEngine     string `mapstructure:"latexEngine"`
	SearchPath      string `mapstructure:"searchPath"`
}

type rawImageConfig struct {
	rawServerConfig     `mapstructure:",squash"`
	ComfyURL            string  `mapstructure:"comfyURL"`
	ComfyTimeoutSeconds float64 `mapstructure:"comfyTimeoutSeconds"`
	PollIntervalSeconds float64 `mapstructure:"pollIntervalSeconds"`
	WorkflowPath        string  `mapstructure:"workflowPath"`
}

// envBindings maps config keys to the environment variables the deployment uses.
var envBindings = map[string]string{
	"endpoints.chart.url":         "MCP_CHART_URL",
	"endpoints.pdf.url":           "MCP_PDF_URL",
	"endpoints.image.url":         "MCP_COMFY_URL",
	"chart.dir":                   "CHARTS_DIR",
	"chart.renderer":              "CHART_RENDERER",
	"chart.publicURL":             "CHART_PUBLIC_URL",
	"pdf.dir":                     "PDFS_DIR",
	"pdf.pandocPath":              "PANDOC_PATH",
	"pdf.latexEngine":             "LATEX_ENGINE",
	"pdf.publicURL":               "PDF_PUBLIC_URL",
	"pdf.searchPath":              "PDF_SEARCH_PATH",
	"image.dir":                   "GENERATED_IMAGES_DIR",
	"image.comfyURL":              "COMFY_URL",
	"image.comfyTimeoutSeconds":   "COMFY_TIMEOUT",
	"image.pollIntervalSeconds":   "COMFY_POLL_INTERVAL",
	"image.workflowPath":          "COMFY_WORKFLOW",
	"image.publicURL":             "IMAGE_PUBLIC_URL",
	"callTimeoutSeconds":          "TOOL_CALL_TIMEOUT",
	"cachePath":                   "TOOLMESH_CACHE_PATH",
	"observability.listenAddress": "TOOLMESH_OBSERVABILITY_ADDR",
	"log.level":                   "TOOLMESH_LOG_LEVEL",
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("callTimeoutSeconds", domain.DefaultCallTimeoutSeconds)
	v.SetDefault("discoveryTimeoutSeconds", domain.DefaultDiscoveryTimeoutSecs)
	v.SetDefault("probeTimeoutSeconds", domain.DefaultProbeTimeoutSeconds)
	v.SetDefault("cachePath", domain.DefaultCapabilityCachePath)
	v.SetDefault("endpoints.chart.url", domain.DefaultChartEndpointURL)
	v.SetDefault("endpoints.pdf.url", domain.DefaultPDFEndpointURL)
	v.SetDefault("endpoints.image.url", domain.DefaultImageEndpointURL)
	v.SetDefault("observability.listenAddress", domain.DefaultObservabilityAddress)
	v.SetDefault("log.level", "info")

	v.SetDefault("chart.host", "127.0.0.1")
	v.SetDefault("chart.port", domain.DefaultChartServerPort)
	v.SetDefault("chart.dir", domain.DefaultChartsDir)
	v.SetDefault("chart.renderTimeoutSeconds", 120)

	v.SetDefault("pdf.host", "127.0.0.1")
	v.SetDefault("pdf.port", domain.DefaultPDFServerPort)
	v.SetDefault("pdf.dir", domain.DefaultPDFsDir)
	v.SetDefault("pdf.pandocPath", domain.DefaultPandocPath)
	v.SetDefault("pdf.latexEngine", domain.DefaultLatexEngine)

	v.SetDefault("image.host", "127.0.0.1")
	v.SetDefault("image.port", domain.DefaultImageServerPort)
	v.SetDefault("image.dir", domain.DefaultImagesDir)
	v.SetDefault("image.comfyURL", domain.DefaultComfyURL)
	v.SetDefault("image.comfyTimeoutSeconds", domain.DefaultComfyTimeoutSeconds)
	v.SetDefault("image.pollIntervalSeconds", float64(domain.DefaultComfyPollIntervalMs)/1000)
}

// Load resolves the configuration.
func Load(opts LoadOptions) (Config, error) {
	if err := loadEnvFiles(opts.EnvFiles); err != nil {
		return Config{}, err
	}

	v := newViper()
	if path := strings.TrimSpace(opts.ConfigPath); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return normalize(raw)
}

func loadEnvFiles(paths []string) error {
	for _, path := range paths {
		if strings.TrimSpace(path) == "" {
			continue
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
	}
	return nil
}

func normalize(raw rawConfig) (Config, error) {
	cfg := Config{
		CallTimeout:      seconds(raw.CallTimeoutSeconds, domain.DefaultCallTimeoutSeconds),
		DiscoveryTimeout: seconds(raw.DiscoveryTimeoutSeconds, domain.DefaultDiscoveryTimeoutSecs),
		ProbeTimeout:     seconds(raw.ProbeTimeoutSeconds, domain.DefaultProbeTimeoutSeconds),
		CachePath:        strings.TrimSpace(raw.CachePath),
		Observability:    ObservabilityConfig{ListenAddress: strings.TrimSpace(raw.Observability.ListenAddress)},
		Log: LogConfig{
			Level:       strings.ToLower(strings.TrimSpace(raw.Log.Level)),
			Development: raw.Log.Development,
		},
		Chart: ChartConfig{
			ServerConfig:  serverConfig(raw.Chart.rawServerConfig),
			Renderer:      strings.TrimSpace(raw.Chart.Renderer),
			RenderTimeout: seconds(raw.Chart.RenderTimeoutSeconds, 120),
		},
		PDF: PDFConfig{
			ServerConfig: serverConfig(raw.PDF.rawServerConfig),
			PandocPath:   strings.TrimSpace(raw.PDF.PandocPath),
			LatexEngine:  strings.TrimSpace(raw.PDF.LatexEngine),
			SearchPath:   pathList(raw.PDF.SearchPath),
		},
		Image: ImageConfig{
			ServerConfig: serverConfig(raw.Image.rawServerConfig),
			ComfyURL:     strings.TrimRight(strings.TrimSpace(raw.Image.ComfyURL), "/"),
			ComfyTimeout: fractionalSeconds(raw.Image.ComfyTimeoutSeconds, domain.DefaultComfyTimeoutSeconds),
			PollInterval: fractionalSeconds(raw.Image.PollIntervalSeconds, float64(domain.DefaultComfyPollIntervalMs)/1000),
			WorkflowPath: strings.TrimSpace(raw.Image.WorkflowPath),
		},
	}

	named := []struct {
		name string
		raw  rawEndpoint
	}{
		{name: string(domain.ArtifactChart), raw: raw.Endpoints.Chart},
		{name: string(domain.ArtifactPDF), raw: raw.Endpoints.PDF},
		{name: string(domain.ArtifactImage), raw: raw.Endpoints.Image},
	}
	seen := make(map[string]struct{})
	for _, entry := range named {
		entry.raw.Name = entry.name
		endpoint, err := endpointConfig(entry.raw)
		if err != nil {
			return Config{}, err
		}
		seen[endpoint.Name] = struct{}{}
		cfg.Endpoints = append(cfg.Endpoints, endpoint)
	}
	for _, extra := range raw.Extra {
		endpoint, err := endpointConfig(extra)
		if err != nil {
			return Config{}, err
		}
		if _, dup := seen[endpoint.Name]; dup {
			return Config{}, fmt.Errorf("endpoint %q is defined more than once", endpoint.Name)
		}
		seen[endpoint.Name] = struct{}{}
		cfg.Endpoints = append(cfg.Endpoints, endpoint)
	}
	return cfg, nil
}

func endpointConfig(raw rawEndpoint) (domain.RemoteEndpoint, error) {
	name := strings.TrimSpace(raw.Name)
	if name == "" {
		return domain.RemoteEndpoint{}, errors.New("endpoint name is required")
	}
	base := strings.TrimRight(strings.TrimSpace(raw.URL), "/")
	if base != "" {
		parsed, err := url.Parse(base)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return domain.RemoteEndpoint{}, fmt.Errorf("endpoint %s: invalid url %q", name, raw.URL)
		}
	}
	return domain.RemoteEndpoint{
		Name:     name,
		BaseURL:  base,
		MCPPath:  strings.TrimSpace(raw.MCPPath),
		Include:  raw.Include,
		Exclude:  raw.Exclude,
		Disabled: raw.Disabled || base == "",
	}, nil
}

func serverConfig(raw rawServerConfig) ServerConfig {
	return ServerConfig{
		Host:      strings.TrimSpace(raw.Host),
		Port:      raw.Port,
		PublicURL: strings.TrimSpace(raw.PublicURL),
		Dir:       strings.TrimSpace(raw.Dir),
	}
}

func seconds(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}

func fractionalSeconds(value, fallback float64) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value * float64(time.Second))
}

// Endpoint returns the named endpoint.
func (c Config) Endpoint(name string) (domain.RemoteEndpoint, bool) {
	for _, endpoint := range c.Endpoints {
		if endpoint.Name == name {
			return endpoint, true
		}
	}
	return domain.RemoteEndpoint{}, false
}

func pathList(value string) []string {
	var out []string
	for _, dir := range filepath.SplitList(value) {
		if dir = strings.TrimSpace(dir); dir != "" {
			out = append(out, dir)
		}
	}
	return out
}
