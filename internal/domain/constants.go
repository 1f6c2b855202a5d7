package domain

const (
	DefaultConversationID        = "_shared"
	ConversationHeader           = "X-Conversation-ID"
	MaxConversationIDLength      = 64
	DefaultMCPPath               = "/mcp"
	DefaultProtocolVersion       = "2025-06-18"
	DefaultClientName            = "toolmesh"
	DefaultCallTimeoutSeconds    = 60
	DefaultDiscoveryTimeoutSecs  = 30
	DefaultProbeTimeoutSeconds   = 2
	DefaultStreamableMaxRetries  = 3
	DefaultListLimit             = 20
	DefaultWorkPoolSize          = 4
	DefaultComfyTimeoutSeconds   = 1800
	DefaultComfyPollIntervalMs   = 500
	DefaultObservabilityAddress  = "0.0.0.0:9090"
	DefaultChartServerPort       = 3003
	DefaultPDFServerPort         = 3001
	DefaultImageServerPort       = 3002
	DefaultChartsDir             = "./data/generated_charts"
	DefaultPDFsDir               = "./data/generated_pdfs"
	DefaultImagesDir             = "./data/generated_images"
	DefaultCapabilityCachePath   = "./data/capabilities.db"
	DefaultComfyURL              = "http://localhost:8188"
	DefaultPandocPath            = "pandoc"
	DefaultLatexEngine           = "pdflatex"
	DefaultChartEndpointURL      = "http://localhost:3003"
	DefaultPDFEndpointURL        = "http://localhost:3001"
	DefaultImageEndpointURL      = "http://localhost:3002"
	DefaultShutdownTimeoutSecond = 5
)
