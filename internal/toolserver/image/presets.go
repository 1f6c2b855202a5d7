package image

const (
	DefaultAspectRatio = "square"
	DefaultQuality     = "normal"
	Model              = "z_image_turbo"
)

type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

var AspectRatios = map[string]Size{
	"square":    {Width: 1024, Height: 1024},
	"landscape": {Width: 1280, Height: 768},
	"portrait":  {Width: 768, Height: 1280},
	"wide":      {Width: 1536, Height: 640},
	"tall":      {Width: 640, Height: 1536},
}

type QualityPreset struct {
	Steps       int    `json:"steps"`
	Description string `json:"description"`
}

// QualityPresets map quality names to sampler steps.
var QualityPresets = map[string]QualityPreset{
	"draft":  {Steps: 5, Description: "Fast preview with lower quality"},
	"normal": {Steps: 9, Description: "Balanced quality and speed"},
	"high":   {Steps: 15, Description: "Best quality, slower generation"},
}
