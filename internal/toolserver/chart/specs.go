package chart

import "sort"

// DPI is the fixed resolution charts are rendered at.
const DPI = 100

const (
	DefaultTheme   = "default"
	DefaultFormat  = "square"
	DefaultQuality = "high"
)

// Spec lists the data fields a chart type accepts.
type Spec struct {
	Description string         `json:"description"`
	Required    []string       `json:"required"`
	Optional    []string       `json:"optional"`
	Example     map[string]any `json:"example"`
	Note        string         `json:"note,omitempty"`
}

var Specs = map[string]Spec{
	"scatter": {
		Description: "Scatter plot showing relationships between two variables",
		Required:    []string{"x", "y"},
		Optional:    []string{"labels", "sizes", "colors"},
		Example:     map[string]any{"x": []any{1, 2, 3, 4, 5}, "y": []any{2, 4, 1, 5, 3}},
	},
	"line": {
		Description: "Line plot for time series or continuous data",
		Required:    []string{"x", "y"},
		Optional:    []string{},
		Example:     map[string]any{"x": []any{1, 2, 3, 4, 5}, "y": []any{2, 4, 6, 8, 10}},
		Note:        "y can be a single list or list of lists for multiple lines",
	},
	"bar": {
		Description: "Vertical bar chart for categorical comparisons",
		Required:    []string{"categories", "values"},
		Optional:    []string{},
		Example:     map[string]any{"categories": []any{"A", "B", "C"}, "values": []any{10, 20, 15}},
		Note:        "values can be a single list or list of lists for grouped bars",
	},
	"barh": {
		Description: "Horizontal bar chart for categorical comparisons",
		Required:    []string{"categories", "values"},
		Optional:    []string{},
		Example:     map[string]any{"categories": []any{"A", "B", "C"}, "values": []any{10, 20, 15}},
	},
	"histogram": {
		Description: "Distribution of numerical data",
		Required:    []string{"values"},
		Optional:    []string{"bins"},
		Example:     map[string]any{"values": []any{1, 2, 2, 3, 3, 3, 4, 4, 5}, "bins": 10},
	},
	"pie": {
		Description: "Pie chart showing proportions of a whole",
		Required:    []string{"labels", "values"},
		Optional:    []string{},
		Example:     map[string]any{"labels": []any{"A", "B", "C"}, "values": []any{30, 50, 20}},
	},
	"heatmap": {
		Description: "2D matrix visualization with color intensity",
		Required:    []string{"data"},
		Optional:    []string{"xlabels", "ylabels", "annot"},
		Example: map[string]any{
			"data":    []any{[]any{1, 2, 3}, []any{4, 5, 6}, []any{7, 8, 9}},
			"xlabels": []any{"A", "B", "C"},
			"ylabels": []any{"X", "Y", "Z"},
		},
	},
	"box": {
		Description: "Box plot showing distribution statistics",
		Required:    []string{"data"},
		Optional:    []string{"labels"},
		Example: map[string]any{
			"data":   []any{[]any{1, 2, 3, 4, 5}, []any{2, 3, 4, 5, 6}, []any{3, 4, 5, 6, 7}},
			"labels": []any{"Group A", "Group B", "Group C"},
		},
	},
	"violin": {
		Description: "Violin plot combining box plot with density estimation",
		Required:    []string{"data"},
		Optional:    []string{"labels"},
		Example: map[string]any{
			"data":   []any{[]any{1, 2, 3, 4, 5}, []any{2, 3, 4, 5, 6}},
			"labels": []any{"Group A", "Group B"},
		},
	},
	"area": {
		Description: "Stacked area chart for cumulative totals over time",
		Required:    []string{"x", "y"},
		Optional:    []string{},
		Example:     map[string]any{"x": []any{1, 2, 3, 4, 5}, "y": []any{[]any{1, 2, 3, 4, 5}, []any{2, 3, 4, 5, 6}}},
	},
}

// FormatRatios are width:height aspect ratios.
var FormatRatios = map[string][2]int{
	"square":    {1, 1},
	"landscape": {16, 9},
	"portrait":  {9, 16},
}

// QualitySizes are the longest edge in pixels.
var QualitySizes = map[string]int{
	"high":     1024,
	"medium":   720,
	"low":      256,
	"very_low": 128,
}

type Theme struct {
	Description string `json:"description"`
}

var Themes = map[string]Theme{
	"default":    {Description: "Clean default theme with seaborn colors"},
	"dark":       {Description: "Dark background with vibrant colors"},
	"light":      {Description: "Light background with soft colors"},
	"colorblind": {Description: "Accessible palette for color vision deficiency"},
	"pastel":     {Description: "Soft pastel colors"},
	"bold":       {Description: "High contrast saturated colors"},
	"monochrome": {Description: "Grayscale shades for print-friendly charts"},
}

// Dimensions converts a format and quality into pixel width and height.
// Unknown values fall back to square and high.
func Dimensions(format, quality string) (int, int) {
	ratio, ok := FormatRatios[format]
	if !ok {
		ratio = FormatRatios[DefaultFormat]
	}
	size, ok := QualitySizes[quality]
	if !ok {
		size = QualitySizes[DefaultQuality]
	}
	if ratio[0] >= ratio[1] {
		return size, size * ratio[1] / ratio[0]
	}
	return size * ratio[0] / ratio[1], size
}

// MissingFields returns the required fields of chartType absent from data.
func MissingFields(chartType string, data map[string]any) []string {
	spec, ok := Specs[chartType]
	if !ok {
		return nil
	}
	var missing []string
	for _, field := range spec.Required {
		if _, present := data[field]; !present {
			missing = append(missing, field)
		}
	}
	return missing
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
