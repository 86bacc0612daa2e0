package model

// ModelInfo describes an available generation model for the catalog endpoint.
type ModelInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Type          string `json:"type"`
	MaxResolution string `json:"max_resolution"`
}

// StyleInfo describes an available image style for the catalog endpoint.
type StyleInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Models lists the generation models the service knows how to load.
var Models = []ModelInfo{
	{
		ID:            "stable-diffusion-xl-base-1.0",
		Name:          "Stable Diffusion XL Base 1.0",
		Description:   "High-quality image generation with excellent prompt following",
		Type:          "text-to-image",
		MaxResolution: "1024x1024",
	},
}

// Styles lists the supported image styles.
var Styles = []StyleInfo{
	{ID: "realistic", Name: "Realistic", Description: "Photorealistic images"},
	{ID: "artistic", Name: "Artistic", Description: "Artistic and painterly style"},
	{ID: "anime", Name: "Anime", Description: "Anime and manga style"},
	{ID: "cartoon", Name: "Cartoon", Description: "Cartoon and stylized"},
	{ID: "abstract", Name: "Abstract", Description: "Abstract and geometric"},
	{ID: "photographic", Name: "Photographic", Description: "Professional photography"},
	{ID: "digital_art", Name: "Digital Art", Description: "Digital illustration"},
	{ID: "concept_art", Name: "Concept Art", Description: "Concept art and matte painting"},
}

// stylePrompts maps each style to the prompt suffix appended before synthesis.
var stylePrompts = map[string]string{
	"realistic":    "photorealistic, highly detailed, 8k resolution",
	"artistic":     "artistic, painterly, creative composition",
	"anime":        "anime style, manga, cel shading",
	"cartoon":      "cartoon style, vibrant colors, stylized",
	"abstract":     "abstract art, geometric, non-representational",
	"photographic": "professional photography, studio lighting",
	"digital_art":  "digital art, concept art, detailed illustration",
	"concept_art":  "concept art, matte painting, cinematic",
}

// sizes enumerates the accepted output resolutions.
var sizes = map[string]bool{
	"512x512":   true,
	"768x768":   true,
	"1024x1024": true,
	"512x768":   true,
	"768x1024":  true,
	"768x512":   true,
	"1024x768":  true,
}

// ValidStyle reports whether the style is in the catalog.
func ValidStyle(style string) bool {
	_, ok := stylePrompts[style]
	return ok
}

// ValidSize reports whether the size is an accepted resolution.
func ValidSize(size string) bool {
	return sizes[size]
}
