package templating

// Config holds the safety limits for a Manager. The limits guard the
// management surface (what callers may register), not rendering itself:
// bounding the size of loop collections remains the caller's concern.
type Config struct {
	// MaxTemplateSize caps the source size in bytes accepted by Put and
	// RenderString. Zero means no limit.
	MaxTemplateSize int `json:"max_template_size"`

	// MaxTemplates caps how many named templates a Manager will hold.
	// Zero means no limit.
	MaxTemplates int `json:"max_templates"`
}

// DefaultConfig returns a Config with safe default values.
func DefaultConfig() *Config {
	return &Config{
		MaxTemplateSize: 1 << 20, // 1MB
		MaxTemplates:    10_000,
	}
}
