package complexity

// DefaultCollectionChildrenCount is the number of elements assumed for list
// fields without an explicit cost function.
const DefaultCollectionChildrenCount = 10

// Config holds the limits of one analysis.
type Config struct {
	DefaultCollectionChildrenCount int
	// MaxComplexity and MaxDepth are unlimited when nil.
	MaxComplexity *float64
	MaxDepth      *int
	// OperationName restricts the analysis to one operation of the document.
	// When empty all operations are summed.
	OperationName string
	// SkipIncludeDirectives drops selections excluded by @skip or @include.
	SkipIncludeDirectives bool
}

type Option func(*Config)

func WithDefaultCollectionChildrenCount(n int) Option {
	return func(c *Config) { c.DefaultCollectionChildrenCount = n }
}

func WithMaxComplexity(limit float64) Option {
	return func(c *Config) { c.MaxComplexity = &limit }
}

func WithMaxDepth(limit int) Option {
	return func(c *Config) { c.MaxDepth = &limit }
}

func WithOperationName(name string) Option {
	return func(c *Config) { c.OperationName = name }
}

func WithSkipIncludeDirectives(enabled bool) Option {
	return func(c *Config) { c.SkipIncludeDirectives = enabled }
}

// NewConfig returns a Config with the default collection count and no limits.
func NewConfig(opts ...Option) Config {
	c := Config{DefaultCollectionChildrenCount: DefaultCollectionChildrenCount}
	for _, opt := range opts {
		opt(&c)
	}
	return c.normalize()
}

func (c Config) normalize() Config {
	if c.DefaultCollectionChildrenCount <= 0 {
		c.DefaultCollectionChildrenCount = DefaultCollectionChildrenCount
	}
	return c
}
