package factors

// Weights are the composite score weights per factor family. They are
// applied as given and not normalized.
type Weights struct {
	Momentum      float64
	MeanReversion float64
	Carry         float64
	Volume        float64
}

// Sum returns the composite score bound.
func (w Weights) Sum() float64 {
	return abs(w.Momentum) + abs(w.MeanReversion) + abs(w.Carry) + abs(w.Volume)
}

// Thresholds drive outlier detection and the minimum history per asset.
type Thresholds struct {
	OutlierZScore float64
	TopN          int
	BottomN       int
	MinDataPoints int
}

// Config is the calculator configuration.
type Config struct {
	Weights       Weights
	Thresholds    Thresholds
	UseIQR        bool
	IQRMultiplier float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Momentum:      0.25,
			MeanReversion: 0.25,
			Carry:         0.3,
			Volume:        0.2,
		},
		Thresholds: Thresholds{
			OutlierZScore: 2.0,
			TopN:          10,
			BottomN:       10,
			MinDataPoints: 24,
		},
		UseIQR:        true,
		IQRMultiplier: 2.0,
	}
}

// Option customizes a Calculator.
type Option func(*Config)

// WithWeights overrides the composite weights.
func WithWeights(w Weights) Option {
	return func(c *Config) { c.Weights = w }
}

// WithThresholds overrides the outlier thresholds.
func WithThresholds(t Thresholds) Option {
	return func(c *Config) { c.Thresholds = t }
}

// WithIQR toggles the IQR method and sets its multiplier. A non-positive
// multiplier keeps the current one.
func WithIQR(enabled bool, multiplier float64) Option {
	return func(c *Config) {
		c.UseIQR = enabled
		if multiplier > 0 {
			c.IQRMultiplier = multiplier
		}
	}
}
