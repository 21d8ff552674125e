package fulfillment

import "context"

var _ OptionSource = (*StaticSource)(nil)

// StaticSource offers a fixed option table regardless of destination. It
// backs the sample merchant; real deployments plug in a carrier-rate source.
type StaticSource struct {
	options []Option
}

// NewStaticSource creates a StaticSource with the given options.
func NewStaticSource(options []Option) *StaticSource {
	return &StaticSource{options: options}
}

// DefaultOptions is the sample merchant's flat-rate shipping table.
func DefaultOptions() []Option {
	return []Option{
		{
			ID:       "shipping_standard",
			Type:     "shipping",
			Title:    "Standard Shipping",
			SubTitle: "Arrives in 4-5 days",
			Cost:     599,
		},
		{
			ID:       "shipping_express",
			Type:     "shipping",
			Title:    "Express Shipping",
			SubTitle: "Arrives in 1-2 days",
			Cost:     1499,
		},
	}
}

// Options returns the static table.
func (s *StaticSource) Options(_ context.Context, _ Address) ([]Option, error) {
	out := make([]Option, len(s.options))
	copy(out, s.options)
	return out, nil
}
