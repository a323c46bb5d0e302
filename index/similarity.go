package index

import (
	"fmt"
	"math"
	"strings"
)

// Metric selects the similarity function used by Search.
type Metric int

const (
	// Cosine compares vector directions. It is the default.
	Cosine Metric = iota
	// InnerProduct is the raw dot product.
	InnerProduct
)

func (m Metric) String() string {
	switch m {
	case Cosine:
		return "cosine"
	case InnerProduct:
		return "inner_product"
	default:
		return "unknown"
	}
}

// ParseMetric converts a configuration value to a Metric.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cosine":
		return Cosine, nil
	case "inner_product", "ip", "dot":
		return InnerProduct, nil
	default:
		return Cosine, fmt.Errorf("unknown similarity metric %q", s)
	}
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func norm(v []float32) float32 {
	return float32(math.Sqrt(float64(dot(v, v))))
}
