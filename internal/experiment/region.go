package experiment

import (
	"fmt"
	"math"
)

// Region is an axis-aligned rectangle in screen coordinates.
type Region struct {
	XMin float64 `json:"x_min" bson:"x_min"`
	XMax float64 `json:"x_max" bson:"x_max"`
	YMin float64 `json:"y_min" bson:"y_min"`
	YMax float64 `json:"y_max" bson:"y_max"`
}

// Validate reports whether the bounds are finite and ordered.
func (r Region) Validate() error {
	for _, v := range []float64{r.XMin, r.XMax, r.YMin, r.YMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("region bounds must be finite")
		}
	}
	if r.XMin > r.XMax {
		return fmt.Errorf("x_min %.2f greater than x_max %.2f", r.XMin, r.XMax)
	}
	if r.YMin > r.YMax {
		return fmt.Errorf("y_min %.2f greater than y_max %.2f", r.YMin, r.YMax)
	}
	return nil
}

// Contains reports whether the point lies inside the closed rectangle.
func (r Region) Contains(x, y float64) bool {
	return x >= r.XMin && x <= r.XMax && y >= r.YMin && y <= r.YMax
}

// Overlaps reports whether the two closed rectangles share any point.
func (r Region) Overlaps(o Region) bool {
	return r.XMin <= o.XMax && o.XMin <= r.XMax && r.YMin <= o.YMax && o.YMin <= r.YMax
}

// RegionPair is the target configuration of one divided-attention pair.
type RegionPair struct {
	Primary   Region `json:"primary" bson:"primary"`
	Secondary Region `json:"secondary" bson:"secondary"`
}

func (p RegionPair) Validate() error {
	if err := p.Primary.Validate(); err != nil {
		return fmt.Errorf("primary: %w", err)
	}
	if err := p.Secondary.Validate(); err != nil {
		return fmt.Errorf("secondary: %w", err)
	}
	if p.Primary.Overlaps(p.Secondary) {
		return fmt.Errorf("primary and secondary regions overlap")
	}
	return nil
}
