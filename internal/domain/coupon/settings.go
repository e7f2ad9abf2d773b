package coupon

// Settings holds the per-coupon switches operators can change at runtime.
type Settings struct {
	CountByQuantity   bool
	IndividualUseOnly bool
}

// Normalize enforces the coupling between the two switches: a coupon that
// counts usage by quantity is always individual use only.
func (s Settings) Normalize() Settings {
	if s.CountByQuantity {
		s.IndividualUseOnly = true
	}
	return s
}

// Apply copies normalized settings onto c.
func (c *Coupon) Apply(s Settings) {
	s = s.Normalize()
	c.CountByQuantity = s.CountByQuantity
	c.IndividualUseOnly = s.IndividualUseOnly
}
