package domain

// Side identifies one of the two outcome tokens of a binary market.
type Side string

const (
	SideUp   Side = "up"
	SideDown Side = "down"
)

// Opposite returns the other side of the market.
func (s Side) Opposite() Side {
	if s == SideUp {
		return SideDown
	}
	return SideUp
}

// Valid reports whether s is one of the two known sides.
func (s Side) Valid() bool {
	return s == SideUp || s == SideDown
}
