package indicator

// Class is the qualitative band assigned to a raw score. The ordering
// Regular < Sufficient < Good < Great is significant: higher scores never
// map to a lower class.
type Class int

const (
	ClassRegular Class = iota
	ClassSufficient
	ClassGood
	ClassGreat
)

var classNames = [...]string{"Regular", "Suficiente", "Bom", "Ótimo"}

func (c Class) String() string {
	if c < ClassRegular || c > ClassGreat {
		return "Regular"
	}
	return classNames[c]
}

// MarshalText renders the class with its display name so stored records stay
// readable alongside the original data.
func (c Class) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Class) UnmarshalText(b []byte) error {
	*c = ClassFromString(string(b))
	return nil
}

// ClassFromString maps a stored class name back to its value. Unknown names
// fall back to Regular, matching how absent records rank.
func ClassFromString(s string) Class {
	for i, name := range classNames {
		if name == s {
			return Class(i)
		}
	}
	return ClassRegular
}

// Banding holds the classification thresholds. Boundaries are closed on the
// lower bound of each band: exactly 7.0 is Good, exactly 5.0 is Sufficient.
type Banding struct {
	Great float64 // strictly above
	Good  float64 // inclusive lower bound
	Suff  float64 // inclusive lower bound
}

// Bands is the banding in effect for all three indicator families. Earlier
// revisions of the portal carried slightly different thresholds at each call
// site; this is the final, consolidated set.
var Bands = Banding{Great: 8.5, Good: 7.0, Suff: 5.0}

// Classify maps a raw score to its band using b. Total over all reals;
// negative and NaN-free inputs below the lowest band are Regular.
func (b Banding) Classify(score float64) Class {
	switch {
	case score > b.Great:
		return ClassGreat
	case score >= b.Good:
		return ClassGood
	case score >= b.Suff:
		return ClassSufficient
	default:
		return ClassRegular
	}
}

// Classify applies the portal-wide banding.
func Classify(score float64) Class { return Bands.Classify(score) }
