// Package partner enumerates the upstream DOOH ad-serving partners
package partner

import (
	"errors"
	"fmt"
)

// ErrUnknownPartner is returned by Parse for names outside the closed set
var ErrUnknownPartner = errors.New("unknown partner")

// Partner identifies one upstream partner variant
type Partner int

const (
	Vistar Partner = iota + 1
	VistarFrench
	Hivestack
)

// Parse maps the inbound path segment to a Partner
func Parse(name string) (Partner, error) {
	switch name {
	case "vistar":
		return Vistar, nil
	case "vistar_french":
		return VistarFrench, nil
	case "hivestack":
		return Hivestack, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPartner, name)
}

// String returns the path segment form
func (p Partner) String() string {
	switch p {
	case Vistar:
		return "vistar"
	case VistarFrench:
		return "vistar_french"
	case Hivestack:
		return "hivestack"
	}
	return fmt.Sprintf("partner(%d)", int(p))
}

// Tag is the value carried in win/loss notify URLs
func (p Partner) Tag() string {
	switch p {
	case Vistar:
		return "Vistar_EN"
	case VistarFrench:
		return "Vistar_FR"
	case Hivestack:
		return "Hivestack"
	}
	return ""
}

// Language returns the playlog language discriminator for Vistar variants
func (p Partner) Language() string {
	switch p {
	case Vistar:
		return "EN"
	case VistarFrench:
		return "FR"
	}
	return ""
}

// IsVistar reports whether p is one of the Vistar variants
func (p Partner) IsVistar() bool {
	return p == Vistar || p == VistarFrench
}
