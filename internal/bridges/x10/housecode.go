package x10

import (
	"fmt"
	"regexp"
	"strings"
)

// houseCodePattern is the accepted housecode grammar after upper-casing.
var houseCodePattern = regexp.MustCompile(`^[A-P][0-9]+$`)

// HouseCode identifies one X10 device: a house letter A-P followed by a
// unit number. It is always held in upper case ("A1", "P16").
type HouseCode string

// ParseHouseCode upper-cases s and validates it against the housecode grammar.
//
// Example:
//
//	hc, err := ParseHouseCode("b12") // HouseCode("B12")
func ParseHouseCode(s string) (HouseCode, error) {
	up := strings.ToUpper(s)
	if !houseCodePattern.MatchString(up) {
		return "", fmt.Errorf("%w: %q", ErrInvalidHouseCode, s)
	}
	return HouseCode(up), nil
}

// String returns the upper-case form.
func (h HouseCode) String() string {
	return string(h)
}

// Letter returns the house letter ("A").
func (h HouseCode) Letter() string {
	if h == "" {
		return ""
	}
	return string(h[:1])
}

// Unit returns the unit number as written ("12").
func (h HouseCode) Unit() string {
	if h == "" {
		return ""
	}
	return string(h[1:])
}

// Lower returns the lower-case form used in topics and heyu arguments ("a1").
func (h HouseCode) Lower() string {
	return strings.ToLower(string(h))
}

// Command is a switch command. Only ON and OFF exist; dimming is not supported.
type Command string

// Supported commands, in their canonical payload form.
const (
	CommandOn  Command = "ON"
	CommandOff Command = "OFF"
)

// ParseCommand trims surrounding whitespace, upper-cases s and checks it is
// ON or OFF.
func ParseCommand(s string) (Command, error) {
	switch c := Command(strings.ToUpper(strings.TrimSpace(s))); c {
	case CommandOn, CommandOff:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCommand, s)
	}
}

// Payload returns the MQTT payload for the command.
func (c Command) Payload() []byte {
	return []byte(c)
}

// IsOn reports whether the command switches the device on.
func (c Command) IsOn() bool {
	return c == CommandOn
}
