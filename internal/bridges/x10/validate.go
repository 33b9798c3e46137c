package x10

import (
	"github.com/nerrad567/x10-bridge/internal/infrastructure/mqtt"
)

// ValidateCommand checks an inbound command message.
//
// The housecode is taken from the last level of topic, so both
// "x10/cmd/A1" and "x10/cmd/a1" address the same device. The payload is
// trimmed and upper-cased before matching ON or OFF.
//
// Returns:
//   - HouseCode, Command: normalised values when valid
//   - error: wraps ErrInvalidCommand or ErrInvalidHouseCode
//
// ValidateCommand has no side effects; the caller decides whether to log
// and drop.
func ValidateCommand(topic string, payload []byte) (HouseCode, Command, error) {
	cmd, err := ParseCommand(string(payload))
	if err != nil {
		return "", "", err
	}

	hc, err := ParseHouseCode(mqtt.LastLevel(topic))
	if err != nil {
		return "", "", err
	}

	return hc, cmd, nil
}
