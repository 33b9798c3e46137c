package x10

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/x10-bridge/internal/infrastructure/mqtt"
)

// Discovery constants.
const (
	// unitsPerHouse is the number of units announced per house letter.
	unitsPerHouse = 16

	// discoveryComponent is the Home Assistant entity type announced.
	discoveryComponent = "switch"

	// DefaultGatewayID is the node id used when none is configured.
	DefaultGatewayID = "x10mqtt"
)

// DiscoveryDescriptor is one Home Assistant discovery advertisement.
type DiscoveryDescriptor struct {
	// Topic is where the descriptor is published; not part of the payload.
	Topic string `json:"-"`

	HouseCode    HouseCode `json:"-"`
	Name         string    `json:"name"`
	StateTopic   string    `json:"state_topic"`
	CommandTopic string    `json:"command_topic"`
	UniqueID     string    `json:"unique_id"`
}

// AnnouncerConfig holds the topic layout for discovery.
type AnnouncerConfig struct {
	DiscoveryPrefix string
	CommandPrefix   string
	StatePrefix     string
	GatewayID       string

	// Letters are the house letters to announce, already filtered to A-P.
	Letters []string
}

// Announcer publishes Home Assistant discovery descriptors.
type Announcer struct {
	cfg       AnnouncerConfig
	publisher StatePublisher
	logger    Logger
}

// NewAnnouncer creates an announcer. publisher may be nil when only
// Descriptors is needed.
func NewAnnouncer(cfg AnnouncerConfig, publisher StatePublisher, logger Logger) *Announcer {
	if cfg.GatewayID == "" {
		cfg.GatewayID = DefaultGatewayID
	}
	return &Announcer{cfg: cfg, publisher: publisher, logger: logger}
}

// Descriptors returns one descriptor per configured letter and unit 1..16,
// letters in configured order. It is a pure function of the configuration.
func (a *Announcer) Descriptors() []DiscoveryDescriptor {
	out := make([]DiscoveryDescriptor, 0, len(a.cfg.Letters)*unitsPerHouse)
	for _, letter := range a.cfg.Letters {
		letter = strings.ToUpper(letter)
		for unit := 1; unit <= unitsPerHouse; unit++ {
			out = append(out, a.descriptor(HouseCode(letter+strconv.Itoa(unit))))
		}
	}
	return out
}

func (a *Announcer) descriptor(hc HouseCode) DiscoveryDescriptor {
	objectID := "x10_" + hc.Lower()
	return DiscoveryDescriptor{
		Topic:        mqtt.JoinTopic(a.cfg.DiscoveryPrefix, discoveryComponent, a.cfg.GatewayID, objectID, "config"),
		HouseCode:    hc,
		Name:         "X10 Module " + hc.String(),
		StateTopic:   mqtt.JoinTopic(a.cfg.StatePrefix, hc.Lower()),
		CommandTopic: mqtt.JoinTopic(a.cfg.CommandPrefix, hc.Lower()),
		UniqueID:     a.cfg.GatewayID + "_" + objectID,
	}
}

// Announce publishes every descriptor retained. A failed publish does not
// stop the remaining ones.
//
// Returns:
//   - int: number of descriptors published
//   - error: joined publish errors, nil if all succeeded
func (a *Announcer) Announce() (int, error) {
	if a.publisher == nil {
		return 0, fmt.Errorf("announcer has no publisher")
	}

	var (
		published int
		errs      []error
	)
	for i, d := range a.Descriptors() {
		if i%unitsPerHouse == 0 {
			a.logInfo("announcing housecode for discovery", "letter", d.HouseCode.Letter())
		}

		payload, err := json.Marshal(d)
		if err != nil {
			errs = append(errs, fmt.Errorf("marshalling %s: %w", d.HouseCode, err))
			continue
		}
		if err := a.publisher.PublishRetained(d.Topic, payload); err != nil {
			errs = append(errs, fmt.Errorf("publishing %s: %w", d.Topic, err))
			continue
		}
		published++
	}

	return published, errors.Join(errs...)
}

func (a *Announcer) logInfo(msg string, keysAndValues ...any) {
	if a.logger != nil {
		a.logger.Info(msg, keysAndValues...)
	}
}
