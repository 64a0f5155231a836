package bus

import (
	"fmt"

	"github.com/perimetra/kestrel/internal/domain"
)

// New creates an event bus from configuration: channels for the
// standalone tier, NATS for the clustered tier.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}
