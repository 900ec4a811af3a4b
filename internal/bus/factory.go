package bus

import (
	"fmt"
	"strings"

	"github.com/claudecontext/claude-context/internal/config"
	"github.com/claudecontext/claude-context/internal/pkg/errors"
)

// NewBus creates a Bus instance based on the configuration.
func NewBus(cfg config.BusConfig) (Bus, error) {
	switch strings.ToLower(cfg.Type) {
	case "memory", "":
		return NewMemoryBus(), nil

	case "kafka":
		brokers := ParseKafkaBrokers(cfg.KafkaBrokers)
		if len(brokers) == 0 {
			return nil, errors.New(errors.CodeValidation, "kafka brokers not configured")
		}
		return NewKafkaBus(KafkaConfig{Brokers: brokers})

	default:
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("unknown bus type: %s", cfg.Type))
	}
}

// ParseKafkaBrokers splits a comma-separated broker list.
func ParseKafkaBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
