package redis

import (
	"context"
	"encoding/json"
	"time"

	"go-baton/internal/domain"

	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"
)

const terminalChannel = "baton:events:terminal"

// Relay publishes terminal ExecutionEvents to redis pub/sub so external
// consumers (dashboards, audit pipelines) can observe run outcomes without
// holding a websocket. Progress events stay in-process.
type Relay struct {
	client  *redis.Client
	channel string
	logger  hclog.Logger
}

func NewRelay(client *redis.Client, logger hclog.Logger) *Relay {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Relay{
		client:  client,
		channel: terminalChannel,
		logger:  logger,
	}
}

// Publish implements ports.EventSink. Delivery to redis is best-effort: a
// publish failure never stalls the run's event stream.
func (r *Relay) Publish(event domain.ExecutionEvent) {
	if !event.Type.Terminal() {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		r.logger.Error("failed to marshal event", "run", event.RunID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("relay publish failed", "run", event.RunID, "error", err)
	}
}
