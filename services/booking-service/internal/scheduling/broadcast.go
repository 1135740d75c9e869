package scheduling

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// InvalidationChannel carries provider ids whose schedule changed, so every replica drops its
// cached rows.
const InvalidationChannel = "booking:schedules:invalidate"

type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type broadcastProvider struct {
	Provider
	pub    Publisher
	logger *slog.Logger
}

// Broadcast invalidates locally and then announces the provider on InvalidationChannel.
func Broadcast(local Provider, pub Publisher, logger *slog.Logger) Provider {
	return &broadcastProvider{Provider: local, pub: pub, logger: logger}
}

func (b *broadcastProvider) Invalidate(providerID string) {
	b.Provider.Invalidate(providerID)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.pub.Publish(ctx, InvalidationChannel, providerID).Err(); err != nil {
		b.logger.Warn("schedule invalidation publish failed", "err", err, "provider_id", providerID)
	}
}

// Listen applies invalidations from other replicas to local until ctx is done or msgs closes.
// Pass the local provider, not the broadcasting one.
func Listen(ctx context.Context, local Provider, msgs <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if msg.Payload != "" {
				local.Invalidate(msg.Payload)
			}
		}
	}
}
