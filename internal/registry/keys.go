package registry

import (
	"github.com/nfrund/duochat/internal/delivery"
	"github.com/nfrund/duochat/internal/domain"
	"github.com/nfrund/duochat/internal/presence"
	"github.com/nfrund/duochat/internal/pubsub"
)

// Keys for the core services every module can rely on. Modules declare
// their own keys next to the service they export.
var (
	StoreKey      Key[domain.Store]       = "core.store"
	PublisherKey  Key[pubsub.Publisher]   = "core.publisher"
	SubscriberKey Key[pubsub.Subscriber]  = "core.subscriber"
	PresenceKey   Key[*presence.Registry] = "core.presence"
	RouterKey     Key[*delivery.Router]   = "core.router"
)
