package services

import (
	"github.com/syncstack/airsync/config"
	"github.com/syncstack/airsync/interfaces"
	"github.com/syncstack/airsync/internal/logger"
	"github.com/syncstack/airsync/internal/repository"
	"github.com/syncstack/airsync/push"
	"github.com/syncstack/airsync/scheduler"
	"github.com/syncstack/airsync/services/events"
	"github.com/syncstack/airsync/services/network"
	syncengine "github.com/syncstack/airsync/sync"
	"github.com/syncstack/airsync/transport"
)

type Services struct {
	ClientCache interfaces.ClientCache
	Engine      *syncengine.Engine
	Publisher   interfaces.EventPublisher
	Network     *network.Monitor
	Push        *push.Coordinator
	Scheduler   *scheduler.Coordinator
}

func InitServices(cfg *config.Config, log logger.Logger, repos *repository.Repositories) (*Services, error) {
	var publisher interfaces.EventPublisher
	if cfg.AppConfig.RabbitMQURL != "" {
		publisherConfig := &events.PublisherConfig{
			MessageTTL:          events.DefaultMessageTTL,
			MaxRetries:          events.DefaultMaxRetries,
			PublishTimeout:      events.DefaultPublishTimeout,
			ReconnectBackoff:    events.DefaultReconnectBackoff,
			MaxReconnectBackoff: events.DefaultMaxReconnectBackoff,
		}
		p, err := events.NewRabbitMQPublisher(cfg.AppConfig.RabbitMQURL, log, publisherConfig)
		if err != nil {
			return nil, err
		}
		publisher = p
	}

	clientCache := transport.NewClientCache(repos.AccountRepository, log)
	engine := syncengine.NewEngine(repos.Store, clientCache, log)
	monitor := network.NewMonitor(log)

	pushCoordinator := push.NewCoordinator(
		repos.AccountRepository,
		repos.Store,
		engine,
		clientCache,
		publisher,
		monitor,
		log,
	)
	schedulerCoordinator := scheduler.NewCoordinator(
		*cfg.Scheduler,
		repos.AccountRepository,
		engine,
		publisher,
		pushCoordinator,
		log,
	)
	// When push gives up on an account the scheduler must pick it up without
	// waiting for its next pass, which may never come if the timer is off.
	pushCoordinator.SetFallbackHandler(schedulerCoordinator.Reschedule)

	services := Services{
		ClientCache: clientCache,
		Engine:      engine,
		Publisher:   publisher,
		Network:     monitor,
		Push:        pushCoordinator,
		Scheduler:   schedulerCoordinator,
	}

	return &services, nil
}
