package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	brokerimpl "github.com/rmacdonaldsmith/msgrouter-go/internal/broker"
	"github.com/rmacdonaldsmith/msgrouter-go/internal/config"
	"github.com/rmacdonaldsmith/msgrouter-go/internal/httpapi"
	"github.com/rmacdonaldsmith/msgrouter-go/internal/notify"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/message"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/routingtable"
)

const shutdownTimeout = 30 * time.Second

// errRouteFailed is returned by routes declared with the fail action
var errRouteFailed = errors.New("route configured to fail")

// app owns the daemon's components
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	broker    *brokerimpl.MessageBroker
	publisher *notify.Publisher
	server    *httpapi.Server
	listener  net.Listener
	serveErr  chan error
}

// newApp builds the broker, the optional Redis publisher and the admin API,
// and registers every configured route.
func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, serveErr: make(chan error, 1)}

	brokerCfg := brokerimpl.NewConfig().
		WithMaxRoutes(cfg.Broker.MaxRoutes).
		WithHandlerTimeout(cfg.Broker.HandlerTimeout).
		WithDLQConfig(cfg.DLQ).
		WithLogger(log)

	b, err := brokerimpl.NewMessageBroker(brokerCfg)
	if err != nil {
		return nil, fmt.Errorf("creating broker: %w", err)
	}
	a.broker = b

	if cfg.Redis.Enabled {
		a.publisher, err = notify.Dial(ctx, notify.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}, log)
		if err != nil {
			a.close()
			return nil, err
		}
		if ch := cfg.Redis.DLQChannel; ch != "" {
			b.OnDLQMessage(a.publisher.DeadLetterHook(ch))
			b.OnDLQFull(a.publisher.FullHook(ch))
		}
	}

	if err := a.registerRoutes(ctx); err != nil {
		a.close()
		return nil, err
	}

	if cfg.Admin.Enabled {
		a.server, err = httpapi.NewServer(b, httpapi.Config{
			Addr:        cfg.Admin.Addr,
			SecretKey:   cfg.Admin.JWTSecret,
			AdminSecret: cfg.Admin.AdminSecret,
			TokenTTL:    cfg.Admin.TokenTTL,
			Logger:      log,
		})
		if err != nil {
			a.close()
			return nil, err
		}
	}

	return a, nil
}

// registerRoutes adds every configured route to the broker
func (a *app) registerRoutes(ctx context.Context) error {
	for _, rc := range a.cfg.Routes {
		handler, err := a.handlerFor(rc)
		if err != nil {
			return err
		}

		rb := brokerimpl.NewRoute(a.broker, rc.ID).
			Priority(rc.RoutePriority()).
			Handler(handler)
		if rc.Content != nil {
			f, err := rc.Content.Compile()
			if err != nil {
				return fmt.Errorf("route %q: %w", rc.ID, err)
			}
			rb.Filter(f)
		} else {
			rb.Pattern(rc.Pattern)
		}
		if rc.Disabled {
			rb.Disabled()
		}

		if err := rb.Register(ctx); err != nil {
			return fmt.Errorf("registering route %q: %w", rc.ID, err)
		}
		a.log.Info("Route registered",
			zap.String("route_id", rc.ID),
			zap.String("pattern", rc.Pattern),
			zap.Bool("content", rc.Content != nil),
			zap.String("action", rc.Action),
			zap.Int("priority", rc.RoutePriority()))
	}
	return nil
}

// handlerFor maps a route's action to a handler
func (a *app) handlerFor(rc config.RouteConfig) (routingtable.Handler, error) {
	switch rc.Action {
	case config.ActionLog:
		log := a.log.With(zap.String("route_id", rc.ID))
		return routingtable.HandlerFunc(func(ctx context.Context, msg *message.Message) error {
			log.Info("Message routed",
				zap.String("message_id", msg.ID),
				zap.String("topic", msg.Topic),
				zap.Stringer("type", msg.Type),
				zap.Stringer("priority", msg.Priority))
			return nil
		}), nil
	case config.ActionFail:
		return routingtable.HandlerFunc(func(context.Context, *message.Message) error {
			return errRouteFailed
		}), nil
	case config.ActionRedis:
		if a.publisher == nil {
			return nil, fmt.Errorf("route %q: redis action requires redis.enabled", rc.ID)
		}
		return a.publisher.Handler(rc.Channel), nil
	default:
		return nil, fmt.Errorf("route %q: unknown action %q", rc.ID, rc.Action)
	}
}

// start starts the broker and, when enabled, the admin API
func (a *app) start(ctx context.Context) error {
	if err := a.broker.Start(ctx); err != nil {
		return fmt.Errorf("starting broker: %w", err)
	}

	if a.server != nil {
		ln, err := net.Listen("tcp", a.cfg.Admin.Addr)
		if err != nil {
			return fmt.Errorf("admin API listen: %w", err)
		}
		a.listener = ln
		go func() {
			if err := a.server.Serve(ln); err != nil {
				a.serveErr <- err
			}
		}()
	}

	health := a.broker.Health(ctx)
	a.log.Info("msgrouter started",
		zap.Int("topic_routes", health.TopicRoutes),
		zap.Int("content_routes", health.ContentRoutes),
		zap.Int("dlq_capacity", health.DLQCapacity),
		zap.String("admin_addr", a.adminAddr()))
	return nil
}

// adminAddr returns the admin API listen address, or "" when disabled
func (a *app) adminAddr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// shutdown stops the admin API, then the broker, then closes everything
func (a *app) shutdown(ctx context.Context) error {
	var err error
	if a.server != nil && a.listener != nil {
		err = multierr.Append(err, a.server.Stop(ctx))
	}
	err = multierr.Append(err, a.broker.Stop(ctx))
	err = multierr.Append(err, a.close())

	a.log.Info("msgrouter stopped", zap.Error(err))
	return err
}

// close releases the broker and the Redis connection
func (a *app) close() error {
	var err error
	if a.broker != nil {
		err = multierr.Append(err, a.broker.Close())
	}
	if a.publisher != nil {
		err = multierr.Append(err, a.publisher.Close())
	}
	return err
}
