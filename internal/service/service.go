package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"retailpos/backend/internal/cache"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/events"
	"retailpos/backend/internal/metrics"
	"retailpos/backend/internal/settings"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

// ErrForbidden is returned when the actor's role does not allow an operation.
var ErrForbidden = errors.New("forbidden")

type actorContextKey struct{}

type approvalContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// WithManagerApproval marks ctx as carrying a verified manager PIN.
func WithManagerApproval(ctx context.Context) context.Context {
	return context.WithValue(ctx, approvalContextKey{}, true)
}

func managerApproved(ctx context.Context) bool {
	approved, _ := ctx.Value(approvalContextKey{}).(bool)
	return approved
}

type Deps struct {
	Cache    cache.Cache
	Events   events.Publisher
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Defaults *domain.Settings
	CacheTTL time.Duration
}

type Service struct {
	repo     store.Repository
	cache    cache.Cache
	events   events.Publisher
	metrics  *metrics.Metrics
	logger   *zap.Logger
	defaults domain.Settings
	cacheTTL time.Duration

	// generation is bumped on every write that changes report figures and
	// is part of every cache key.
	generation atomic.Int64
}

func New(repo store.Repository, deps Deps) *Service {
	s := &Service{
		repo:     repo,
		cache:    deps.Cache,
		events:   deps.Events,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		defaults: settings.Defaults(),
		cacheTTL: deps.CacheTTL,
	}
	if deps.Defaults != nil {
		s.defaults = *deps.Defaults
	}
	if s.cache == nil {
		s.cache = cache.Noop{}
	}
	if s.events == nil {
		s.events = events.Noop{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = 30 * time.Second
	}
	s.generation.Store(time.Now().UnixNano())
	return s
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{store.ErrInvalidTransaction}, args...)...)
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Actor{}, fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return actor, nil
}

// requireApproval lets admins through and cashiers only with a manager PIN.
func requireApproval(ctx context.Context, action string) (domain.Actor, error) {
	actor, _ := ActorFromContext(ctx)
	if actor.Role == domain.RoleAdmin || managerApproved(ctx) {
		return actor, nil
	}
	return domain.Actor{}, fmt.Errorf("%w: manager pin required to %s", ErrForbidden, action)
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		return actor.Username
	}
	return "system"
}

func (s *Service) currentSettings(ctx context.Context) (domain.Settings, error) {
	values, err := s.repo.GetSettings(ctx)
	if err != nil {
		return domain.Settings{}, err
	}
	return settings.FromMap(values, s.defaults), nil
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	err := s.events.Publish(ctx, event)
	if err == nil {
		return
	}
	if errors.Is(err, events.ErrQueueFull) {
		s.metrics.RecordDroppedEvent()
	}
	s.logger.Warn("failed to publish event",
		zap.String("event_type", event.Type),
		zap.String("aggregate_id", event.AggregateID),
		zap.Error(err),
	)
}

// afterStockMoved records movement metrics and raises stock.low for products
// whose stock dropped to or below their reorder level.
func (s *Service) afterStockMoved(ctx context.Context, movementType string, productIDs []string, decreased bool) {
	seen := make(map[string]bool, len(productIDs))
	for _, id := range productIDs {
		s.metrics.RecordMovement(movementType)
		if !decreased || seen[id] {
			continue
		}
		seen[id] = true
		product, err := s.repo.GetProduct(ctx, id)
		if err != nil {
			s.logger.Warn("low stock check failed", zap.String("product_id", id), zap.Error(err))
			continue
		}
		if product.Active && product.LowStock() {
			s.publish(ctx, events.New(events.TypeStockLow, product.ID, map[string]any{
				"sku":            product.SKU,
				"stock_quantity": product.StockQuantity,
				"reorder_level":  product.ReorderLevel,
			}))
		}
	}
	s.invalidate()
}

func (s *Service) invalidate() {
	s.generation.Add(1)
}

func (s *Service) cacheKey(name string, parts ...any) string {
	key := fmt.Sprintf("v%d:%s", s.generation.Load(), name)
	for _, part := range parts {
		key += ":" + fmt.Sprint(part)
	}
	return key
}

// cached returns the value stored under key or computes and stores it.
// Cache failures are logged and never fail the call.
func cached[T any](ctx context.Context, s *Service, key string, load func(context.Context) (T, error)) (T, error) {
	var value T
	hit, err := s.cache.Get(ctx, key, &value)
	if err != nil {
		s.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}
	if hit {
		return value, nil
	}

	value, err = load(ctx)
	if err != nil {
		return value, err
	}
	if err := s.cache.Set(ctx, key, value, s.cacheTTL); err != nil {
		s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
	return value, nil
}
