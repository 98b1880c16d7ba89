package bridge

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/universe-player/bridge/x/command"
)

// HandlerFunc handles one companion update. Handlers run on the reader
// goroutine and must not block.
type HandlerFunc func(ctx context.Context, update command.Update) error

// UpdateRouter routes companion updates to handlers by update type
type UpdateRouter interface {
	// Register registers a handler for an update type, replacing any previous one
	Register(updateType string, handler HandlerFunc)

	// Unregister removes the handler for an update type
	Unregister(updateType string)

	// Route dispatches an update to its handler
	Route(ctx context.Context, update command.Update) error

	// GetHandlers returns the registered update types
	GetHandlers() []string
}

// updateRouter implements UpdateRouter with thread-safe handler registration
type updateRouter struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewUpdateRouter creates a new update router
func NewUpdateRouter() UpdateRouter {
	return &updateRouter{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register registers a handler for an update type
func (r *updateRouter) Register(updateType string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[updateType] = handler
}

// Unregister removes the handler for an update type
func (r *updateRouter) Unregister(updateType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, updateType)
}

// Route dispatches an update to its handler
func (r *updateRouter) Route(ctx context.Context, update command.Update) error {
	if update.Type == "" {
		return fmt.Errorf("update type is empty")
	}

	r.mu.RLock()
	handler, exists := r.handlers[update.Type]
	r.mu.RUnlock()

	if !exists {
		return fmt.Errorf("no handler registered for update type: %s", update.Type)
	}

	return handler(ctx, update)
}

// GetHandlers returns the registered update types, sorted
func (r *updateRouter) GetHandlers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		result = append(result, t)
	}
	sort.Strings(result)
	return result
}
