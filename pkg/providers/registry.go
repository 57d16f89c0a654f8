package providers

import (
	"context"
	"sync"

	"github.com/go-go-golems/threadchat/pkg/chat"
	"github.com/pkg/errors"
)

// Registry maps provider families to adapters. It is itself an Adapter that
// dispatches on params.Model.
type Registry struct {
	mu       sync.RWMutex
	adapters map[chat.ProviderFamily]Adapter
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: map[chat.ProviderFamily]Adapter{},
	}
}

func (r *Registry) Register(family chat.ProviderFamily, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[family] = a
}

func (r *Registry) Lookup(model chat.ModelType) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	family := model.Provider()
	a, ok := r.adapters[family]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownProvider, "%s (model %s)", family, model)
	}
	return a, nil
}

func (r *Registry) SendMessages(ctx context.Context, messages []chat.Message, params ModelParams) (Stream, error) {
	a, err := r.Lookup(params.Model)
	if err != nil {
		return nil, err
	}
	return a.SendMessages(ctx, messages, params)
}

var _ Adapter = (*Registry)(nil)

// Complete dispatches a single-shot call, using the native non-streaming call
// of the target adapter when it has one.
func (r *Registry) Complete(ctx context.Context, messages []chat.Message, params ModelParams) (string, error) {
	a, err := r.Lookup(params.Model)
	if err != nil {
		return "", err
	}
	return Complete(ctx, a, messages, params)
}

var _ Completer = (*Registry)(nil)
