package portaltest

import (
	"sync"

	ferrors "git.home.luguber.info/inful/holocommander/internal/foundation/errors"
	"git.home.luguber.info/inful/holocommander/internal/portal"
)

// Registry hands out a Fake per normalized address.
type Registry struct {
	mu    sync.Mutex
	fakes map[string]*Fake
}

func NewRegistry() *Registry {
	return &Registry{fakes: make(map[string]*Fake)}
}

// Add registers f for address, which must match the normalized form the
// factory is called with (for example "https://10.0.0.1").
func (r *Registry) Add(address string, f *Fake) *Fake {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fakes[address] = f
	return f
}

// Factory builds clients from the registered fakes. Unknown addresses fail
// with a connection error.
func (r *Registry) Factory() portal.Factory {
	return func(address, username, password string) (portal.Client, error) {
		r.mu.Lock()
		f, ok := r.fakes[address]
		r.mu.Unlock()
		if !ok {
			return nil, ferrors.ConnectionError("no device at address").
				WithContext("address", address).
				Build()
		}
		return f.Factory()(address, username, password)
	}
}
