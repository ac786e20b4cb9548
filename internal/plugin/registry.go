package plugin

import "sync"

// Registry maps plugin names to implementations. It is owned by the
// composition root and injected wherever plugins are resolved; there is no
// global registry.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]GatewayPlugin
	controls map[string]ControlPlugin
}

func NewRegistry() *Registry {
	return &Registry{
		gateways: make(map[string]GatewayPlugin),
		controls: make(map[string]ControlPlugin),
	}
}

func (r *Registry) RegisterGateway(name string, p GatewayPlugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[name] = p
}

func (r *Registry) Gateway(name string) (GatewayPlugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.gateways[name]
	return p, ok
}

func (r *Registry) RegisterControl(name string, p ControlPlugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.controls[name] = p
}

func (r *Registry) Control(name string) (ControlPlugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.controls[name]
	return p, ok
}
