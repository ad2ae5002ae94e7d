package discovery

import "sync"

// Fake is an in-memory discovery transport used by tests. It implements
// Resolver itself and drives a registered Watcher directly, standing in
// for a real mDNS browser so tests can synthesize appear/depart/update
// events deterministically.
type Fake struct {
	mu       sync.Mutex
	services map[string]Info
	watcher  Watcher
}

// NewFake creates an empty fake discovery transport.
func NewFake() *Fake {
	return &Fake{services: make(map[string]Info)}
}

// Watch registers the Watcher that subsequent Appear/Depart/Update calls
// notify. Only one watcher is supported per Fake, matching one node's
// single discovery subscription.
func (f *Fake) Watch(w Watcher) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watcher = w
}

// Resolve implements Resolver.
func (f *Fake) Resolve(svcType, name string) (Info, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.services[name]
	return info, ok
}

// Appear registers a new service instance and notifies the watcher.
func (f *Fake) Appear(info Info) {
	f.mu.Lock()
	f.services[info.Name] = info
	w := f.watcher
	f.mu.Unlock()
	if w != nil {
		w.OnAppeared(ServiceType, info.Name)
	}
}

// Depart removes a service instance and notifies the watcher.
func (f *Fake) Depart(name string) {
	f.mu.Lock()
	delete(f.services, name)
	w := f.watcher
	f.mu.Unlock()
	if w != nil {
		w.OnDeparted(ServiceType, name)
	}
}

// Update notifies the watcher of an advisory change without altering the
// resolvable record (callers wanting attribute changes reflected should
// also re-Appear).
func (f *Fake) Update(name string) {
	f.mu.Lock()
	w := f.watcher
	f.mu.Unlock()
	if w != nil {
		w.OnUpdated(ServiceType, name)
	}
}
