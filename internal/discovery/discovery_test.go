package discovery

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingWatcher struct {
	appeared, departed, updated []string
}

func (r *recordingWatcher) OnAppeared(svcType, name string) { r.appeared = append(r.appeared, name) }
func (r *recordingWatcher) OnDeparted(svcType, name string) { r.departed = append(r.departed, name) }
func (r *recordingWatcher) OnUpdated(svcType, name string)  { r.updated = append(r.updated, name) }

func TestFakeAppearDepartUpdate(t *testing.T) {
	f := NewFake()
	w := &recordingWatcher{}
	f.Watch(w)

	f.Appear(Info{Name: "node-1", Address: "10.0.0.1:8080", Region: "us-east"})
	require.Equal(t, []string{"node-1"}, w.appeared)

	info, ok := f.Resolve(ServiceType, "node-1")
	require.True(t, ok)
	require.Equal(t, "us-east", info.Region)

	f.Update("node-1")
	require.Equal(t, []string{"node-1"}, w.updated)

	f.Depart("node-1")
	require.Equal(t, []string{"node-1"}, w.departed)

	_, ok = f.Resolve(ServiceType, "node-1")
	require.False(t, ok)
}

func TestFakeWithoutWatcherDoesNotPanic(t *testing.T) {
	f := NewFake()
	require.NotPanics(t, func() {
		f.Appear(Info{Name: "node-1"})
		f.Update("node-1")
		f.Depart("node-1")
	})
}
