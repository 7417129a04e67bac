package metrics

import (
	"strings"
	"testing"
)

func TestRegistryCountsAndDumps(t *testing.T) {
	registry := &Registry{}
	registry.IncSessionSpawned()
	registry.IncSessionSpawned()
	registry.IncSessionCrashed()
	registry.IncConflictReported()
	registry.AddBusDropped(3)

	var out strings.Builder
	registry.Dump(&out)

	text := out.String()
	for _, want := range []string{
		"sessions_spawned 2",
		"sessions_crashed 1",
		"conflicts_reported 1",
		"bus_events_dropped 3",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("dump missing %q:\n%s", want, text)
		}
	}
}

func TestNilRegistryIsInert(t *testing.T) {
	var registry *Registry
	registry.IncSessionSpawned()
	registry.AddBusDropped(1)
	registry.Dump(nil)
}
