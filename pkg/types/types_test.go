package types

import "testing"

func TestDistributionUpdateHasChanges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		u    DistributionUpdate
		want bool
	}{
		{"empty", DistributionUpdate{}, false},
		{"add only", DistributionUpdate{WorkersToAdd: map[int][]string{0: {"a"}}}, true},
		{"remove only", DistributionUpdate{WorkersToRemove: map[int][]string{0: {"a"}}}, true},
		{"shutdown only", DistributionUpdate{WorkersToShutdown: []int{1}}, true},
	}

	for _, tt := range tests {
		if got := tt.u.HasChanges(); got != tt.want {
			t.Errorf("%s: HasChanges() = %v, want %v", tt.name, got, tt.want)
		}
	}
}
