package main

import (
	"fmt"
	"maps"
	"slices"

	"github.com/pkg/profile"
)

var profileMode = map[string]func(*profile.Profile){
	"block":     profile.BlockProfile,
	"cpu":       profile.CPUProfile,
	"clock":     profile.ClockProfile,
	"goroutine": profile.GoroutineProfile,
	"mem":       profile.MemProfile,
	"allocs":    profile.MemProfileAllocs,
	"heap":      profile.MemProfileHeap,
	"mutex":     profile.MutexProfile,
	"trace":     profile.TraceProfile,
}

func profileModes() []string {
	return slices.Sorted(maps.Keys(profileMode))
}

type noProfile struct{}

func (noProfile) Stop() {}

// startProfile starts the named profile writing into dir. An empty mode
// profiles nothing.
func startProfile(mode, dir string) (interface{ Stop() }, error) {
	if mode == "" {
		return noProfile{}, nil
	}
	fn, ok := profileMode[mode]
	if !ok {
		return nil, fmt.Errorf("unknown profile mode %q, expected one of %v", mode, profileModes())
	}
	return profile.Start(fn, profile.ProfilePath(dir), profile.NoShutdownHook, profile.Quiet), nil
}
