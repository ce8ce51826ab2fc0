package registrar

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDependencyRunsOnceWhenAllPredicatesPass(t *testing.T) {
	ready := false
	var runs []string
	d := &Dependency{
		Name:      "test",
		DependsOn: []func() bool{func() bool { return true }, func() bool { return ready }},
		Executes: []func(){
			func() { runs = append(runs, "log") },
			func() { runs = append(runs, "subscribe") },
		},
	}

	assert.False(t, d.Detect())
	assert.False(t, d.Executed())
	assert.Empty(t, runs)

	ready = true
	assert.True(t, d.Detect())
	assert.False(t, d.Detect())
	assert.True(t, d.Executed())
	assert.Equal(t, []string{"log", "subscribe"}, runs)
}

func TestDependencyShortCircuitsPredicates(t *testing.T) {
	second := 0
	d := &Dependency{
		DependsOn: []func() bool{
			func() bool { return false },
			func() bool { second++; return true },
		},
	}
	assert.False(t, d.Detect())
	assert.Zero(t, second)
}
