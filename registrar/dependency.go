// Package registrar installs instrumentation exactly once, when its
// prerequisites hold.
//
// A Dependency is declared as a list of predicates and a list of actions.
// Detect runs the actions, in order, the first time every predicate passes;
// later calls do nothing. Registrar expresses database query instrumentation
// as one such dependency.
package registrar

import "sync"

// Dependency is a named, run-once installation step.
type Dependency struct {
	Name      string
	DependsOn []func() bool
	Executes  []func()

	mu       sync.Mutex
	executed bool
}

// Detect runs Executes if every DependsOn predicate passes and the
// dependency has not run yet. It reports whether it ran.
func (d *Dependency) Detect() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.executed {
		return false
	}
	for _, ok := range d.DependsOn {
		if !ok() {
			return false
		}
	}
	for _, run := range d.Executes {
		run()
	}
	d.executed = true
	return true
}

// Executed reports whether the dependency has run.
func (d *Dependency) Executed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.executed
}
