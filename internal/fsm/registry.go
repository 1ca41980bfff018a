package fsm

// Constructor builds a fresh State instance for one invocation.
type Constructor func() State

// Registry maps state names to constructors and command tokens to the
// states that handle them. It is populated once at wiring time and read
// only afterwards.
type Registry struct {
	states   map[string]Constructor
	commands map[string]string
}

func NewRegistry(states map[string]Constructor, commands map[string]string) *Registry {
	r := &Registry{
		states:   make(map[string]Constructor, len(states)),
		commands: make(map[string]string, len(commands)),
	}
	for name, ctor := range states {
		r.states[name] = ctor
	}
	for cmd, name := range commands {
		r.commands[cmd] = name
	}
	return r
}

// Resolve returns a fresh instance of the named state.
func (r *Registry) Resolve(name string) (State, bool) {
	ctor, ok := r.states[name]
	if !ok {
		return nil, false
	}
	return ctor(), true
}

// Command returns the state handling a slash-command token, if any.
func (r *Registry) Command(token string) (string, bool) {
	name, ok := r.commands[token]
	return name, ok
}
