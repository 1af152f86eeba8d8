package complexity

// fragmentRegistry evaluates each fragment definition of a document at most
// once per analysis. Spreads re-add the stored result.
type fragmentRegistry struct {
	thunks     map[string]func() (Result, error)
	results    map[string]Result
	inProgress map[string]bool
}

func newFragmentRegistry() *fragmentRegistry {
	return &fragmentRegistry{
		thunks:     make(map[string]func() (Result, error)),
		results:    make(map[string]Result),
		inProgress: make(map[string]bool),
	}
}

// Register stores the closure computing the cost of fragment name.
func (r *fragmentRegistry) Register(name string, thunk func() (Result, error)) {
	r.thunks[name] = thunk
}

// Resolve returns the cost of fragment name, computing it on first use.
// path locates the spread for error reporting.
func (r *fragmentRegistry) Resolve(name string, path []string) (Result, error) {
	if res, ok := r.results[name]; ok {
		return res, nil
	}
	if r.inProgress[name] {
		return Result{}, newError(ErrCyclicFragment, path, "fragment %q spreads itself", name)
	}
	thunk, ok := r.thunks[name]
	if !ok {
		return Result{}, newError(ErrUnknownFragment, path, "unknown fragment %q", name)
	}

	r.inProgress[name] = true
	res, err := thunk()
	delete(r.inProgress, name)
	if err != nil {
		return Result{}, err
	}
	r.results[name] = res
	return res, nil
}
