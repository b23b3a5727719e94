package actor

// Step applies a reducer to a sequence of inputs starting from state and
// returns the final state together with every effect produced along the way.
//
// It is a testing utility for reducer-level unit tests and does not execute
// effects.
func Step[S any](state S, reducer ReducerFunc[S], inputs ...Input) (S, []Effect) {
	var all []Effect
	for _, in := range inputs {
		var effects []Effect
		state, effects = reducer(state, in)
		all = append(all, effects...)
	}
	return state, all
}
