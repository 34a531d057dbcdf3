package reactor

import "github.com/pjsaksa/femc-go/internal/diag"

// Option configures a [Loop] at construction time via [New].
type Option interface {
	apply(*Loop)
}

type optionFunc func(*Loop)

func (f optionFunc) apply(l *Loop) { f(l) }

// WithErrorResolver sets the loop's initial [ErrorResolver], equivalent to
// calling [Loop.SetErrorResolver] immediately after [New].
func WithErrorResolver(fn ErrorResolver) Option {
	return optionFunc(func(l *Loop) {
		l.SetErrorResolver(fn)
	})
}

// WithDebug switches on the built-in default error resolver's debug
// behavior: print the error stack and report failure, instead of the
// release default of optimistic continuation. Has no effect once a custom
// resolver has been installed via [WithErrorResolver] or
// [Loop.SetErrorResolver].
func WithDebug(enabled bool) Option {
	return optionFunc(func(l *Loop) {
		l.debug = enabled
	})
}

// WithLogger attaches a diagnostics sink for the loop's own ambient
// warnings, such as a timer block allocation falling back to a single
// node. Unset, those conditions are silently recovered from.
func WithLogger(logger *diag.Logger) Option {
	return optionFunc(func(l *Loop) {
		l.logger = logger
	})
}
