package pdp

import (
	"github.com/rs/zerolog"
)

// newSubLogger returns a component-scoped logger, matching the
// .With().Str("component", ...) sub-logger convention used throughout the
// rest of this package's components. A disabled base logger yields a
// disabled sub-logger, so PDPEngine is silent by default unless WithLogger
// is passed.
func newSubLogger(base zerolog.Logger, component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}
