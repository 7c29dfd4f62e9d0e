package domain

// Application bundles the two operations the rest of the service consumes.
type Application struct {
	*URLBuilder
	Verifier

	mode Mode
}

func NewApp(builder *URLBuilder, verifier Verifier, mode Mode) *Application {
	return &Application{URLBuilder: builder, Verifier: verifier, mode: mode}
}

func (a *Application) Mode() Mode { return a.mode }
