package core

// Logger logs messages with increasing severity; Fatal exits the program.
// Extra args are reported along with the message (errors, maps, the acting
// lecturer) depending on the implementation.
type Logger interface {
	Enable(enabled bool)
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// Actor identifies who triggered a logged action, for error reporting.
type Actor struct {
	ID    string
	Name  string
	Email string
}
