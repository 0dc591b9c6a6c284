package powerctl

// Command is a text token sent verbatim to the remote peer
type Command string

const (
	CommandShutdown Command = "shutdown"
	CommandSleep    Command = "sleep"
)

// Validate reports whether the command can be transmitted
func (c Command) Validate() error {
	if c == "" {
		return ErrInvalidCommand
	}
	return nil
}

func (c Command) String() string {
	return string(c)
}
