package runner

type (
	// Alert is a diagnostic the player reports to the host: late events,
	// stolen voices, underruns, render failures. Alerts with the same Name
	// replace each other on the host side, so a storm of identical warnings
	// shows up as one.
	Alert struct {
		Name     string
		Message  string
		Priority AlertPriority
	}

	AlertPriority int
)

const (
	Notify AlertPriority = iota
	Warning
	Error
)

func (p AlertPriority) String() string {
	switch p {
	case Notify:
		return "notify"
	case Warning:
		return "warning"
	case Error:
		return "error"
	}
	return "unknown"
}
