package core

// ManagerConfig holds optional collaborators for a Manager, generalized
// from the teacher's TaskSchedulerConfig. All fields are optional; a nil
// field is replaced by its default (DefaultLogger, NoOpNotificationPolicy).
type ManagerConfig struct {
	// Logger receives structured diagnostic events from the manager and
	// its workers. Defaults to DefaultLogger.
	Logger Logger

	// Notify receives startup/shutdown/error callbacks (§6). Defaults to
	// NoOpNotificationPolicy.
	Notify NotificationPolicy
}

// DefaultManagerConfig returns a config with default collaborators.
func DefaultManagerConfig() *ManagerConfig {
	return &ManagerConfig{
		Logger: &DefaultLogger{},
		Notify: NoOpNotificationPolicy{},
	}
}

func (c *ManagerConfig) logger() Logger {
	if c == nil || c.Logger == nil {
		return &DefaultLogger{}
	}
	return c.Logger
}

func (c *ManagerConfig) notify() NotificationPolicy {
	if c == nil || c.Notify == nil {
		return NoOpNotificationPolicy{}
	}
	return c.Notify
}
