package models

// SSHShutdownConfig holds the settings for powering off the repository host
// once all units are archived.
type SSHShutdownConfig struct {
	Host          string
	Port          int
	Username      string
	PrivateKey    []byte // loaded from KeyPath when nil
	KeyPath       string
	ShutdownDelay int    // minutes
	OS            string // "linux" (default) or "windows"
}

// SSHResult holds the result of an SSH operation.
type SSHResult struct {
	CommandRun bool
	Output     string
	Error      error
}
