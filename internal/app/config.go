package app

// Config carries the command-line level settings that shape a toolplane
// process before any configuration file has been read.
type Config struct {
	// Debug enables debug-level logging.
	Debug bool

	// ConfigPath is the directory holding config.yaml. Empty means the
	// default location under the user's config directory.
	ConfigPath string

	// Host and Port override the control API listen address from the
	// configuration file when non-zero.
	Host string
	Port int
}

// NewConfig creates the application configuration from command-line flags.
func NewConfig(debug bool, configPath, host string, port int) *Config {
	return &Config{
		Debug:      debug,
		ConfigPath: configPath,
		Host:       host,
		Port:       port,
	}
}
