package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manager implements the ConfigManager interface.
type Manager struct{}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{}
}

// Load reads and parses the configuration file.
func (m *Manager) Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	config := GetDefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	if err := m.Validate(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate checks if the configuration values are valid.
func (m *Manager) Validate(config *Config) error {
	if config.Server.MyPort < 0 || config.Server.MyPort > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 0-65535)", config.Server.MyPort)
	}
	if config.Server.BTSPort < 0 || config.Server.BTSPort > 65535 {
		return fmt.Errorf("invalid BTS port: %d (must be 0-65535)", config.Server.BTSPort)
	}

	if strings.TrimSpace(config.Asterisk.Address) == "" {
		return fmt.Errorf("asterisk address cannot be empty")
	}

	if strings.TrimSpace(config.SaveFile) == "" {
		return fmt.Errorf("savefile path cannot be empty")
	}

	if strings.TrimSpace(config.SubscriberRegistry.DB) == "" {
		return fmt.Errorf("subscriber registry db path cannot be empty")
	}

	if config.SMS.MaxRetries < 0 {
		return fmt.Errorf("sms max_retries cannot be negative: %d", config.SMS.MaxRetries)
	}
	if config.SMS.RateLimit < 0 {
		return fmt.Errorf("sms rate_limit cannot be negative: %d", config.SMS.RateLimit)
	}

	if config.SIP.Timeout.MessageResend <= 0 {
		return fmt.Errorf("sip.timeout.message_resend must be positive: %d", config.SIP.Timeout.MessageResend)
	}
	if config.SIP.Timeout.MessageBounce <= 0 {
		return fmt.Errorf("sip.timeout.message_bounce must be positive: %d", config.SIP.Timeout.MessageBounce)
	}
	if config.SIP.Timeout.ACKedMessageResend <= 0 {
		return fmt.Errorf("sip.timeout.acked_message_resend must be positive: %d", config.SIP.Timeout.ACKedMessageResend)
	}

	if strings.TrimSpace(config.Bounce.Code) == "" {
		return fmt.Errorf("bounce code cannot be empty")
	}

	if strings.TrimSpace(config.ShortCode.RegisterCode) == "" {
		return fmt.Errorf("short_code.register_code cannot be empty")
	}
	if strings.TrimSpace(config.ShortCode.DirectoryCode) == "" {
		return fmt.Errorf("short_code.directory_code cannot be empty")
	}

	if config.WebAdmin.Enabled {
		if config.WebAdmin.Port < 0 || config.WebAdmin.Port > 65535 {
			return fmt.Errorf("invalid web admin port: %d (must be 0-65535)", config.WebAdmin.Port)
		}
		if config.WebAdmin.Port > 0 && config.WebAdmin.Port == config.Server.MyPort {
			return fmt.Errorf("web admin port %d conflicts with server port", config.WebAdmin.Port)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	logLevel := strings.ToLower(config.Logging.Level)
	if !validLogLevels[logLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	return nil
}

// GetDefaultConfig returns a configuration with built-in default values.
func GetDefaultConfig() *Config {
	c := &Config{}
	c.Server.MyPort = 5063
	c.Server.BTSPort = 5062
	c.Asterisk.Address = "127.0.0.1:5060"
	c.Bounce.Code = "911"
	c.Bounce.IMSILookupFailed = "Message undeliverable: unknown subscriber."
	c.Bounce.NotRegistered = "Message undeliverable: phone not registered."
	c.CDRFile = "./smqueue.cdr"
	c.SaveFile = "./smqueue.save"
	c.ShortCode.RegisterCode = "101"
	c.ShortCode.DirectoryCode = "411"
	c.ShortCode.RegisterMinDigits = 7
	c.ShortCode.RegisterMaxDigits = 15
	c.ShortCode.DirectoryReply = "Directory assistance: send 101 <number> to register a new handset."
	c.ShortCode.WelcomeReply = "Welcome! This handset is now registered."
	c.SIP.Timeout.ACKedMessageResend = 60
	c.SIP.Timeout.MessageBounce = 3600
	c.SIP.Timeout.MessageResend = 30
	c.SMS.MaxRetries = 5
	c.SMS.RateLimit = 0
	c.SubscriberRegistry.DB = "./subscribers.db"
	c.Debug.PrintAsWeValidate = false
	c.WebAdmin.Port = 8080
	c.WebAdmin.Enabled = true
	c.Logging.Level = "info"
	c.Logging.File = "./smqueued.log"
	return c
}
