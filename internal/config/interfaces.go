package config

// Config represents the smqueued server configuration.
type Config struct {
	Server struct {
		MyPort        int    `yaml:"my_port"`        // UDP port smqueued listens on, faces the BTS/Asterisk
		BTSPort       int    `yaml:"bts_port"`        // destination port when relaying to the BTS SIP stack
		SecondAddress string `yaml:"second_address"`  // optional extra "this is us" host, recognized as local alongside loopback and the advertised own address
	} `yaml:"server"`

	Asterisk struct {
		Address string `yaml:"address"` // host:port of the registration/HLR target (REGISTER destination, host of reply/bounce To URIs)
	} `yaml:"asterisk"`

	Bounce struct {
		Code             string `yaml:"code"`               // short code a bounce MESSAGE appears to come from (loop-guarded by strcmp)
		IMSILookupFailed string `yaml:"imsi_lookup_failed"` // bounce body text, subscriber has no IMSI
		NotRegistered    string `yaml:"not_registered"`     // bounce body text, subscriber never registered
	} `yaml:"bounce"`

	CDRFile  string `yaml:"cdr_file"`
	SaveFile string `yaml:"savefile"`

	ShortCode struct {
		RegisterCode      string `yaml:"register_code"`
		DirectoryCode     string `yaml:"directory_code"`
		RegisterMinDigits int    `yaml:"register_min_digits"` // shortest acceptable phone number body for the 101 handler
		RegisterMaxDigits int    `yaml:"register_max_digits"` // longest acceptable phone number body for the 101 handler
		DirectoryReply    string `yaml:"directory_reply"`     // reply template for the 411 handler
		WelcomeReply      string `yaml:"welcome_reply"`       // reply template once a 101 registration chain completes
	} `yaml:"short_code"`

	SIP struct {
		Timeout struct {
			ACKedMessageResend int `yaml:"acked_message_resend"` // seconds before a 1xx-acked message is retried
			MessageBounce      int `yaml:"message_bounce"`        // seconds before giving up and bouncing
			MessageResend      int `yaml:"message_resend"`        // seconds between unacked retries
		} `yaml:"timeout"`
		GlobalRelay struct {
			IP            string `yaml:"ip"`             // upstream SIP relay address, empty disables relay routing
			Port          int    `yaml:"port"`            // upstream SIP relay port
			ContentType   string `yaml:"content_type"`    // content-type to transcode outbound-to-relay bodies into
			RelaxedVerify bool   `yaml:"relaxed_verify"`  // match any Via header, not just the source address, for early-resolution
		} `yaml:"global_relay"`
	} `yaml:"sip"`

	SMS struct {
		MaxRetries int `yaml:"max_retries"`
		RateLimit  int `yaml:"rate_limit"` // minimum ms between any two sends, 0 = unlimited
	} `yaml:"sms"`

	SubscriberRegistry struct {
		DB string `yaml:"db"` // sqlite file backing the directory client
	} `yaml:"subscriber_registry"`

	Debug struct {
		PrintAsWeValidate bool `yaml:"print_as_we_validate"`
	} `yaml:"debug"`

	WebAdmin struct {
		Port    int  `yaml:"port"`
		Enabled bool `yaml:"enabled"`
	} `yaml:"web_admin"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

// ConfigManager defines the interface for configuration management.
type ConfigManager interface {
	Load(filename string) (*Config, error)
	Validate(config *Config) error
}
