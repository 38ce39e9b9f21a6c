package host

import "time"

// ServerConfig configures how interfaces are created and backed.
type ServerConfig struct {
	Threaded        bool          `help:"Run interface state machines on a dedicated goroutine" default:"true" negatable:"" env:"VIIPMI_THREADED"`
	MaxDrains       int           `help:"Events a synchronous interface handles per signal before dropping" default:"64" env:"VIIPMI_MAX_DRAINS"`
	ResponseTimeout time.Duration `help:"How long an external BMC may take to answer a request" default:"4s" env:"VIIPMI_RESPONSE_TIMEOUT"`
	RetryInterval   time.Duration `help:"Retry interval for frames the link did not fully accept" default:"10ms" env:"VIIPMI_RETRY_INTERVAL"`
	Reconnect       time.Duration `help:"Delay before reopening a failed BMC link" default:"1s" env:"VIIPMI_RECONNECT"`
	WriteTimeout    time.Duration `help:"Write deadline for BMC socket links" default:"5ms" env:"VIIPMI_WRITE_TIMEOUT"`
	HwOps           []string      `help:"Hardware operations the emulated machine supports" default:"reset,poweroff,poweron,powercycle,nmi" env:"VIIPMI_HWOPS"`
}
