package can

import (
	"fmt"
	"os"

	"github.com/Masterminds/semver"
	"gopkg.in/yaml.v2"

	"github.com/leeyeel/auto-ecu-devkit/can/flexcan"
)

// SchemaConstraint is the configuration schema range this driver accepts.
const SchemaConstraint = "~1.0"

// DefaultPollBudget bounds the freeze/halt acknowledge polls when the
// configuration does not override it.
const DefaultPollBudget = 1000

// MailboxType declares what a hardware slot is used for.
type MailboxType string

const (
	MailboxTx     MailboxType = "tx"
	MailboxRx     MailboxType = "rx"
	MailboxRxFifo MailboxType = "rxfifo"
)

// BusOffRecovery selects how a controller leaves bus-off.
type BusOffRecovery string

const (
	RecoveryAuto   BusOffRecovery = "auto"
	RecoveryManual BusOffRecovery = "manual"
)

// BaudrateConfig is an opaque timing profile programmed into CTRL1 at Init.
// Fields carry the human values; the hardware minus-one encoding is applied
// when the profile is written.
type BaudrateConfig struct {
	Prescaler      uint32 `yaml:"prescaler"`
	RJW            uint8  `yaml:"rjw"`
	PS1            uint8  `yaml:"ps1"`
	PS2            uint8  `yaml:"ps2"`
	TripleSampling bool   `yaml:"triple_sampling"`
}

// MailboxConfig declares one hardware slot of a controller.
type MailboxConfig struct {
	Index       uint8       `yaml:"index"`
	Type        MailboxType `yaml:"type"`
	IDType      string      `yaml:"id_type"` // standard | extended
	ID          uint32      `yaml:"id"`
	Mask        uint32      `yaml:"mask,omitempty"`
	DLC         uint8       `yaml:"dlc"`
	TxInterrupt bool        `yaml:"tx_interrupt,omitempty"`
	RxInterrupt bool        `yaml:"rx_interrupt,omitempty"`
}

// Extended reports whether the declared identifier is 29-bit.
func (m *MailboxConfig) Extended() bool {
	return m.IDType == "extended"
}

// ControllerConfig declares one physical controller.
type ControllerConfig struct {
	ID        uint8           `yaml:"id"`
	Base      uint32          `yaml:"base"`
	Activated bool            `yaml:"activated"`
	Baudrate  uint8           `yaml:"baudrate"` // index into Config.Baudrates
	Recovery  BusOffRecovery  `yaml:"busoff_recovery"`
	Mailboxes []MailboxConfig `yaml:"mailboxes"`
}

// Config is the static configuration consumed once at Init, read-only at
// runtime.
type Config struct {
	Version     string             `yaml:"version"`
	PollBudget  int                `yaml:"poll_budget,omitempty"`
	Baudrates   []BaudrateConfig   `yaml:"baudrates"`
	Controllers []ControllerConfig `yaml:"controllers"`
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("can: read config: %w", err)
	}
	cfg := new(Config)
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("can: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the schema version and every declaration. Mailbox indexes
// must be unique per controller: a hardware slot belongs to exactly one
// logical channel for the controller's lifetime.
func (c *Config) Validate() error {
	v, err := semver.NewVersion(c.Version)
	if err != nil {
		return fmt.Errorf("can: config version %q: %w", c.Version, err)
	}
	constraint, err := semver.NewConstraint(SchemaConstraint)
	if err != nil {
		return err
	}
	if !constraint.Check(v) {
		return fmt.Errorf("can: config version %s outside supported range %s", c.Version, SchemaConstraint)
	}

	if c.PollBudget < 0 {
		return fmt.Errorf("can: poll budget must not be negative")
	}
	if len(c.Baudrates) == 0 {
		return fmt.Errorf("can: at least one baudrate profile is required")
	}
	for i, b := range c.Baudrates {
		if b.Prescaler == 0 || b.RJW == 0 || b.PS1 == 0 || b.PS2 == 0 {
			return fmt.Errorf("can: baudrate %d: timing fields must be >= 1", i)
		}
	}

	for _, ctrl := range c.Controllers {
		if int(ctrl.Baudrate) >= len(c.Baudrates) {
			return fmt.Errorf("can: controller %d: baudrate index %d out of range", ctrl.ID, ctrl.Baudrate)
		}
		switch ctrl.Recovery {
		case RecoveryAuto, RecoveryManual, "":
		default:
			return fmt.Errorf("can: controller %d: unknown recovery mode %q", ctrl.ID, ctrl.Recovery)
		}
		seen := make(map[uint8]bool, len(ctrl.Mailboxes))
		for _, mb := range ctrl.Mailboxes {
			if int(mb.Index) >= flexcan.MBCount {
				return fmt.Errorf("can: controller %d: mailbox index %d out of range", ctrl.ID, mb.Index)
			}
			if seen[mb.Index] {
				return fmt.Errorf("can: controller %d: mailbox %d declared twice", ctrl.ID, mb.Index)
			}
			seen[mb.Index] = true
			switch mb.Type {
			case MailboxTx, MailboxRx, MailboxRxFifo:
			default:
				return fmt.Errorf("can: controller %d mailbox %d: unknown type %q", ctrl.ID, mb.Index, mb.Type)
			}
			switch mb.IDType {
			case "standard", "extended":
			default:
				return fmt.Errorf("can: controller %d mailbox %d: unknown id type %q", ctrl.ID, mb.Index, mb.IDType)
			}
			if mb.DLC > 8 {
				return fmt.Errorf("can: controller %d mailbox %d: dlc %d exceeds 8", ctrl.ID, mb.Index, mb.DLC)
			}
		}
	}
	return nil
}

func (c *Config) pollBudget() int {
	if c.PollBudget == 0 {
		return DefaultPollBudget
	}
	return c.PollBudget
}

// DefaultConfig returns the shipped post-build configuration: two active
// controllers at 500 kbit/s, CAN0 broadcasting battery frames and listening
// for diagnostics, CAN1 bridging to the gateway.
func DefaultConfig() *Config {
	return &Config{
		Version:    "1.0.0",
		PollBudget: DefaultPollBudget,
		Baudrates: []BaudrateConfig{
			{Prescaler: 5, RJW: 1, PS1: 4, PS2: 4}, // 500 kbit/s @ 40 MHz
			{Prescaler: 4, RJW: 1, PS1: 3, PS2: 2}, // 1 Mbit/s @ 40 MHz
		},
		Controllers: []ControllerConfig{
			{
				ID:        0,
				Base:      flexcan.CAN0Base,
				Activated: true,
				Baudrate:  0,
				Recovery:  RecoveryAuto,
				Mailboxes: []MailboxConfig{
					{Index: 0, Type: MailboxTx, IDType: "standard", ID: 0x101, DLC: 8, TxInterrupt: true},
					{Index: 1, Type: MailboxTx, IDType: "standard", ID: 0x102, DLC: 4, TxInterrupt: true},
					{Index: 8, Type: MailboxRx, IDType: "standard", ID: 0x200, DLC: 8, RxInterrupt: true},
					{Index: 9, Type: MailboxRx, IDType: "standard", ID: 0x300, DLC: 0, RxInterrupt: true},
				},
			},
			{
				ID:        1,
				Base:      flexcan.CAN1Base,
				Activated: true,
				Baudrate:  0,
				Recovery:  RecoveryAuto,
				Mailboxes: []MailboxConfig{
					{Index: 0, Type: MailboxTx, IDType: "standard", ID: 0x201, DLC: 8, TxInterrupt: true},
					{Index: 8, Type: MailboxRx, IDType: "extended", ID: 0x1000001, DLC: 8, RxInterrupt: true},
				},
			},
		},
	}
}
