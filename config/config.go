package config

import (
	"errors"
	"fmt"

	"github.com/smartcontractkit/chainlink-common/pkg/config"

	"github.com/animica/wallet-relayer/txm"
)

// TOMLConfig is the file-level configuration for one ledger, embeddable in
// a larger host application's TOML.
type TOMLConfig struct {
	ChainID *string
	// Enabled is true if default
	Enabled *bool
	ChainConfig
	Nodes NodeConfigs
}

type ChainConfig struct {
	ConfirmPollPeriod *config.Duration
	BatchSize         *uint64
	MaxResends        *uint64
	StuckThreshold    *config.Duration
	MinResendDelay    *config.Duration
	MaxResendDelay    *config.Duration
	RetentionPeriod   *config.Duration
	ReapInterval      *config.Duration
}

func (c *ChainConfig) SetDefaults() {
	if c.ConfirmPollPeriod == nil {
		c.ConfirmPollPeriod = config.MustNewDuration(txm.DefaultPollPeriod)
	}
	if c.BatchSize == nil {
		c.BatchSize = ptr[uint64](txm.DefaultBatchSize)
	}
	if c.MaxResends == nil {
		c.MaxResends = ptr[uint64](txm.DefaultMaxResends)
	}
	if c.StuckThreshold == nil {
		c.StuckThreshold = config.MustNewDuration(txm.DefaultStuckThreshold)
	}
	if c.MinResendDelay == nil {
		c.MinResendDelay = config.MustNewDuration(txm.DefaultMinResendDelay)
	}
	if c.MaxResendDelay == nil {
		c.MaxResendDelay = config.MustNewDuration(txm.DefaultMaxResendDelay)
	}
	if c.RetentionPeriod == nil {
		c.RetentionPeriod = config.MustNewDuration(txm.DefaultRetentionPeriod)
	}
	if c.ReapInterval == nil {
		c.ReapInterval = config.MustNewDuration(0)
	}
}

func (c *TOMLConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func (c *TOMLConfig) SetFrom(f *TOMLConfig) {
	if f.ChainID != nil {
		c.ChainID = f.ChainID
	}
	if f.Enabled != nil {
		c.Enabled = f.Enabled
	}
	setFromChain(&c.ChainConfig, &f.ChainConfig)
	c.Nodes = append(c.Nodes, f.Nodes...)
}

func setFromChain(c, f *ChainConfig) {
	if f.ConfirmPollPeriod != nil {
		c.ConfirmPollPeriod = f.ConfirmPollPeriod
	}
	if f.BatchSize != nil {
		c.BatchSize = f.BatchSize
	}
	if f.MaxResends != nil {
		c.MaxResends = f.MaxResends
	}
	if f.StuckThreshold != nil {
		c.StuckThreshold = f.StuckThreshold
	}
	if f.MinResendDelay != nil {
		c.MinResendDelay = f.MinResendDelay
	}
	if f.MaxResendDelay != nil {
		c.MaxResendDelay = f.MaxResendDelay
	}
	if f.RetentionPeriod != nil {
		c.RetentionPeriod = f.RetentionPeriod
	}
	if f.ReapInterval != nil {
		c.ReapInterval = f.ReapInterval
	}
}

func (c *TOMLConfig) ValidateConfig() error {
	var err error
	if c.ChainID == nil {
		err = errors.Join(err, config.ErrMissing{Name: "ChainID", Msg: "required for all chains"})
	} else if *c.ChainID == "" {
		err = errors.Join(err, config.ErrEmpty{Name: "ChainID", Msg: "required for all chains"})
	}
	if len(c.Nodes) == 0 {
		err = errors.Join(err, config.ErrMissing{Name: "Nodes", Msg: "must have at least one node"})
	}
	for i, node := range c.Nodes {
		if nodeErr := node.ValidateConfig(); nodeErr != nil {
			err = errors.Join(err, fmt.Errorf("Nodes.%d: %w", i, nodeErr))
		}
	}
	return err
}

// TxmConfig converts the TOML form into the monitor's runtime config.
func (c *TOMLConfig) TxmConfig() txm.Config {
	cfg := txm.Config{}
	if c.ConfirmPollPeriod != nil {
		cfg.PollPeriod = c.ConfirmPollPeriod.Duration()
	}
	if c.BatchSize != nil {
		cfg.BatchSize = int(*c.BatchSize)
	}
	if c.MaxResends != nil {
		cfg.MaxResends = uint32(*c.MaxResends)
	}
	if c.StuckThreshold != nil {
		cfg.StuckThreshold = c.StuckThreshold.Duration()
	}
	if c.MinResendDelay != nil {
		cfg.MinResendDelay = c.MinResendDelay.Duration()
	}
	if c.MaxResendDelay != nil {
		cfg.MaxResendDelay = c.MaxResendDelay.Duration()
	}
	if c.RetentionPeriod != nil {
		cfg.RetentionPeriod = c.RetentionPeriod.Duration()
	}
	if c.ReapInterval != nil {
		cfg.ReapInterval = c.ReapInterval.Duration()
	}
	return cfg
}

type NodeConfig struct {
	Name *string
	URL  *config.URL
}

func (n *NodeConfig) ValidateConfig() error {
	var err error
	if n.Name == nil {
		err = errors.Join(err, config.ErrMissing{Name: "Name", Msg: "required for all nodes"})
	} else if *n.Name == "" {
		err = errors.Join(err, config.ErrEmpty{Name: "Name", Msg: "required for all nodes"})
	}
	if n.URL == nil {
		err = errors.Join(err, config.ErrMissing{Name: "URL", Msg: "required for all nodes"})
	}
	return err
}

type NodeConfigs []*NodeConfig

func Defaults() (c TOMLConfig) {
	c.SetDefaults()
	return
}

func ptr[T any](v T) *T { return &v }
