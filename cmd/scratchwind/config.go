package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/vctt94/bisonbotkit/config"
)

type ScratchwindConfig struct {
	*config.BotConfig // Embed the base BotConfig

	// Additional scratchwind-specific fields
	HTTPPort        string
	DebugLevel      string
	MinDepositAtoms int64
	OracleKeyFile   string
	WatchInterval   time.Duration
	RevealDelay     time.Duration
}

// LoadScratchwindConfig loads the base bot config from dataDir and layers
// the scratchwind-specific keys from its ExtraConfig section on top.
func LoadScratchwindConfig(dataDir, configFile string) (*ScratchwindConfig, error) {
	baseConfig, err := config.LoadBotConfig(dataDir, configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load base config: %w", err)
	}

	cfg := &ScratchwindConfig{
		BotConfig:       baseConfig,
		HTTPPort:        baseConfig.ExtraConfig["httpport"],
		DebugLevel:      baseConfig.ExtraConfig["debuglevel"],
		OracleKeyFile:   baseConfig.ExtraConfig["oraclekeyfile"],
		MinDepositAtoms: 0,
		WatchInterval:   5 * time.Second,
		RevealDelay:     10 * time.Second,
	}

	if cfg.DebugLevel == "" {
		cfg.DebugLevel = "info"
	}
	if v := baseConfig.ExtraConfig["mindeposit"]; v != "" {
		cfg.MinDepositAtoms, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse mindeposit: %w", err)
		}
	}
	if v := baseConfig.ExtraConfig["watchinterval"]; v != "" {
		cfg.WatchInterval, err = time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("failed to parse watchinterval: %w", err)
		}
	}
	if v := baseConfig.ExtraConfig["revealdelay"]; v != "" {
		cfg.RevealDelay, err = time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("failed to parse revealdelay: %w", err)
		}
	}

	return cfg, nil
}
