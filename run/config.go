package run

import (
	"fmt"

	"github.com/relex/loghose/backup"
	"github.com/relex/loghose/deliver"
	"github.com/relex/loghose/errorlog"
	"github.com/relex/loghose/ingest"
	"github.com/relex/loghose/input/httpinput"
	"github.com/relex/loghose/output/splunk"
	"github.com/relex/loghose/subscription"
	"github.com/relex/loghose/util"
)

// Config defines the root of the loghose config file
type Config struct {
	Input         httpinput.Config            `yaml:"input"`
	Subscriptions []subscription.FilterConfig `yaml:"subscriptions"`
	Ingest        ingest.Config               `yaml:"ingest"`
	Delivery      deliver.Config              `yaml:"delivery"`
	Output        splunk.Config               `yaml:"output"`
	Backup        backup.Config               `yaml:"backup"`
	ErrorLog      errorlog.Config             `yaml:"errorLog"`
}

// LoadConfigFile loads config from the path and verifies all sections
func LoadConfigFile(filepath string) (*Config, error) {
	cref := &Config{}
	if err := util.UnmarshalYamlFile(filepath, cref); err != nil {
		return nil, err
	}
	if err := cref.VerifyConfig(); err != nil {
		return nil, err
	}
	return cref, nil
}

// VerifyConfig verifies the root config
func (cfg *Config) VerifyConfig() error {
	if err := cfg.Input.VerifyConfig(); err != nil {
		return fmt.Errorf("input: %w", err)
	}
	if len(cfg.Subscriptions) == 0 {
		return fmt.Errorf("subscriptions: no filter defined")
	}
	filterNames := make([]string, 0, len(cfg.Subscriptions))
	for i := range cfg.Subscriptions {
		if err := cfg.Subscriptions[i].VerifyConfig(); err != nil {
			return fmt.Errorf("subscriptions[%d]: %w", i, err)
		}
		if util.IndexOfString(filterNames, cfg.Subscriptions[i].Name) != -1 {
			return fmt.Errorf("subscriptions[%d]: duplicated filter name '%s'", i, cfg.Subscriptions[i].Name)
		}
		filterNames = append(filterNames, cfg.Subscriptions[i].Name)
	}
	if err := cfg.Ingest.VerifyConfig(); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if err := cfg.Delivery.VerifyConfig(); err != nil {
		return fmt.Errorf("delivery: %w", err)
	}
	if err := cfg.Output.VerifyConfig(); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	if err := cfg.Backup.VerifyConfig(); err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	if err := cfg.ErrorLog.VerifyConfig(); err != nil {
		return fmt.Errorf("errorLog: %w", err)
	}
	return nil
}
