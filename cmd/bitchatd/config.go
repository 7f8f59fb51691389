package main

import (
	"fmt"
	"time"

	"github.com/bitchat-mesh/bitchat/engine"
	"github.com/bitchat-mesh/bitchat/store"
	"github.com/bitchat-mesh/bitchat/transport"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// config is the on-disk/flag-driven daemon configuration. Field names
// match the viper keys read from file, environment, and flag.
type config struct {
	Nickname    string `mapstructure:"nickname"`
	DataDir     string `mapstructure:"data_dir"`
	LogLevel    string `mapstructure:"log_level"`
	BLEAdapter  string `mapstructure:"ble_adapter"`
	EnableBLE   bool   `mapstructure:"enable_ble"`

	MaintenanceIntervalSeconds int `mapstructure:"maintenance_interval_seconds"`
	CommandQueueCapacity       int `mapstructure:"command_queue_capacity"`
	EventQueueCapacity         int `mapstructure:"event_queue_capacity"`

	MaxContentLength   int `mapstructure:"max_content_length"`
	MaxTotalMessages   int `mapstructure:"max_total_messages"`
	MaxPerConversation int `mapstructure:"max_per_conversation"`
}

// loadConfig wires pflag for CLI overrides and viper for file/env
// configuration, in that precedence order, grounded on
// sahmadiut-half-tunnel's viper+pflag pairing per SPEC_FULL.md §14.
func loadConfig(args []string) (config, error) {
	fs := pflag.NewFlagSet("bitchatd", pflag.ContinueOnError)
	fs.String("config", "", "path to a config file (yaml/json/toml)")
	fs.String("nickname", "", "display name announced to peers")
	fs.String("data-dir", "./bitchatd-data", "directory for identity cache and static key")
	fs.String("log-level", "info", "zerolog level: debug, info, warn, error")
	fs.String("ble-adapter", "hci0", "BlueZ adapter id to advertise/scan on")
	fs.Bool("enable-ble", true, "register the BLE transport")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("BITCHATD")
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return config{}, err
	}
	for key, flag := range map[string]string{"data_dir": "data-dir", "log_level": "log-level", "ble_adapter": "ble-adapter", "enable_ble": "enable-ble"} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return config{}, err
		}
	}

	v.SetDefault("maintenance_interval_seconds", 30)
	v.SetDefault("command_queue_capacity", engine.DefaultConfig().CommandQueueCapacity)
	v.SetDefault("event_queue_capacity", engine.DefaultConfig().EventQueueCapacity)
	v.SetDefault("max_content_length", store.DefaultConfig().MaxContentLength)
	v.SetDefault("max_total_messages", store.DefaultConfig().MaxTotalMessages)
	v.SetDefault("max_per_conversation", store.DefaultConfig().MaxPerConversation)

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return config{}, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// engineConfig translates the flat daemon config into engine.Config,
// keeping every field the engine doesn't expose at defaults.
func (c config) engineConfig() engine.Config {
	ec := engine.DefaultConfig()
	ec.Nickname = c.Nickname
	ec.RoutingPolicy = transport.PreferPrimary
	if c.MaintenanceIntervalSeconds > 0 {
		ec.MaintenanceInterval = time.Duration(c.MaintenanceIntervalSeconds) * time.Second
	}
	if c.CommandQueueCapacity > 0 {
		ec.CommandQueueCapacity = c.CommandQueueCapacity
	}
	if c.EventQueueCapacity > 0 {
		ec.EventQueueCapacity = c.EventQueueCapacity
	}
	if c.MaxContentLength > 0 {
		ec.Store.MaxContentLength = c.MaxContentLength
	}
	if c.MaxTotalMessages > 0 {
		ec.Store.MaxTotalMessages = c.MaxTotalMessages
	}
	if c.MaxPerConversation > 0 {
		ec.Store.MaxPerConversation = c.MaxPerConversation
	}
	return ec
}
