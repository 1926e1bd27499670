package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline, so the same logical flag
// (e.g. --upstream on both "coach chat" and "coach serve") cannot drift.
type Flag struct {
	// Name is the long flag name (e.g. "upstream").
	Name string

	// Shorthand is the one-letter short flag (e.g. "u"). Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "stream.upstream").
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of flag names to Flag structs that hold their name,
// shorthand, viper key, etc.
type FlagSet map[string]Flag

// Flag registry keys.
// Use these constants when calling AddStringFlag, AddUintFlag,
// and BindRegisteredFlags to avoid typos or drift from one command to another.
const (
	FlagAPIListen       = "api-listen"
	FlagSQLite          = "sqlite"
	FlagPostgres        = "postgres"
	FlagServiceTarget   = "service-target"
	FlagAPITarget       = "api-target"
	FlagEventsTarget    = "events-target"
	FlagLinkBase        = "link-base"
	FlagProvider        = "provider"
	FlagUpstream        = "upstream"
	FlagModel           = "model"
	FlagSilenceTimeout  = "silence-timeout"
	FlagBreakerFailures = "breaker-failures"
	FlagKafkaBrokers    = "kafka-brokers"
	FlagKafkaTopic      = "kafka-topic"
)

// Flags is the registry shared by every coach command.
var Flags = FlagSet{
	FlagAPIListen:       {Name: "listen", Shorthand: "l", ViperKey: "api.listen", Description: "Address for the coach server to listen on"},
	FlagSQLite:          {Name: "sqlite", Shorthand: "s", ViperKey: "storage.sqlite_path", Description: "Path to SQLite database (default: in-memory)"},
	FlagPostgres:        {Name: "postgres", ViperKey: "storage.postgres_dsn", Description: "PostgreSQL connection string"},
	FlagServiceTarget:   {Name: "service-target", ViperKey: "client.service_target", Description: "Coach completion service URL"},
	FlagAPITarget:       {Name: "api-target", Shorthand: "a", ViperKey: "client.api_target", Description: "Coach history API URL"},
	FlagEventsTarget:    {Name: "events-target", ViperKey: "client.events_target", Description: "Side-channel event feed URL (empty disables)"},
	FlagLinkBase:        {Name: "link-base", ViperKey: "client.link_base", Description: "Base URL for shareable thread links"},
	FlagProvider:        {Name: "provider", Shorthand: "p", ViperKey: "stream.provider", Description: "Completion provider (coach, ollama)"},
	FlagUpstream:        {Name: "upstream", Shorthand: "u", ViperKey: "stream.upstream", Description: "Ollama server URL"},
	FlagModel:           {Name: "model", Shorthand: "m", ViperKey: "stream.model", Description: "Model used for completions"},
	FlagSilenceTimeout:  {Name: "silence-timeout", ViperKey: "stream.silence_timeout", Description: "Fail a response after this long without a fragment (0s disables)"},
	FlagBreakerFailures: {Name: "breaker-failures", ViperKey: "stream.breaker_failures", Description: "Consecutive stream failures before the circuit opens"},
	FlagKafkaBrokers:    {Name: "kafka-brokers", ViperKey: "events.kafka_brokers", Description: "Comma-separated Kafka brokers for exchange events"},
	FlagKafkaTopic:      {Name: "kafka-topic", ViperKey: "events.kafka_topic", Description: "Kafka topic for exchange events"},
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
// The flag's name, shorthand, default, and description all come from the
// FlagSet entry so they cannot drift across commands.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultString(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddUintFlag registers a uint flag on cmd from the given FlagSet.
func AddUintFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *uint) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaultUint(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().UintVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().UintVar(target, def.Name, defaultVal, def.Description)
	}
}

// BindRegisteredFlags binds already-registered flags to viper using definitions
// from the given FlagSet. Call this in PreRunE after InitViper to connect flags
// to the viper precedence chain (flag > env > config file > default).
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, registryKey := range registryKeys {
		def, ok := fs[registryKey]
		if !ok {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}

// defaultString returns the default string value for a viper key from NewDefaultConfig.
func defaultString(viperKey string) string {
	v := viper.New()
	setViperDefaults(v)
	return v.GetString(viperKey)
}

// defaultUint returns the default uint value for a viper key from NewDefaultConfig.
func defaultUint(viperKey string) uint {
	v := viper.New()
	setViperDefaults(v)
	return v.GetUint(viperKey)
}
