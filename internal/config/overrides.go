package config

import (
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SCANCAL_PARSER_BASE_URL.
const EnvPrefix = "SCANCAL"

// NewViper returns a viper instance that reads SCANCAL_* environment
// variables for the dotted config keys. Flags are bound to it by the CLI.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

type override struct {
	key   string
	apply func(c *Config, v *viper.Viper)
}

var overrides = []override{
	{"listen", func(c *Config, v *viper.Viper) { c.Listen = v.GetString("listen") }},
	{"timezone", func(c *Config, v *viper.Viper) { c.Timezone = v.GetString("timezone") }},
	{"identity", func(c *Config, v *viper.Viper) { c.Identity = v.GetString("identity") }},
	{"parser.base_url", func(c *Config, v *viper.Viper) { c.Parser.BaseURL = v.GetString("parser.base_url") }},
	{"parser.stream_path", func(c *Config, v *viper.Viper) { c.Parser.StreamPath = v.GetString("parser.stream_path") }},
	{"parser.parse_path", func(c *Config, v *viper.Viper) { c.Parser.ParsePath = v.GetString("parser.parse_path") }},
	{"parser.contacts_path", func(c *Config, v *viper.Viper) { c.Parser.ContactsPath = v.GetString("parser.contacts_path") }},
	{"parser.timeout", func(c *Config, v *viper.Viper) { c.Parser.Timeout = v.GetDuration("parser.timeout") }},
	{"scrape.url", func(c *Config, v *viper.Viper) { c.Scrape.URL = v.GetString("scrape.url") }},
	{"scrape.timeout", func(c *Config, v *viper.Viper) { c.Scrape.Timeout = v.GetDuration("scrape.timeout") }},
	{"scrape.wait_selector", func(c *Config, v *viper.Viper) { c.Scrape.WaitSelector = v.GetString("scrape.wait_selector") }},
	{"scrape.user_data_dir", func(c *Config, v *viper.Viper) { c.Scrape.UserDataDir = v.GetString("scrape.user_data_dir") }},
	{"mentions.empty_limit", func(c *Config, v *viper.Viper) { c.Mentions.EmptyLimit = v.GetInt("mentions.empty_limit") }},
	{"mentions.match_limit", func(c *Config, v *viper.Viper) { c.Mentions.MatchLimit = v.GetInt("mentions.match_limit") }},
	{"watch", func(c *Config, v *viper.Viper) { c.Watch = v.GetString("watch") }},
	{"log.level", func(c *Config, v *viper.Viper) { c.Log.Level = v.GetString("log.level") }},
	{"log.format", func(c *Config, v *viper.Viper) { c.Log.Format = v.GetString("log.format") }},
	{"calendar.include_ctz", func(c *Config, v *viper.Viper) { c.Calendar.IncludeCTZ = v.GetBool("calendar.include_ctz") }},
	{"calendar.name", func(c *Config, v *viper.Viper) { c.Calendar.Name = v.GetString("calendar.name") }},
}

// Keys lists every overridable key.
func Keys() []string {
	keys := make([]string, len(overrides))
	for i, o := range overrides {
		keys[i] = o.key
	}
	return keys
}

// ApplyOverrides copies every key set in v (environment or changed flag)
// onto cfg and normalizes the result.
func ApplyOverrides(cfg *Config, v *viper.Viper) {
	if cfg == nil || v == nil {
		return
	}
	for _, o := range overrides {
		if v.IsSet(o.key) {
			o.apply(cfg, v)
		}
	}
	cfg.Normalize()
}
