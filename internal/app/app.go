package app

import (
	"flag"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/AlexxIT/go-acp/pkg/shell"
	"gopkg.in/yaml.v3"
)

var Version = "1.0.0"

var ConfigPath string

func Init() {
	var confs Config

	flag.Var(&confs, "config", "go-acp config (path to file or raw text), support multiple")
	flag.Parse()

	if confs == nil {
		confs = []string{"go-acp.yaml"}
	}

	for _, conf := range confs {
		if conf[0] != '{' {
			// config as file
			if ConfigPath == "" {
				ConfigPath = conf
			}

			data, _ := os.ReadFile(conf)
			if data == nil {
				continue
			}

			data = []byte(shell.ReplaceEnvVars(string(data)))
			configs = append(configs, data)
		} else {
			// config as raw YAML
			configs = append(configs, []byte(conf))
		}
	}

	if ConfigPath != "" {
		if !filepath.IsAbs(ConfigPath) {
			if cwd, err := os.Getwd(); err == nil {
				ConfigPath = filepath.Join(cwd, ConfigPath)
			}
		}
	}

	initLogger()

	platform := runtime.GOOS + "/" + runtime.GOARCH
	Logger.Info().Str("version", Version).Str("platform", platform).Msg("go-acp")

	if ConfigPath != "" {
		Logger.Info().Str("path", ConfigPath).Msg("config")
	}
}

func LoadConfig(v any) {
	for _, data := range configs {
		if err := yaml.Unmarshal(data, v); err != nil {
			Logger.Warn().Err(err).Msg("[app] read config")
		}
	}
}

// internal

type Config []string

func (c *Config) String() string {
	return strings.Join(*c, " ")
}

func (c *Config) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var configs [][]byte
