package app

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

var Logger zerolog.Logger

func GetLogger(module string) zerolog.Logger {
	if s, ok := modules[module]; ok {
		lvl, err := zerolog.ParseLevel(s)
		if err == nil {
			return Logger.Level(lvl)
		}
		Logger.Warn().Err(err).Caller().Send()
	}

	return Logger
}

// initLogger support:
// - output: stderr, stdout
// - format: empty (autodetect color support), color, json, text
// - level:  disabled, trace, debug, info, warn, error...
func initLogger() {
	var cfg struct {
		Mod map[string]string `yaml:"log"`
	}

	cfg.Mod = modules // defaults

	LoadConfig(&cfg)

	var writer io.Writer

	switch modules["output"] {
	case "stderr":
		writer = os.Stderr
	default:
		writer = os.Stdout
	}

	if format := modules["format"]; format != "json" {
		console := &zerolog.ConsoleWriter{Out: writer, TimeFormat: "15:04:05.000"}

		switch format {
		case "text":
			console.NoColor = true
		case "color":
			console.NoColor = false // useless, but anyway
		default:
			// autodetection if output support color
			console.NoColor = !isatty.IsTerminal(writer.(*os.File).Fd())
		}

		writer = console
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	lvl, _ := zerolog.ParseLevel(modules["level"])
	Logger = zerolog.New(writer).With().Timestamp().Logger().Level(lvl)
}

// modules log levels
var modules = map[string]string{
	"format": "",
	"level":  "info",
	"output": "stdout",
}
