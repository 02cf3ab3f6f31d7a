package acp

import (
	"github.com/AlexxIT/go-acp/internal/app"
	"github.com/AlexxIT/go-acp/pkg/acp"
)

func Init() {
	var cfg struct {
		Mod struct {
			Listen     string         `yaml:"listen"`
			Password   string         `yaml:"password"`
			Features   []string       `yaml:"features"`
			Properties map[string]any `yaml:"properties"`
		} `yaml:"acp"`
	}

	app.LoadConfig(&cfg)

	if cfg.Mod.Listen == "" {
		cfg.Mod.Listen = ":5009"
	}
	if cfg.Mod.Password == "" {
		cfg.Mod.Password = "public"
	}

	log := app.GetLogger("acp")

	store := NewStore()
	for name, value := range cfg.Mod.Properties {
		if err := store.Seed(name, value); err != nil {
			log.Warn().Err(err).Str("name", name).Msg("[acp] seed property")
		}
	}

	features := make([]any, 0, len(cfg.Mod.Features))
	for _, f := range cfg.Mod.Features {
		features = append(features, f)
	}

	server := &acp.Server{
		Password: cfg.Mod.Password,
		Storage:  store,
		Features: features,
		Log:      log,
	}

	go func() {
		log.Info().Str("addr", cfg.Mod.Listen).Msg("[acp] listen")
		if err := server.ListenAndServe(cfg.Mod.Listen); err != nil {
			log.Error().Err(err).Msg("[acp] server")
		}
	}()
}
