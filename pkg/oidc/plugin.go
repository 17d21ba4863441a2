package oidc

import (
	"go.uber.org/zap"

	"github.com/Plawn/r2e-sub001/pkg/bean"
	"github.com/Plawn/r2e-sub001/pkg/config"
	"github.com/Plawn/r2e-sub001/pkg/identity"
	"github.com/Plawn/r2e-sub001/pkg/plugin"
	"github.com/Plawn/r2e-sub001/pkg/typelist"
)

// ConfigKey is the section Plugin reads when Config is nil.
const ConfigKey = "oidc"

// Plugin provides an identity.ClaimsValidator and the *Server bean, and
// mounts the provider endpoints at serve time.
type Plugin struct {
	Config  *Config
	Keys    *KeyPair
	Users   *UserStore
	Clients *ClientStore

	server *Server
}

// New returns a plugin for users and clients. Either may be nil.
func New(users *UserStore, clients *ClientStore) *Plugin {
	return &Plugin{Users: users, Clients: clients}
}

func (*Plugin) Name() string { return "oidc" }

func (*Plugin) Provisions() []typelist.Fingerprint {
	return []typelist.Fingerprint{
		typelist.Of[identity.ClaimsValidator](),
		typelist.Of[*Server](),
	}
}

func (*Plugin) Required() []typelist.Fingerprint { return nil }

// Server returns the installed server.
func (p *Plugin) Server() *Server { return p.server }

func (p *Plugin) resolveConfig(store *config.Store) (Config, error) {
	if p.Config != nil {
		return p.Config.withDefaults(), nil
	}
	if store == nil {
		return DefaultConfig(), nil
	}
	cfg, err := config.GetOr(store, ConfigKey, DefaultConfig())
	if err != nil {
		return Config{}, err
	}
	return cfg.withDefaults(), nil
}

func (p *Plugin) Install(pc *plugin.PreContext) error {
	cfg, err := p.resolveConfig(pc.Config)
	if err != nil {
		return err
	}

	keys := p.Keys
	switch {
	case keys != nil:
	case cfg.PrivateKey != "":
		if keys, err = KeyPairFromPEM([]byte(cfg.PrivateKey), ""); err != nil {
			return err
		}
	default:
		if keys, err = GenerateKeyPair(); err != nil {
			return err
		}
	}

	tokens := NewTokenService(keys, cfg)
	p.server = NewServer(tokens, p.Users, p.Clients, cfg.BasePath, pc.Logger)

	bean.Provide[identity.ClaimsValidator](pc.Registry, tokens.Validator())
	bean.Provide(pc.Registry, p.server)

	server := p.server
	pc.Defer(plugin.DeferredAction{
		Name: "oidc",
		Install: func(dc *plugin.DeferredContext) error {
			server.Register(dc.Router)
			if dc.Logger != nil {
				dc.Logger.Info("OIDC provider mounted",
					zap.String("issuer", cfg.Issuer),
					zap.String("base_path", cfg.BasePath),
					zap.String("kid", keys.Kid),
				)
			}
			return nil
		},
	})
	return nil
}
