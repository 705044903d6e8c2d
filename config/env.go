package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// Environment variables read by FromEnv.
const (
	EnvServer         = "NATS_SERVER"
	EnvServers        = "NATS_SERVERS" // comma separated
	EnvOptions        = "NATS_OPTIONS" // JSON object, see Options
	EnvRequestTimeout = "NATS_REQUEST_TIMEOUT"
	EnvName           = "NATS_NAME"
	EnvUser           = "NATS_USER"
	EnvPassword       = "NATS_PASSWORD"
	EnvToken          = "NATS_TOKEN"
	EnvCreds          = "NATS_CREDS"
	EnvConnectTimeout = "NATS_CONNECT_TIMEOUT"
	EnvNoRandomize    = "NATS_NO_RANDOMIZE"
	EnvCodec          = "NATS_CODEC"
	EnvSubjectStyle   = "NATS_SUBJECT_STYLE"
)

// FromEnv reads settings from the process environment on every Load.
// NATS_OPTIONS is applied first; the individual variables override it.
func FromEnv() Provider {
	return envProvider{lookup: os.LookupEnv}
}

type envProvider struct {
	lookup func(string) (string, bool)
}

func (p envProvider) Load(context.Context) (Settings, error) {
	var s Settings
	get := func(key string) string {
		v, _ := p.lookup(key)
		return strings.TrimSpace(v)
	}

	if raw := get(EnvOptions); raw != "" {
		if err := json.Unmarshal([]byte(raw), &s.Options); err != nil {
			return Settings{}, fmt.Errorf("config: %s: %w", EnvOptions, err)
		}
	}

	s.Server = get(EnvServer)
	if v := get(EnvServers); v != "" {
		for _, addr := range strings.Split(v, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				s.Servers = append(s.Servers, addr)
			}
		}
	}

	if v := get(EnvRequestTimeout); v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			return Settings{}, fmt.Errorf("config: %s: %w", EnvRequestTimeout, err)
		}
		s.RequestTimeout = d
	}
	if v := get(EnvConnectTimeout); v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			return Settings{}, fmt.Errorf("config: %s: %w", EnvConnectTimeout, err)
		}
		s.Options.ConnectTimeout = d
	}
	if v := get(EnvNoRandomize); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Settings{}, fmt.Errorf("config: %s: %w", EnvNoRandomize, err)
		}
		s.Options.NoRandomize = b
	}

	setIf(&s.Options.Name, get(EnvName))
	setIf(&s.Options.User, get(EnvUser))
	setIf(&s.Options.Password, get(EnvPassword))
	setIf(&s.Options.Token, get(EnvToken))
	setIf(&s.Options.CredsFile, get(EnvCreds))
	s.Codec = get(EnvCodec)
	s.SubjectStyle = get(EnvSubjectStyle)

	return s, nil
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
