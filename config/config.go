// Package config supplies the settings a call is made with.
//
// Settings are loaded through a Provider at the start of every call and are
// never cached or mutated by the client, so a host can change them between
// calls (environment, etcd document, discovered servers).
package config

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"nats-rpc/subject"
)

// DefaultRequestTimeout applies when neither the call nor the settings set one.
const DefaultRequestTimeout = time.Second

// Settings is the configuration one call is made with.
type Settings struct {
	Server         string   `json:"server,omitempty"`
	Servers        []string `json:"servers,omitempty"`
	Options        Options  `json:"options"`
	RequestTimeout Duration `json:"request_timeout,omitempty"`
	SubjectStyle   string   `json:"subject_style,omitempty"` // "joined" (default) or "qualified"
	Codec          string   `json:"codec,omitempty"`         // "json" (default) or "json+zstd"
}

// Options are transport connection options.
type Options struct {
	Name           string   `json:"name,omitempty"`
	User           string   `json:"user,omitempty"`
	Password       string   `json:"password,omitempty"`
	Token          string   `json:"token,omitempty"`
	CredsFile      string   `json:"creds_file,omitempty"`
	ConnectTimeout Duration `json:"connect_timeout,omitempty"`
	FlushTimeout   Duration `json:"flush_timeout,omitempty"`
	NoRandomize    bool     `json:"no_randomize,omitempty"`
	NoEcho         bool     `json:"no_echo,omitempty"`
	InboxPrefix    string   `json:"inbox_prefix,omitempty"`
	RootCAs        []string `json:"root_cas,omitempty"`
	CertFile       string   `json:"cert_file,omitempty"`
	KeyFile        string   `json:"key_file,omitempty"`
}

// Addresses returns the configured server list. A single Server wins over
// Servers.
func (s Settings) Addresses() []string {
	if s.Server != "" {
		return []string{s.Server}
	}
	return s.Servers
}

// Timeout resolves the request timeout: override, then the configured value,
// then DefaultRequestTimeout.
func (s Settings) Timeout(override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	if s.RequestTimeout > 0 {
		return time.Duration(s.RequestTimeout)
	}
	return DefaultRequestTimeout
}

// Convention returns the subject naming convention of the deployment.
func (s Settings) Convention() (subject.Convention, error) {
	return subject.ParseConvention(s.SubjectStyle)
}

// Provider loads settings. Implementations must be safe for concurrent use.
type Provider interface {
	Load(ctx context.Context) (Settings, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (Settings, error)

func (f ProviderFunc) Load(ctx context.Context) (Settings, error) {
	return f(ctx)
}

// Static always returns s. Slices are copied so callers cannot mutate it.
func Static(s Settings) Provider {
	return ProviderFunc(func(context.Context) (Settings, error) {
		out := s
		out.Servers = append([]string(nil), s.Servers...)
		out.Options.RootCAs = append([]string(nil), s.Options.RootCAs...)
		return out, nil
	})
}

// Duration is a time.Duration that unmarshals from a number of seconds
// (1.5) or a Go duration string ("1500ms").
type Duration time.Duration

// maxSeconds is the first number of seconds a time.Duration cannot hold.
const maxSeconds = float64(math.MaxInt64) / float64(time.Second)

// ParseDuration parses seconds ("0.25") or a Go duration ("250ms").
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		switch {
		case math.IsNaN(secs) || math.IsInf(secs, 0):
			return 0, fmt.Errorf("invalid duration %q", s)
		case secs < 0:
			return 0, fmt.Errorf("negative duration %q", s)
		case secs >= maxSeconds:
			return 0, fmt.Errorf("duration %q out of range", s)
		}
		return Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return Duration(d), nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case nil:
		*d = 0
	case float64:
		parsed, err := ParseDuration(strconv.FormatFloat(val, 'f', -1, 64))
		if err != nil {
			return err
		}
		*d = parsed
	case string:
		parsed, err := ParseDuration(val)
		if err != nil {
			return err
		}
		*d = parsed
	default:
		return fmt.Errorf("invalid duration %s", data)
	}
	return nil
}
