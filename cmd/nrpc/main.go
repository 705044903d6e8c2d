// Nrpc calls remote methods over NATS from the shell.
//
//	nrpc [flags] request <namespace> <method> [args...]
//	nrpc [flags] publish [-durable] <namespace> <method> [args...]
//
// Arguments of the form key=value become keyword arguments, the rest are
// positional. Values are parsed as JSON when they are valid JSON and passed
// as strings otherwise. Settings come from the NATS_* environment variables,
// an etcd document (-etcd-key) or the etcd server registry (-discover), and
// are then overridden by flags.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"nats-rpc/client"
	"nats-rpc/config"
	"nats-rpc/loadbalance"
	"nats-rpc/message"
	"nats-rpc/middleware"
	"nats-rpc/registry"
)

// nrpc -servers nats://localhost:4222 request orders get_status A1
// nrpc -timeout 0.5 request orders get order_id=42
// nrpc publish -durable events order_created order_id=42

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type flags struct {
	servers   string
	timeout   string
	codec     string
	raw       bool
	qualified bool
	verbose   bool
	etcd      string
	etcdKey   string
	discover  string
}

func run(args []string, stdout, stderr io.Writer) int {
	var f flags
	fs := flag.NewFlagSet("nrpc", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.servers, "servers", "", "comma separated NATS server urls (default $NATS_SERVER / $NATS_SERVERS)")
	fs.StringVar(&f.timeout, "timeout", "", "request timeout, seconds or Go duration (default 1s)")
	fs.StringVar(&f.codec, "codec", "", "envelope codec: json or json+zstd")
	fs.BoolVar(&f.raw, "raw", false, "print the response envelope instead of the result")
	fs.BoolVar(&f.qualified, "qualified", false, "namespace is the full subject")
	fs.BoolVar(&f.verbose, "v", false, "log every call")
	fs.StringVar(&f.etcd, "etcd", "", "comma separated etcd endpoints")
	fs.StringVar(&f.etcdKey, "etcd-key", "", "etcd key holding a JSON settings document")
	fs.StringVar(&f.discover, "discover", "", "etcd registry service listing the NATS servers")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: nrpc [flags] request <namespace> <method> [args...]")
		fmt.Fprintln(stderr, "       nrpc [flags] publish [-durable] <namespace> <method> [args...]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return 2
	}
	cmd, rest := rest[0], rest[1:]

	durable := false
	if cmd == "publish" {
		pfs := flag.NewFlagSet("publish", flag.ContinueOnError)
		pfs.SetOutput(stderr)
		pfs.BoolVar(&durable, "durable", false, "publish through JetStream")
		if err := pfs.Parse(rest); err != nil {
			return 2
		}
		rest = pfs.Args()
	}
	if (cmd != "request" && cmd != "publish") || len(rest) < 2 {
		fs.Usage()
		return 2
	}
	namespace, method := rest[0], rest[1]
	callArgs, err := parseArgs(rest[2:])
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	logger := zap.NewNop()
	if f.verbose {
		if logger, err = zap.NewDevelopment(); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		defer logger.Sync()
	}

	provider, closeFn, err := f.provider()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer closeFn()

	cli := client.New(provider, client.WithLogger(logger), client.WithMiddleware(middleware.RequestID()))
	ctx := context.Background()

	switch {
	case cmd == "publish" && durable:
		err = cli.PublishDurable(ctx, namespace, method, callArgs)
	case cmd == "publish":
		err = cli.Publish(ctx, namespace, method, callArgs)
	case f.raw:
		resp, rerr := cli.RequestRaw(ctx, namespace, method, callArgs)
		if err = rerr; err == nil {
			err = printJSON(stdout, resp)
		}
	default:
		result, rerr := cli.Request(ctx, namespace, method, callArgs)
		if err = rerr; err == nil {
			err = printJSON(stdout, result)
		}
	}
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

// provider builds the settings source: environment, optionally replaced by an
// etcd document and a discovered server list, then the flag overrides.
func (f flags) provider() (config.Provider, func(), error) {
	var p config.Provider = config.FromEnv()
	closeFn := func() {}

	if f.etcd != "" {
		reg, err := registry.NewEtcdRegistry(splitList(f.etcd))
		if err != nil {
			return nil, nil, fmt.Errorf("etcd: %w", err)
		}
		closeFn = func() { reg.Close() }
		if f.etcdKey != "" {
			p = config.Etcd(reg.Client(), f.etcdKey)
		}
		if f.discover != "" {
			p = config.Discovery(p, reg, loadbalance.NewConsistentHashBalancer(), f.discover)
		}
	} else if f.etcdKey != "" || f.discover != "" {
		return nil, nil, errors.New("-etcd-key and -discover need -etcd")
	}

	var timeout config.Duration
	if f.timeout != "" {
		d, err := config.ParseDuration(f.timeout)
		if err != nil {
			return nil, nil, fmt.Errorf("-timeout: %w", err)
		}
		timeout = d
	}

	base := p
	p = config.ProviderFunc(func(ctx context.Context) (config.Settings, error) {
		s, err := base.Load(ctx)
		if err != nil {
			return s, err
		}
		if f.servers != "" {
			s.Server = ""
			s.Servers = splitList(f.servers)
		}
		if timeout > 0 {
			s.RequestTimeout = timeout
		}
		if f.codec != "" {
			s.Codec = f.codec
		}
		if f.qualified {
			s.SubjectStyle = "qualified"
		}
		if s.Options.Name == "" {
			s.Options.Name = "nrpc"
		}
		return s, nil
	})
	return p, closeFn, nil
}

var keyword = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)

// parseArgs turns command line words into call arguments.
func parseArgs(words []string) (message.Args, error) {
	var args message.Args
	for _, w := range words {
		if keyword.MatchString(w) {
			k, v, _ := strings.Cut(w, "=")
			if _, dup := args.Keyword[k]; dup {
				return message.Args{}, fmt.Errorf("duplicate keyword argument %q", k)
			}
			args = args.With(k, parseValue(v))
			continue
		}
		args.Positional = append(args.Positional, parseValue(w))
	}
	return args, nil
}

func parseValue(s string) any {
	if json.Valid([]byte(s)) {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v
		}
	}
	return s
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
