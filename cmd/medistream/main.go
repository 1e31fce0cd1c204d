// Package main is the medistream command-line client. It submits a consultation or
// asks for a business idea and prints the streamed Markdown as it arrives.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/nghyane/medistream/internal/config"
	"github.com/nghyane/medistream/internal/credential"
	"github.com/nghyane/medistream/internal/display"
	"github.com/nghyane/medistream/internal/forms"
	"github.com/nghyane/medistream/internal/json"
	log "github.com/nghyane/medistream/internal/logging"
	"github.com/nghyane/medistream/internal/stream"
	"github.com/nghyane/medistream/internal/token"
	"github.com/nghyane/medistream/internal/util"
)

var (
	Version           = "dev"
	DefaultConfigPath = "$XDG_CONFIG_HOME/medistream/config.yaml"
)

const usageText = `Usage:
  medistream [flags] consultation [name=value ...]
  medistream [flags] idea
  medistream [flags] decode [token]

Missing form fields are reported as validation errors, which are retried like any
other failed stream. --max-retries 1 limits the form to a single resend.

Flags:
`

func init() {
	log.SetupBaseLogger()
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	configPath string
	endpoint   string
	token      string
	fieldsFile string
	maxRetries int
	debug      bool
	version    bool
}

func run(args []string, stdout, stderr io.Writer) int {
	var opts options
	fs := flag.NewFlagSet("medistream", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", DefaultConfigPath, "Configure File Path")
	fs.StringVar(&opts.endpoint, "endpoint", "", "API base URL (overrides client.endpoint)")
	fs.StringVar(&opts.token, "token", "", "Bearer token (overrides client.token)")
	fs.StringVarP(&opts.fieldsFile, "fields", "f", "", "JSON or JSONC file with form fields")
	fs.IntVar(&opts.maxRetries, "max-retries", -1, "Reconnect attempts after a failed stream, 0 for unlimited")
	fs.BoolVar(&opts.debug, "debug", false, "Log debug output to stderr")
	fs.BoolVar(&opts.version, "version", false, "Print the version and exit")
	fs.Usage = func() {
		fmt.Fprint(stderr, usageText)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if opts.version {
		fmt.Fprintf(stdout, "medistream %s\n", Version)
		return 0
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return 2
	}

	if errLoad := godotenv.Load(".env"); errLoad != nil && !errors.Is(errLoad, os.ErrNotExist) {
		log.WithError(errLoad).Warn("failed to load .env file")
	}

	cfg, err := loadClientConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	log.SetOutput(stderr)
	util.SetLogLevel(cfg)

	switch rest[0] {
	case "decode":
		return runDecode(rest[1:], cfg, stdout, stderr)
	case "consultation", "idea":
		req, errReq := buildRequest(rest[0], rest[1:], opts.fieldsFile, cfg.Client.Endpoint)
		if errReq != nil {
			fmt.Fprintf(stderr, "error: %v\n", errReq)
			return 2
		}
		return runStream(cfg, req, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "error: unknown command %q\n", rest[0])
		fs.Usage()
		return 2
	}
}

func loadClientConfig(opts options) (*config.Config, error) {
	path, err := config.ExpandPath(opts.configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfigOptional(path, true)
	if err != nil {
		return nil, err
	}
	if opts.endpoint != "" {
		cfg.Client.Endpoint = opts.endpoint
	}
	if opts.token != "" {
		cfg.Client.Token = opts.token
	}
	if opts.maxRetries >= 0 {
		cfg.Client.MaxRetries = opts.maxRetries
	}
	if opts.debug {
		cfg.Debug = true
	}
	return cfg, nil
}

// buildRequest turns a command and its name=value arguments into a stream request.
// Fields from the file come first; arguments override them.
func buildRequest(command string, args []string, fieldsFile, endpoint string) (stream.Request, error) {
	base := strings.TrimRight(endpoint, "/")
	if base == "" {
		base = config.DefaultEndpoint
	}
	if command == "idea" {
		if len(args) > 0 {
			return stream.Request{}, fmt.Errorf("idea takes no arguments")
		}
		return stream.Request{URL: base + "/idea"}, nil
	}

	var fromFile []forms.Field
	if fieldsFile != "" {
		var err error
		if fromFile, err = forms.LoadFields(fieldsFile); err != nil {
			return stream.Request{}, err
		}
	}
	fromArgs, err := forms.ParseAssignments(args)
	if err != nil {
		return stream.Request{}, err
	}
	fields := forms.Merge(forms.Visit{}.Fields(), fromFile, fromArgs)
	body, err := forms.Body(fields)
	if err != nil {
		return stream.Request{}, err
	}
	return stream.Request{URL: base, Body: body}, nil
}

// credentialChain tries the explicit token, then the token environment variable,
// then the OAuth flow when one is configured.
func credentialChain(cfg *config.Config) credential.Chain {
	chain := credential.Chain{
		credential.Static(cfg.Client.Token),
		credential.Env(cfg.Client.TokenEnv),
	}
	if cfg.Client.OAuth.Enabled() {
		client := util.NewHTTPClient(cfg.ProxyURL, 30*time.Second)
		chain = append(chain, credential.NewOAuth2(context.Background(), cfg.Client.OAuth, client))
	}
	return chain
}

func runStream(cfg *config.Config, req stream.Request, stdout, stderr io.Writer) int {
	retryInterval := time.Duration(cfg.Client.RetryIntervalMs) * time.Millisecond
	if retryInterval <= 0 {
		retryInterval = stream.DefaultRetryInterval
	}
	transport := stream.NewHTTPTransport(cfg.ProxyURL, retryInterval, cfg.Client.MaxRetries)
	transport.UserAgent = "medistream-cli/" + Version
	terminal := display.NewTerminal(stdout, stderr)
	consumer := stream.NewConsumer(credential.NewCached(credentialChain(cfg)), transport, terminal)

	session, err := consumer.Submit(context.Background(), req)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	log.WithField("session", session.ID()).Debugf("submitted %s", req.URL)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			session.Cancel()
		case <-session.Done():
		}
	}()

	err = session.Wait(context.Background())
	if buf := session.Buffer(); buf != "" && !strings.HasSuffix(buf, "\n") {
		fmt.Fprintln(stdout)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	var f *stream.Failure
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return 130
	case errors.As(err, &f) && (f.Kind == stream.AuthRequired || f.Kind == stream.AuthError):
		return 3
	case errors.As(err, &f) && f.Kind == stream.ValidationError:
		return 4
	default:
		return 1
	}
}

// runDecode prints the header and payload of a token without verifying it. With no
// argument the configured credential is decoded, expired or not.
func runDecode(args []string, cfg *config.Config, stdout, stderr io.Writer) int {
	var raw string
	switch len(args) {
	case 0:
		cred, err := credentialChain(cfg).Credential(context.Background())
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		raw = cred
	case 1:
		raw = args[0]
		if raw == "-" {
			data, err := io.ReadAll(io.LimitReader(os.Stdin, 1<<20))
			if err != nil {
				fmt.Fprintf(stderr, "error: %v\n", err)
				return 1
			}
			raw = strings.TrimSpace(string(data))
		}
	default:
		fmt.Fprintln(stderr, "error: decode takes at most one token")
		return 2
	}

	decoded, err := token.Decode(raw)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	out := map[string]any{
		"header":  decoded.Header.Raw,
		"payload": decoded.Payload.Raw,
	}
	if exp := decoded.Payload.ExpiresAt(); !exp.IsZero() {
		out["expired"] = decoded.Payload.Expired(time.Now())
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err = enc.Encode(out); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
