package main

import (
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	stellarconnect "github.com/marwen-abid/anchor-remit-go"
	"github.com/marwen-abid/anchor-remit-go/config"
	"github.com/marwen-abid/anchor-remit-go/core/logging"
	"github.com/marwen-abid/anchor-remit-go/core/net"
	"github.com/marwen-abid/anchor-remit-go/core/toml"
	"github.com/marwen-abid/anchor-remit-go/errors"
	"github.com/marwen-abid/anchor-remit-go/sdk"
	"github.com/marwen-abid/anchor-remit-go/signers"
)

// app carries what every command needs once flags and config are loaded.
type app struct {
	cfgFile string
	jsonOut bool
	yamlOut bool

	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	client   *sdk.Client

	out    io.Writer
	errOut io.Writer
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "anchorctl",
		Short: "Send cross-border payments through Stellar anchors",
		Long: `anchorctl discovers a Stellar anchor from its stellar.toml, authenticates
with SEP-10, asks for a SEP-38 quote and initiates a SEP-31 payment.

Examples:
  anchorctl resolve testanchor.stellar.org
  anchorctl quote testanchor.stellar.org --sell iso4217:USD --buy stellar:USDC:G... --amount 100 --sell-method WIRE
  anchorctl send testanchor.stellar.org --amount 100 --sell iso4217:USD --buy stellar:USDC:G... \
    --sender-id 1b2c --receiver-id 9f3e --field routing_number=121000358 --field account_number=000123456789 --watch
  anchorctl status testanchor.stellar.org 5c3e... --watch`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "Config file (default $HOME/.anchorctl.yaml)")
	flags.BoolVarP(&a.jsonOut, "json", "j", false, "Output in JSON format")
	flags.BoolVar(&a.yamlOut, "yaml", false, "Output in YAML format")
	flags.String("network", "", "testnet, public or a raw network passphrase")
	flags.String("log-level", "", "Log level: debug, info, warn or error")

	root.AddCommand(
		newResolveCmd(a),
		newAuthCmd(a),
		newQuoteCmd(a),
		newSendCmd(a),
		newStatusCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	a.out = cmd.OutOrStdout()
	a.errOut = cmd.ErrOrStderr()
	if a.jsonOut && a.yamlOut {
		return errors.New(errors.StageClient, errors.CONFIG_INVALID, "--json and --yaml are mutually exclusive", nil)
	}

	v := viper.New()
	flags := cmd.Root().PersistentFlags()
	for key, flag := range map[string]string{"network": "network", "log_level": "log-level"} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return err
		}
	}
	cfg, err := config.Load(v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.New(a.errOut, cfg.LogFormat, logging.ParseLevel(cfg.LogLevel))

	a.registry = prometheus.NewRegistry()
	httpClient := net.NewClient(
		net.WithTimeout(cfg.Timeout),
		net.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
		net.WithCircuitBreaker(5, 30*time.Second),
		net.WithMetrics(net.NewMetrics(a.registry)),
		net.WithLogger(a.logger),
	)
	resolver := toml.NewResolver(httpClient,
		toml.WithCacheTTL(cfg.CacheTTL),
		toml.WithScheme(cfg.Scheme),
		toml.WithLogger(a.logger),
	)
	a.client = sdk.NewClient(cfg.NetworkPassphrase(),
		sdk.WithHTTPClient(httpClient),
		sdk.WithResolver(resolver),
		sdk.WithLogger(a.logger),
		sdk.WithMetrics(sdk.NewMetrics(a.registry)),
		sdk.WithStageRetries(cfg.MaxRetries, cfg.RetryBackoff),
	)

	if cfg.MetricsAddr != "" {
		a.serveMetrics(cfg.MetricsAddr)
	}
	return nil
}

// serveMetrics exposes the registry for the lifetime of the process.
func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", addr)
}

func (a *app) signer() (stellarconnect.Signer, error) {
	if a.cfg.Secret == "" {
		return nil, errors.New(errors.StageClient, errors.CONFIG_INVALID,
			"no signing secret configured (set ANCHORCTL_SECRET or secret in the config file)", nil)
	}
	return signers.FromSecret(a.cfg.Secret)
}

func (a *app) machineOutput() bool {
	return a.jsonOut || a.yamlOut
}

func printError(w io.Writer, err error) {
	var sc *errors.StellarConnectError
	if errors.As(err, &sc) {
		fmt.Fprintf(w, "\n%s %s\n", color.RedString("Error [%s/%s]:", sc.Stage, sc.Code), sc.Message)
		if missing := errors.MissingFields(err); len(missing) > 0 {
			fmt.Fprintf(w, "  missing fields: %v\n", missing)
		}
		if cause := sc.Unwrap(); cause != nil {
			fmt.Fprintf(w, "  caused by: %v\n", cause)
		}
		fmt.Fprintln(w)
		return
	}
	fmt.Fprintf(w, "\nError: %v\n\n", err)
}
