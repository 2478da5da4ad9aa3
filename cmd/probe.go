// cmd/probe.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/pageharness/internal/browser"
	"github.com/xkilldash9x/pageharness/internal/browser/cdp"
	"github.com/xkilldash9x/pageharness/internal/browser/htmldoc"
	"github.com/xkilldash9x/pageharness/internal/config"
	"github.com/xkilldash9x/pageharness/internal/harness"
	"github.com/xkilldash9x/pageharness/internal/locator"
	"github.com/xkilldash9x/pageharness/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// newProvider picks the session backend. Replaced in tests.
var newProvider = func(driver string, logger *zap.Logger) (browser.Provider, error) {
	switch strings.ToLower(driver) {
	case "chrome", "cdp":
		return &cdp.Provider{Logger: logger}, nil
	case "static", "html":
		return &htmldoc.Provider{Logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown driver %q (want chrome or static)", driver)
	}
}

type probeOptions struct {
	driver       string
	wait         locator.Locator
	click        locator.Locator
	expectURL    string
	modalContext string
	always       bool
	concurrency  int
	launchRate   float64
	format       string
}

// probeResult is one line of probe output.
type probeResult struct {
	URL       string `json:"url"`
	FinalURL  string `json:"final_url,omitempty"`
	Modal     string `json:"modal"`
	ModalRule string `json:"modal_rule,omitempty"`
	Artifact  string `json:"artifact,omitempty"`
	Error     string `json:"error,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

func newProbeCmd() *cobra.Command {
	probeCmd := &cobra.Command{
		Use:   "probe [urls...]",
		Short: "Open pages, dismiss modals and check that they become ready",
		Long: `Opens every URL in its own browser session, dismisses at most one modal,
waits for the --wait locator and optionally clicks --click. An artifact is
captured for every failed probe (or for every probe with --capture).

Locators use "strategy=value", with " | " separating fallbacks:
  pageharness probe https://shop.test --wait "id=search | css=input[name=q]"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			if err := applyProbeOverrides(cmd, cfg); err != nil {
				return err
			}
			opts, err := probeOptionsFromFlags(cmd)
			if err != nil {
				return err
			}

			logger := observability.GetLogger().Named("probe")
			provider, err := newProvider(opts.driver, logger)
			if err != nil {
				return err
			}

			results := runProbes(cmd.Context(), provider, cfg, args, opts, logger)
			if err := writeResults(cmd.OutOrStdout(), results, opts.format); err != nil {
				return err
			}

			failed := 0
			for _, r := range results {
				if r.Error != "" {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d probes failed", failed, len(results))
			}
			return cmd.Context().Err()
		},
	}

	probeCmd.Flags().String("driver", "chrome", "Session backend: 'chrome' or 'static' (HTML only, no JavaScript).")
	probeCmd.Flags().String("wait", "", "Locator that marks the page as ready.")
	probeCmd.Flags().String("click", "", "Locator to click once the page is ready.")
	probeCmd.Flags().String("expect-url", "", "Substring the URL must contain after the click.")
	probeCmd.Flags().String("modal-context", config.DefaultModalContext, "Modal rule set to apply.")
	probeCmd.Flags().Bool("capture", false, "Capture an artifact for every probe, not only failures.")
	probeCmd.Flags().IntP("concurrency", "j", 2, "Number of sessions to run at once.")
	probeCmd.Flags().Float64("launch-rate", 0, "Maximum sessions started per second (0 = unlimited).")
	probeCmd.Flags().StringP("format", "f", "text", "Output format: 'text' or 'json'.")

	// Configuration overrides.
	probeCmd.Flags().Bool("headless", false, "Run the browser headless. (Overrides config/env)")
	probeCmd.Flags().String("device", "", "Device emulation preset. (Overrides config/env)")
	probeCmd.Flags().Duration("timeout", 0, "Default wait timeout. (Overrides config/env)")
	probeCmd.Flags().String("capture-dir", "", "Artifact directory. (Overrides config/env)")

	return probeCmd
}

// applyProbeOverrides copies explicitly set flags onto cfg and revalidates it.
func applyProbeOverrides(cmd *cobra.Command, cfg config.Interface) error {
	flags := cmd.Flags()
	if flags.Changed("headless") {
		v, _ := flags.GetBool("headless")
		cfg.SetBrowserHeadless(v)
	}
	if flags.Changed("device") {
		v, _ := flags.GetString("device")
		cfg.SetBrowserDevice(v)
	}
	if flags.Changed("timeout") {
		v, _ := flags.GetDuration("timeout")
		cfg.SetWaitTimeout(v)
	}
	if flags.Changed("capture-dir") {
		v, _ := flags.GetString("capture-dir")
		cfg.SetCaptureDir(v)
	}
	if err := cfg.Wait().Validate(); err != nil {
		return fmt.Errorf("invalid --timeout: %w", err)
	}
	return nil
}

func probeOptionsFromFlags(cmd *cobra.Command) (probeOptions, error) {
	flags := cmd.Flags()
	var o probeOptions
	o.driver, _ = flags.GetString("driver")
	o.expectURL, _ = flags.GetString("expect-url")
	o.modalContext, _ = flags.GetString("modal-context")
	o.always, _ = flags.GetBool("capture")
	o.concurrency, _ = flags.GetInt("concurrency")
	o.launchRate, _ = flags.GetFloat64("launch-rate")
	o.format, _ = flags.GetString("format")

	if o.concurrency < 1 {
		return o, fmt.Errorf("--concurrency must be at least 1, got %d", o.concurrency)
	}
	if o.launchRate < 0 {
		return o, fmt.Errorf("--launch-rate must not be negative, got %v", o.launchRate)
	}
	if o.format != "text" && o.format != "json" {
		return o, fmt.Errorf("unsupported --format %q", o.format)
	}

	var err error
	if raw, _ := flags.GetString("wait"); raw != "" {
		if o.wait, err = locator.Parse(raw); err != nil {
			return o, fmt.Errorf("invalid --wait: %w", err)
		}
	}
	if raw, _ := flags.GetString("click"); raw != "" {
		if o.click, err = locator.Parse(raw); err != nil {
			return o, fmt.Errorf("invalid --click: %w", err)
		}
	}
	return o, nil
}

// runProbes opens one session per target, at most o.concurrency at a time
// and no faster than o.launchRate per second. Results keep the order of
// targets. A failing probe does not stop the others.
func runProbes(ctx context.Context, provider browser.Provider, cfg config.Interface, targets []string, o probeOptions, logger *zap.Logger) []probeResult {
	results := make([]probeResult, len(targets))
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	limit := rate.Inf
	if o.launchRate > 0 {
		limit = rate.Limit(o.launchRate)
	}
	launches := rate.NewLimiter(limit, 1)

	for i, target := range targets {
		if groupCtx.Err() != nil {
			results[i] = probeResult{URL: target, Error: groupCtx.Err().Error()}
			continue
		}
		g.Go(func() error {
			results[i] = probeOne(groupCtx, launches, provider, cfg, target, o, logger)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func probeOne(ctx context.Context, launches *rate.Limiter, provider browser.Provider, cfg config.Interface, target string, o probeOptions, logger *zap.Logger) (res probeResult) {
	start := time.Now()
	res.URL = target
	defer func() { res.ElapsedMs = time.Since(start).Milliseconds() }()

	if err := launches.Wait(ctx); err != nil {
		res.Error = err.Error()
		return res
	}

	env, err := harness.Open(ctx, provider, cfg,
		harness.WithLogger(logger.With(zap.String("target", target))),
		harness.WithModalContext(o.modalContext))
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer func() {
		if err := env.Close(); err != nil {
			env.Logger.Warn("Failed to close session.", zap.Error(err))
		}
	}()

	err = drive(ctx, env, target, o, &res)
	if err != nil {
		res.Error = err.Error()
		env.Logger.Warn("Probe failed.", zap.Error(err))
	}
	if env.Capturer != nil && (err != nil || o.always) {
		art := env.Capturer.Capture(ctx, artifactName(target))
		res.Artifact = art.Path
	}
	finalURL, err := env.Actions.CurrentURL(context.WithoutCancel(ctx))
	if err != nil {
		env.Logger.Warn("Failed to read final URL.", zap.Error(err))
		return res
	}
	res.FinalURL = finalURL
	return res
}

func drive(ctx context.Context, env *harness.Env, target string, o probeOptions, res *probeResult) error {
	modalRes, err := env.Page.Open(ctx, target, o.wait)
	res.Modal = modalRes.Status.String()
	if modalRes.Rule != nil {
		res.ModalRule = modalRes.Rule.Name
	}
	if err != nil {
		return err
	}
	if !o.click.IsZero() {
		if err := env.Actions.Click(ctx, o.click); err != nil {
			return err
		}
	}
	if o.expectURL != "" {
		if _, err := env.Actions.WaitForURLContains(ctx, o.expectURL); err != nil {
			return err
		}
	}
	return nil
}

// artifactName derives "probe_<host><path>" from target.
func artifactName(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return "probe_" + target
	}
	return "probe_" + u.Host + strings.TrimRight(u.Path, "/")
}

func writeResults(w io.Writer, results []probeResult, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		for _, r := range results {
			if err := enc.Encode(r); err != nil {
				return fmt.Errorf("failed to encode result: %w", err)
			}
		}
		return nil
	}

	for _, r := range results {
		status := "OK  "
		if r.Error != "" {
			status = "FAIL"
		}
		line := fmt.Sprintf("%s %s modal=%s", status, r.URL, r.Modal)
		if r.ModalRule != "" {
			line += "(" + r.ModalRule + ")"
		}
		if r.FinalURL != "" && r.FinalURL != r.URL {
			line += " final=" + r.FinalURL
		}
		line += fmt.Sprintf(" elapsed=%dms", r.ElapsedMs)
		if r.Artifact != "" {
			line += " artifact=" + r.Artifact
		}
		if r.Error != "" {
			line += "\n     " + r.Error
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
