// Command txflow quotes and confirms a single transaction against the
// backend. The PIN is read from stdin.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"txflow/pkg/api"
	"txflow/pkg/backend"
	"txflow/pkg/balance"
	"txflow/pkg/beneficiary"
	"txflow/pkg/cache"
	"txflow/pkg/cache/memory"
	"txflow/pkg/cache/redis"
	"txflow/pkg/chain"
	"txflow/pkg/config"
	"txflow/pkg/gate"
	"txflow/pkg/logging"
	"txflow/pkg/metrics"
	metricsmemory "txflow/pkg/metrics/memory"
	prommetrics "txflow/pkg/metrics/prometheus"
	"txflow/pkg/quote"
	"txflow/pkg/workflow"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type options struct {
	configPath string
	category   string
	provider   string
	plan       string
	amount     string
	account    string
	currency   string
	name       string
	save       bool
	plans      bool
	serve      bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("txflow", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "path to YAML config file")
	fs.StringVar(&o.category, "category", "airtime", "transaction category")
	fs.StringVar(&o.provider, "provider", "", "provider id")
	fs.StringVar(&o.plan, "plan", "", "plan id for plan-based categories")
	fs.StringVar(&o.amount, "amount", "", "amount for amount-based categories")
	fs.StringVar(&o.account, "account", "", "destination account, phone or meter number")
	fs.StringVar(&o.currency, "currency", "", "currency, defaults to the category's")
	fs.StringVar(&o.name, "name", "", "beneficiary name when saving")
	fs.BoolVar(&o.save, "save", false, "save the destination as a beneficiary after success")
	fs.BoolVar(&o.plans, "plans", false, "list the provider's plans and exit")
	fs.BoolVar(&o.serve, "serve", false, "keep the status server running after the transaction")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	return o, nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "txflow:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var mc metrics.MetricsCollector
	var serverOpts []api.Option
	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		pc := prommetrics.NewPrometheusCollector(cfg.Metrics.Namespace)
		if err := pc.Register(registry); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		mc = pc
		serverOpts = append(serverOpts, api.WithGatherer(registry))
	} else {
		memc := metricsmemory.NewMemoryCollector()
		mc = memc
		serverOpts = append(serverOpts, api.WithMemoryMetrics(memc))
	}

	layers := []cache.CacheLayer{memory.NewMemoryCache(cfg.Cache.Memory)}
	if cfg.Cache.Redis.Enabled {
		l2, err := redis.NewRedisCache(cfg.Cache.Redis.RedisCacheConfig)
		if err != nil {
			// The chain works without its shared layer.
			logger.Warn("redis layer disabled", zap.Error(err))
		} else {
			layers = append(layers, l2)
		}
	}
	c, err := chain.New(chain.Config{TTL: cfg.Cache.TTL, TTLStrategy: cfg.Cache.TTLStrategy(), Metrics: mc}, layers...)
	if err != nil {
		return err
	}
	defer c.Close()

	client, err := backend.NewClient(backend.Config{
		BaseURL:              cfg.Backend.BaseURL,
		Tokens:               backend.StaticToken(cfg.Backend.Token),
		OnUnauthorized:       func(context.Context) { logger.Error("backend rejected the token; sign in again") },
		Resilience:           cfg.Backend.Resilience,
		ReadRetries:          cfg.Backend.ReadRetries,
		RetryInitialInterval: cfg.Backend.RetryInitialInterval,
		Metrics:              mc,
	})
	if err != nil {
		return err
	}

	resolver := quote.NewResolver(client, cfg.QuoteCategories(), mc).WithCache(c)
	guard := balance.NewGuard(c, client)
	flow := workflow.New(workflow.Deps{
		Resolver:  resolver,
		Gate:      gate.New(client, mc),
		Guard:     guard,
		Directory: beneficiary.NewDirectory(client, c, mc),
		Metrics:   mc,
	})
	defer flow.Close()

	if cfg.Metrics.Enabled || opts.serve {
		serverOpts = append(serverOpts, api.WithBreaker(client.Breaker()), api.WithGuard(guard))
		srv := api.NewServer(c, cfg.Metrics.Server, serverOpts...)
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Stop(shutdownCtx)
		}()
	}

	if opts.plans {
		return printPlans(ctx, resolver, opts)
	}

	if err := transact(ctx, flow, resolver, opts, os.Stdin); err != nil {
		fmt.Fprintln(os.Stderr, workflow.UserMessage(err))
		logger.Debug("transaction failed", zap.String("outcome", workflow.Classify(err)), zap.Error(err))
		return errors.New("transaction not completed")
	}

	if opts.serve {
		fmt.Fprintln(os.Stderr, "serving status on", cfg.Metrics.Server.Address, "- press Ctrl+C to stop")
		<-ctx.Done()
	}
	return nil
}

func printPlans(ctx context.Context, r *quote.Resolver, opts options) error {
	plans, err := r.Plans(ctx, opts.category, opts.provider)
	if err != nil {
		return errors.New(workflow.UserMessage(err))
	}
	for _, p := range plans {
		fmt.Printf("%-12s %-32s %12s  %s\n", p.ID, p.Name, p.Amount.StringFixed(2), p.Validity)
	}
	return nil
}

func intentFrom(opts options) (quote.Intent, error) {
	in := quote.Intent{
		Category:      opts.category,
		ProviderID:    opts.provider,
		PlanID:        opts.plan,
		AccountNumber: opts.account,
		Currency:      opts.currency,
		Name:          opts.name,
	}
	if opts.amount != "" {
		amount, err := decimal.NewFromString(opts.amount)
		if err != nil {
			return in, fmt.Errorf("invalid amount %q", opts.amount)
		}
		in.Amount = amount
	}
	return in, nil
}

func transact(ctx context.Context, flow *workflow.Flow, r *quote.Resolver, opts options, stdin *os.File) error {
	in, err := intentFrom(opts)
	if err != nil {
		return err
	}
	if cat, ok := r.Category(in.Category); ok && cat.Kind == quote.PlanBased {
		// Plan ids are checked against the provider's catalog.
		if _, err := r.Plans(ctx, in.Category, in.ProviderID); err != nil {
			return err
		}
	}

	s, err := flow.Quote(ctx, in)
	if err != nil {
		return err
	}

	v := s.View()
	fmt.Fprintf(os.Stderr, "Reference %s: %s %s + fee %s = %s %s\n",
		v.Reference, v.Amount.StringFixed(2), v.Currency, v.Fee.StringFixed(2), v.TotalAmount.StringFixed(2), v.Currency)
	fmt.Fprint(os.Stderr, "Enter PIN: ")

	line, err := bufio.NewReader(stdin).ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return fmt.Errorf("read PIN: %w", err)
	}
	rec, err := flow.Confirm(ctx, gate.PINBytes(bytes.TrimSpace(line)))
	for i := range line {
		line[i] = 0
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return err
	}

	if !opts.save {
		return nil
	}
	offer, err := flow.OfferSave(ctx)
	if err != nil || !offer {
		return err
	}
	b, err := flow.SaveBeneficiary(ctx, opts.name)
	if err != nil {
		if errors.Is(err, beneficiary.ErrAlreadySaved) {
			return nil
		}
		logging.L().Warn("beneficiary not saved", zap.Error(err))
		return nil
	}
	fmt.Fprintf(os.Stderr, "Saved %s as a beneficiary.\n", b.Name)
	return nil
}
