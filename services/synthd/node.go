package synthd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"synthvault/config"
	"synthvault/core/events"
	"synthvault/crypto"
	"synthvault/native/bank"
	nativecommon "synthvault/native/common"
	"synthvault/native/synth"
	"synthvault/observability/metrics"
	"synthvault/services/synthd/oracle"
	"synthvault/services/synthd/server"
	"synthvault/state/synthstate"
	"synthvault/storage"
	"synthvault/storage/journal"
)

// Node holds the assembled engine and its collaborators.
type Node struct {
	Engine     *synth.Engine
	Collateral *bank.Token
	Synthetic  *bank.Token
	Store      *synthstate.Store
	Journal    *journal.Journal
	Server     *server.Server

	closers []func()
}

// logEmitter writes every engine event to the structured log.
type logEmitter struct {
	logger *slog.Logger
}

func (l logEmitter) Emit(evt events.Event) {
	rendered := events.Render(evt)
	if rendered == nil {
		return
	}
	attrs := make([]any, 0, len(rendered.Attributes)+1)
	attrs = append(attrs, slog.String("type", rendered.Type))
	for key, value := range rendered.Attributes {
		attrs = append(attrs, slog.String(key, value))
	}
	l.logger.Info("synth event", attrs...)
}

// Build wires storage, tokens, feeds, engine and HTTP server from cfg.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.SynthMetrics, gatherer prometheus.Gatherer) (*Node, error) {
	if cfg == nil {
		return nil, errors.New("synthd: config required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("synthd: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	node := &Node{}
	ok := false
	defer func() {
		if !ok {
			node.Close()
		}
	}()

	db, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}
	node.closers = append(node.closers, db.Close)
	node.Store = synthstate.New(db)
	node.Collateral = bank.NewToken(cfg.Tokens.Collateral.Symbol, cfg.Tokens.Collateral.Decimals, db)
	node.Synthetic = bank.NewToken(cfg.Tokens.Synthetic.Symbol, cfg.Tokens.Synthetic.Decimals, db)

	moduleAddr := crypto.ModuleAddress("synth")
	if cfg.ModuleAccount != "" {
		if moduleAddr, err = crypto.DecodeAddress(cfg.ModuleAccount); err != nil {
			return nil, fmt.Errorf("module account: %w", err)
		}
	}
	engine, err := synth.NewEngine(moduleAddr, synth.Params{
		TargetRatioBps:      cfg.Params.TargetRatioBps,
		MinRatioBps:         cfg.Params.MinRatioBps,
		LiquidationBonusBps: cfg.Params.LiquidationBonusBps,
	})
	if err != nil {
		return nil, err
	}
	engine.SetState(node.Store)
	if err := engine.LoadState(); err != nil {
		return nil, fmt.Errorf("load engine state: %w", err)
	}
	engine.SetLogger(logger)
	engine.SetTokens(node.Collateral, node.Synthetic)
	engine.SetMaxPriceAge(cfg.Params.MaxPriceAge.Std())
	if len(cfg.PausedModules) > 0 {
		pauses := make(nativecommon.StaticPauses, len(cfg.PausedModules))
		for _, module := range cfg.PausedModules {
			pauses[module] = true
		}
		engine.SetPauses(pauses)
	}

	manual := make(map[synth.FeedKind]*oracle.ManualFeed)
	collateralFeed, err := node.openFeed(synth.FeedCollateral, cfg.Oracle.Collateral, manual)
	if err != nil {
		return nil, err
	}
	syntheticFeed, err := node.openFeed(synth.FeedSynthetic, cfg.Oracle.Synthetic, manual)
	if err != nil {
		return nil, err
	}
	if err := engine.SetPriceFeeds(ctx, collateralFeed, syntheticFeed); err != nil {
		return nil, err
	}

	admins := make([]crypto.Address, 0, len(cfg.Auth.Admins))
	for _, raw := range cfg.Auth.Admins {
		addr, err := crypto.DecodeAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("admin %q: %w", raw, err)
		}
		admins = append(admins, addr)
	}
	authorizer := synth.NewAllowList(admins...)
	engine.SetAuthorizer(authorizer)

	emitters := events.Fanout{logEmitter{logger: logger}}
	if cfg.JournalEnabled() {
		j, err := journal.Open(cfg.Journal.Driver, cfg.Journal.DSN, logger)
		if err != nil {
			return nil, err
		}
		node.Journal = j
		node.closers = append(node.closers, func() { _ = j.Close() })
		emitters = append(emitters, j)
	}
	engine.SetEmitter(emitters)
	node.Collateral.SetEmitter(emitters)
	node.Synthetic.SetEmitter(emitters)
	node.Engine = engine

	srvCfg := server.Config{
		Engine:     engine,
		Ledger:     node.Store,
		Feeds:      manual,
		Authorizer: authorizer,
		Auth: server.AuthConfig{
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		},
		RateLimit: cfg.RateLimit.RequestsPerSecond,
		Burst:     cfg.RateLimit.Burst,
		Metrics:   m,
		Gatherer:  gatherer,
		Logger:    logger,
	}
	if node.Journal != nil {
		srvCfg.Journal = node.Journal
	}
	srv, err := server.New(srvCfg)
	if err != nil {
		return nil, err
	}
	node.Server = srv
	ok = true
	return node, nil
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch cfg.Storage {
	case config.StorageLevelDB:
		db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
		if err != nil {
			return nil, fmt.Errorf("open leveldb: %w", err)
		}
		return db, nil
	default:
		return storage.NewMemDB(), nil
	}
}

func (n *Node) openFeed(kind synth.FeedKind, fc config.FeedConfig, manual map[synth.FeedKind]*oracle.ManualFeed) (synth.PriceSource, error) {
	switch fc.Kind {
	case config.FeedChainlink:
		client, err := oracle.DialRPC(fc.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%s feed: %w", kind, err)
		}
		n.closers = append(n.closers, client.Close)
		feed, err := oracle.NewChainlinkFeed(client, fc.Aggregator)
		if err != nil {
			return nil, fmt.Errorf("%s feed: %w", kind, err)
		}
		return feed, nil
	default:
		feed := oracle.NewManualFeed(fc.ID, fc.Decimals)
		if fc.InitialPrice != "" {
			if err := feed.PublishString(fc.InitialPrice); err != nil {
				return nil, fmt.Errorf("%s feed: %w", kind, err)
			}
		}
		manual[kind] = feed
		return feed, nil
	}
}

// Close releases storage, journal and RPC handles in reverse order.
func (n *Node) Close() {
	for i := len(n.closers) - 1; i >= 0; i-- {
		n.closers[i]()
	}
	n.closers = nil
}
