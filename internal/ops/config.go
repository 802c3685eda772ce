// Package ops loads the trader configuration from a JSON or YAML file and
// the HFT_* environment.
package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"hftcore/internal/cache"
	"hftcore/internal/core"
	"hftcore/internal/data"
	"hftcore/internal/exec"
	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/internal/reconcile"
	"hftcore/internal/recorder"
	"hftcore/internal/risk"
	"hftcore/internal/sandbox"
	"hftcore/pkg/conn"
	"hftcore/pkg/exception"
)

const envPrefix = "HFT_"

// FileConfig mirrors the config file layout.
type FileConfig struct {
	Trader      TraderConfig       `json:"trader" yaml:"trader"`
	Data        data.Config        `json:"data" yaml:"data"`
	Exec        exec.Config        `json:"exec" yaml:"exec"`
	Risk        risk.Config        `json:"risk" yaml:"risk"`
	Cache       cache.Config       `json:"cache" yaml:"cache"`
	Reconcile   reconcile.Config   `json:"reconcile" yaml:"reconcile"`
	Database    DatabaseConfig     `json:"database" yaml:"database"`
	Journal     recorder.Config    `json:"journal" yaml:"journal"`
	Pyroscope   PyroscopeConfig    `json:"pyroscope" yaml:"pyroscope"`
	Instruments []InstrumentConfig `json:"instruments" yaml:"instruments"`
	Venues      []VenueConfig      `json:"venues" yaml:"venues"`
	Features    FeatureFlagsConfig `json:"features" yaml:"features"`
}

type TraderConfig struct {
	ID         model.TraderID `json:"id" yaml:"id"`
	InstanceID string         `json:"instance_id" yaml:"instance_id"`
	Name       string         `json:"name" yaml:"name"`
	QueueSize  int            `json:"queue_size" yaml:"queue_size"`
}

// DatabaseConfig selects the cache backend. An empty type keeps the cache
// in memory.
type DatabaseConfig struct {
	Type     string      `json:"type" yaml:"type"`
	Path     string      `json:"path" yaml:"path"`
	Postgres conn.Option `json:"postgres" yaml:"postgres"`
}

const (
	DatabaseMemory   = "memory"
	DatabasePebble   = "pebble"
	DatabasePostgres = "postgres"
)

type PyroscopeConfig struct {
	ServerAddress   string            `json:"server_address" yaml:"server_address"`
	ApplicationName string            `json:"application_name" yaml:"application_name"`
	Tags            map[string]string `json:"tags" yaml:"tags"`
}

// InstrumentConfig describes one instrument. Precisions follow the increments.
type InstrumentConfig struct {
	ID          model.InstrumentID   `json:"id" yaml:"id"`
	Class       enum.InstrumentClass `json:"class" yaml:"class"`
	AssetClass  enum.AssetClass      `json:"asset_class" yaml:"asset_class"`
	Base        model.Currency       `json:"base" yaml:"base"`
	Quote       model.Currency       `json:"quote" yaml:"quote"`
	Settlement  model.Currency       `json:"settlement" yaml:"settlement"`
	Inverse     bool                 `json:"inverse" yaml:"inverse"`
	PriceTick   model.Price          `json:"price_increment" yaml:"price_increment"`
	SizeTick    model.Quantity       `json:"size_increment" yaml:"size_increment"`
	Multiplier  model.Quantity       `json:"multiplier" yaml:"multiplier"`
	MinQuantity model.Quantity       `json:"min_quantity" yaml:"min_quantity"`
	MaxQuantity model.Quantity       `json:"max_quantity" yaml:"max_quantity"`
	MarginInit  decimal.Decimal      `json:"margin_init" yaml:"margin_init"`
	MarginMaint decimal.Decimal      `json:"margin_maint" yaml:"margin_maint"`
	MakerFee    decimal.Decimal      `json:"maker_fee" yaml:"maker_fee"`
	TakerFee    decimal.Decimal      `json:"taker_fee" yaml:"taker_fee"`
}

// VenueConfig describes one sandbox venue. Empty ids follow the venue name.
type VenueConfig struct {
	Venue            model.Venue      `json:"venue" yaml:"venue"`
	ClientID         string           `json:"client_id" yaml:"client_id"`
	AccountID        string           `json:"account_id" yaml:"account_id"`
	AccountType      enum.AccountType `json:"account_type" yaml:"account_type"`
	OmsType          enum.OmsType     `json:"oms_type" yaml:"oms_type"`
	StartingBalances []model.Money    `json:"starting_balances" yaml:"starting_balances"`
	UseTrades        *bool            `json:"use_trades" yaml:"use_trades"`
}

// FeatureFlagsConfig captures optional runtime flags.
type FeatureFlagsConfig struct {
	Journal          *bool `json:"journal" yaml:"journal"`
	ReconcileOnStart *bool `json:"reconcile_on_start" yaml:"reconcile_on_start"`
	Profiling        *bool `json:"profiling" yaml:"profiling"`
}

// FeatureFlags are resolved runtime flags.
type FeatureFlags struct {
	Journal          bool
	ReconcileOnStart bool
	Profiling        bool
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Core      core.Config
	Database  DatabaseConfig
	Pyroscope PyroscopeConfig
	Features  FeatureFlags
}

// BaseFileConfig has every engine at its defaults and no instruments or
// venues. Config files are decoded on top of it.
func BaseFileConfig() FileConfig {
	return FileConfig{
		Trader:    TraderConfig{ID: model.MustTraderID("TRADER-001"), Name: "Trader"},
		Data:      data.DefaultConfig(),
		Exec:      exec.DefaultConfig(),
		Risk:      risk.DefaultConfig(),
		Cache:     cache.DefaultConfig(),
		Reconcile: reconcile.DefaultConfig(),
		Journal:   recorder.DefaultConfig(filepath.Join("data", "journal")),
		Pyroscope: PyroscopeConfig{
			ServerAddress:   "http://localhost:4040",
			ApplicationName: "hftcore.trader",
		},
	}
}

// DefaultFileConfig is a single SIM venue trading BTCUSDT.SIM.
func DefaultFileConfig() FileConfig {
	cfg := BaseFileConfig()
	cfg.Instruments = []InstrumentConfig{{
		ID:          model.MustInstrumentID("BTCUSDT.SIM"),
		Class:       enum.InstrumentSpot,
		AssetClass:  enum.AssetCryptocurrency,
		Base:        model.BTC,
		Quote:       model.USDT,
		PriceTick:   model.MustPrice("0.01"),
		SizeTick:    model.MustQuantity("0.000001"),
		Multiplier:  model.MustQuantity("1"),
		MakerFee:    decimal.RequireFromString("0.0002"),
		TakerFee:    decimal.RequireFromString("0.0005"),
		MinQuantity: model.MustQuantity("0.000001"),
	}}
	cfg.Venues = []VenueConfig{{
		Venue:            model.MustVenue("SIM"),
		AccountType:      enum.AccountCash,
		OmsType:          enum.OmsNetting,
		StartingBalances: []model.Money{model.MustMoney("100000 USDT")},
	}}
	return cfg
}

// Load reads a config file, loads the env files (.env when none is given)
// and resolves both. An empty path uses DefaultFileConfig.
func Load(path string, envFiles ...string) (Loaded, error) {
	cfg := DefaultFileConfig()
	if path != "" {
		cfg = BaseFileConfig()
		b, err := os.ReadFile(path)
		if err != nil {
			return Loaded{}, errors.Wrapf(err, "read config %s", path)
		}
		if err := Parse(b, filepath.Ext(path), &cfg); err != nil {
			return Loaded{}, errors.Wrapf(err, "parse config %s", path)
		}
	}
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return Loaded{}, errors.Wrap(err, "load env files")
		}
	} else {
		_ = godotenv.Load()
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Loaded{}, err
	}
	return Resolve(cfg)
}

// Parse decodes b into cfg, keeping the values b does not set. ext picks
// YAML for .yaml and .yml, JSON otherwise.
func Parse(b []byte, ext string, cfg *FileConfig) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(b, cfg)
	default:
		return sonic.ConfigStd.Unmarshal(b, cfg)
	}
}

// ApplyEnv overlays the HFT_* variables on cfg.
func ApplyEnv(cfg *FileConfig, lookup func(string) (string, bool)) error {
	env := func(key string) (string, bool) {
		v, ok := lookup(envPrefix + key)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}
	flag := func(key string, dst **bool) error {
		v, ok := env(key)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q", exception.ErrInvalidArgument, envPrefix, key, v)
		}
		*dst = &b
		return nil
	}

	if v, ok := env("TRADER_ID"); ok {
		id, err := model.NewTraderID(v)
		if err != nil {
			return errors.Wrapf(err, "%sTRADER_ID", envPrefix)
		}
		cfg.Trader.ID = id
	}
	if v, ok := env("INSTANCE_ID"); ok {
		cfg.Trader.InstanceID = v
	}
	if v, ok := env("TRADING_STATE"); ok {
		if err := cfg.Risk.State.UnmarshalText([]byte(v)); err != nil {
			return errors.Wrapf(err, "%sTRADING_STATE", envPrefix)
		}
	}
	if v, ok := env("DB_TYPE"); ok {
		cfg.Database.Type = v
	}
	if v, ok := env("DB_PATH"); ok {
		cfg.Database.Path = v
	}
	if v, ok := env("POSTGRES_DSN"); ok {
		cfg.Database.Postgres.ConnString = v
	}
	if v, ok := env("JOURNAL_DIR"); ok {
		cfg.Journal.Dir = v
	}
	if v, ok := env("SAVE_MARKET_DATA"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %sSAVE_MARKET_DATA=%q", exception.ErrInvalidArgument, envPrefix, v)
		}
		cfg.Journal.SaveMarketData = b
		cfg.Cache.SaveMarketData = b
	}
	if v, ok := env("PYROSCOPE_ADDR"); ok {
		cfg.Pyroscope.ServerAddress = v
	}
	return multierr.Combine(
		flag("JOURNAL", &cfg.Features.Journal),
		flag("RECONCILE_ON_START", &cfg.Features.ReconcileOnStart),
		flag("PROFILING", &cfg.Features.Profiling),
	)
}

// Resolve validates cfg and builds the kernel configuration.
func Resolve(cfg FileConfig) (Loaded, error) {
	kc := core.DefaultConfig(cfg.Trader.ID)
	if cfg.Trader.InstanceID != "" {
		id, err := uuid.Parse(cfg.Trader.InstanceID)
		if err != nil {
			return Loaded{}, errors.Wrapf(err, "instance id %q", cfg.Trader.InstanceID)
		}
		kc.InstanceID = id
	}
	if cfg.Trader.Name != "" {
		kc.Name = cfg.Trader.Name
	}
	if cfg.Trader.QueueSize > 0 {
		kc.QueueSize = cfg.Trader.QueueSize
	}
	kc.Data = cfg.Data
	kc.Exec = cfg.Exec
	kc.Risk = cfg.Risk
	kc.Cache = cfg.Cache
	kc.Reconcile = cfg.Reconcile

	for _, ic := range cfg.Instruments {
		inst, err := ic.build()
		if err != nil {
			return Loaded{}, err
		}
		kc.Instruments = append(kc.Instruments, inst)
	}
	for _, vc := range cfg.Venues {
		v, err := vc.build()
		if err != nil {
			return Loaded{}, err
		}
		kc.Venues = append(kc.Venues, v)
	}

	features := resolveFeatures(cfg.Features)
	kc.ReconcileOnStart = features.ReconcileOnStart
	if features.Journal {
		j := cfg.Journal
		kc.Journal = &j
	}
	if err := cfg.Database.Validate(); err != nil {
		return Loaded{}, err
	}
	if err := kc.Validate(); err != nil {
		return Loaded{}, err
	}
	return Loaded{
		Core:      kc,
		Database:  cfg.Database,
		Pyroscope: cfg.Pyroscope,
		Features:  features,
	}, nil
}

func resolveFeatures(cfg FeatureFlagsConfig) FeatureFlags {
	flags := FeatureFlags{
		Journal: true,
	}
	if cfg.Journal != nil {
		flags.Journal = *cfg.Journal
	}
	if cfg.ReconcileOnStart != nil {
		flags.ReconcileOnStart = *cfg.ReconcileOnStart
	}
	if cfg.Profiling != nil {
		flags.Profiling = *cfg.Profiling
	}
	return flags
}

// Validate checks the backend type and its location.
func (c DatabaseConfig) Validate() error {
	switch c.Type {
	case "", DatabaseMemory:
	case DatabasePebble:
		if c.Path == "" {
			return fmt.Errorf("%w: pebble database path is empty", exception.ErrInvalidArgument)
		}
	case DatabasePostgres:
		if c.Postgres.IsZero() {
			return fmt.Errorf("%w: postgres database is not configured", exception.ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("%w: database type %q", exception.ErrInvalidArgument, c.Type)
	}
	return nil
}

func (c InstrumentConfig) build() (*model.Instrument, error) {
	if c.ID.IsZero() {
		return nil, fmt.Errorf("%w: instrument id is empty", exception.ErrInvalidArgument)
	}
	inst := &model.Instrument{
		ID:                 c.ID,
		RawSymbol:          c.ID.Symbol,
		Class:              c.Class,
		AssetClass:         c.AssetClass,
		BaseCurrency:       c.Base,
		QuoteCurrency:      c.Quote,
		SettlementCurrency: c.Settlement,
		IsInverse:          c.Inverse,
		PricePrecision:     c.PriceTick.Precision,
		SizePrecision:      c.SizeTick.Precision,
		PriceIncrement:     c.PriceTick,
		SizeIncrement:      c.SizeTick,
		Multiplier:         c.Multiplier,
		MinQuantity:        c.MinQuantity,
		MaxQuantity:        c.MaxQuantity,
		MarginInit:         c.MarginInit,
		MarginMaint:        c.MarginMaint,
		MakerFee:           c.MakerFee,
		TakerFee:           c.TakerFee,
	}
	if inst.Multiplier.IsZero() {
		inst.Multiplier = model.MustQuantity("1")
	}
	if err := inst.Validate(); err != nil {
		return nil, errors.Wrapf(err, "instrument %s", c.ID)
	}
	return inst, nil
}

func (c VenueConfig) build() (sandbox.Config, error) {
	if c.Venue.IsZero() {
		return sandbox.Config{}, fmt.Errorf("%w: venue name is empty", exception.ErrInvalidArgument)
	}
	v := sandbox.DefaultConfig(c.Venue)
	if c.ClientID != "" {
		id, err := model.NewClientID(c.ClientID)
		if err != nil {
			return sandbox.Config{}, errors.Wrapf(err, "venue %s client id", c.Venue)
		}
		v.ClientID = id
	}
	if c.AccountID != "" {
		id, err := model.NewAccountID(c.AccountID)
		if err != nil {
			return sandbox.Config{}, errors.Wrapf(err, "venue %s account id", c.Venue)
		}
		v.AccountID = id
	}
	if c.AccountType != 0 {
		v.AccountType = c.AccountType
	}
	if c.OmsType != 0 {
		v.OmsType = c.OmsType
	}
	if c.UseTrades != nil {
		v.UseTrades = *c.UseTrades
	}
	v.StartingBalances = c.StartingBalances
	return v, v.Validate()
}
