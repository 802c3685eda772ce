package cache

import (
	"context"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"hftcore/internal/book"
	"hftcore/internal/model"
	"hftcore/internal/og"
	"hftcore/internal/state"
)

// Cache is the in-process state store. It is owned by the runner and is not
// safe for concurrent use.
type Cache struct {
	cfg Config
	db  Database

	general     map[string][]byte
	instruments map[model.InstrumentID]*model.Instrument
	books       map[model.InstrumentID]*book.OrderBook
	quotes      map[model.InstrumentID]*Ring[model.QuoteTick]
	trades      map[model.InstrumentID]*Ring[model.TradeTick]
	bars        map[model.BarType]*Ring[model.Bar]
	markPrices  map[model.InstrumentID]*Ring[model.MarkPriceUpdate]
	indexPrices map[model.InstrumentID]*Ring[model.IndexPriceUpdate]
	funding     map[model.InstrumentID]model.FundingRateUpdate
	status      map[model.InstrumentID]model.InstrumentStatus

	accounts  map[model.AccountID]*state.Account
	orders    map[model.ClientOrderID]*og.Order
	lists     map[model.OrderListID]*og.OrderList
	positions map[model.PositionID]*state.Position
	snapshots map[model.PositionID][]*state.Position

	ix *index
}

// New builds an empty cache. db may be nil for a purely in-memory cache.
func New(cfg Config, db Database) *Cache {
	c := &Cache{cfg: cfg.withDefaults(), db: db}
	c.instruments = map[model.InstrumentID]*model.Instrument{}
	c.clear()
	return c
}

func (c *Cache) Config() Config { return c.cfg }

func (c *Cache) HasDatabase() bool { return c.db != nil }

func (c *Cache) clear() {
	c.general = map[string][]byte{}
	c.books = map[model.InstrumentID]*book.OrderBook{}
	c.quotes = map[model.InstrumentID]*Ring[model.QuoteTick]{}
	c.trades = map[model.InstrumentID]*Ring[model.TradeTick]{}
	c.bars = map[model.BarType]*Ring[model.Bar]{}
	c.markPrices = map[model.InstrumentID]*Ring[model.MarkPriceUpdate]{}
	c.indexPrices = map[model.InstrumentID]*Ring[model.IndexPriceUpdate]{}
	c.funding = map[model.InstrumentID]model.FundingRateUpdate{}
	c.status = map[model.InstrumentID]model.InstrumentStatus{}
	c.accounts = map[model.AccountID]*state.Account{}
	c.orders = map[model.ClientOrderID]*og.Order{}
	c.lists = map[model.OrderListID]*og.OrderList{}
	c.positions = map[model.PositionID]*state.Position{}
	c.snapshots = map[model.PositionID][]*state.Position{}
	c.ix = newIndex()
}

// Load repopulates the cache from the database. With flush_on_start the
// backend is wiped instead.
func (c *Cache) Load(ctx context.Context) error {
	if c.db == nil {
		return nil
	}
	if c.cfg.FlushOnStart {
		logs.Infof("[Cache] flush on start, wiping database")
		return c.db.Wipe(ctx)
	}

	general, err := c.db.LoadGeneral(ctx)
	if err != nil {
		return errors.Wrap(err, "load general")
	}
	c.general = general

	instruments, err := c.db.LoadInstruments(ctx)
	if err != nil {
		return errors.Wrap(err, "load instruments")
	}
	for _, inst := range instruments {
		c.instruments[inst.ID] = inst
	}

	accounts, err := c.db.LoadAccounts(ctx)
	if err != nil {
		return errors.Wrap(err, "load accounts")
	}
	for _, a := range accounts {
		c.accounts[a.ID] = a
		c.ix.venueAccount[model.AccountIssuer(a.ID)] = a.ID
	}

	orders, err := c.db.LoadOrders(ctx)
	if err != nil {
		return errors.Wrap(err, "load orders")
	}
	for _, o := range orders {
		c.orders[o.ClientOrderID] = o
		c.indexOrder(o, o.PositionID, model.ClientID{})
	}

	positions, err := c.db.LoadPositions(ctx, c.Instrument)
	if err != nil {
		return errors.Wrap(err, "load positions")
	}
	for _, p := range positions {
		c.positions[p.ID] = p
		c.indexPosition(p)
	}

	logs.Infof("[Cache] loaded %d instruments, %d accounts, %d orders, %d positions",
		len(instruments), len(accounts), len(orders), len(positions))
	return nil
}

// Flush writes any buffered database operations.
func (c *Cache) Flush(ctx context.Context) error {
	if c.db == nil {
		return nil
	}
	return c.db.Flush(ctx)
}

// Reset drops all state. Instruments survive unless drop_instruments_on_reset.
func (c *Cache) Reset() {
	if c.cfg.DropInstrumentsOnReset {
		c.instruments = map[model.InstrumentID]*model.Instrument{}
	}
	c.clear()
	logs.Debugf("[Cache] reset")
}

// Dispose flushes and closes the database.
func (c *Cache) Dispose(ctx context.Context) error {
	c.Reset()
	if c.db == nil {
		return nil
	}
	if err := c.db.Flush(ctx); err != nil {
		logs.Errorf("[Cache] flush on dispose, err: %+v", err)
	}
	return c.db.Close()
}

func (c *Cache) persist(op string, fn func(Database) error) {
	if c.db == nil {
		return
	}
	if err := fn(c.db); err != nil {
		logs.Errorf("[Cache] database %s, err: %+v", op, err)
	}
}

// Add stores an arbitrary blob under key.
func (c *Cache) Add(key string, value []byte) error {
	if key == "" {
		return errors.Wrap(errInvalidKey, "add")
	}
	c.general[key] = value
	c.persist("add", func(db Database) error { return db.Add(key, value) })
	return nil
}

func (c *Cache) Get(key string) ([]byte, bool) {
	v, ok := c.general[key]
	return v, ok
}
