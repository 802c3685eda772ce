package cache

import (
	"slices"
	"strings"

	"hftcore/internal/model"
	"hftcore/internal/model/enum"
)

type set[T comparable] map[T]struct{}

func (s set[T]) add(v T)      { s[v] = struct{}{} }
func (s set[T]) del(v T)      { delete(s, v) }
func (s set[T]) has(v T) bool { _, ok := s[v]; return ok }

func addTo[K comparable, V comparable](m map[K]set[V], k K, v V) {
	s, ok := m[k]
	if !ok {
		s = set[V]{}
		m[k] = s
	}
	s.add(v)
}

func delFrom[K comparable, V comparable](m map[K]set[V], k K, v V) {
	if s, ok := m[k]; ok {
		s.del(v)
		if len(s) == 0 {
			delete(m, k)
		}
	}
}

// intersect narrows base by every non-nil filter set.
func intersect[T comparable](base set[T], filters ...set[T]) set[T] {
	out := base
	for _, f := range filters {
		if f == nil {
			continue
		}
		next := set[T]{}
		for k := range out {
			if f.has(k) {
				next.add(k)
			}
		}
		out = next
	}
	return out
}

type stringer interface {
	comparable
	String() string
}

// sorted returns the members ordered by their string form.
func sorted[T stringer](s set[T]) []T {
	out := make([]T, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	slices.SortFunc(out, func(a, b T) int { return strings.Compare(a.String(), b.String()) })
	return out
}

// Filter narrows order and position queries. Zero fields do not filter.
type Filter struct {
	Venue        model.Venue
	InstrumentID model.InstrumentID
	StrategyID   model.StrategyID
	AccountID    model.AccountID
	Side         enum.OrderSide
}

type index struct {
	venueAccount map[model.Venue]model.AccountID

	venueOrders      map[model.Venue]set[model.ClientOrderID]
	venuePositions   map[model.Venue]set[model.PositionID]
	venueOrderIDs    map[model.VenueOrderID]model.ClientOrderID
	clientOrderIDs   map[model.ClientOrderID]model.VenueOrderID
	orderPosition    map[model.ClientOrderID]model.PositionID
	orderStrategy    map[model.ClientOrderID]model.StrategyID
	orderClient      map[model.ClientOrderID]model.ClientID
	orderList        map[model.ClientOrderID]model.OrderListID
	positionStrategy map[model.PositionID]model.StrategyID
	positionOrders   map[model.PositionID]set[model.ClientOrderID]

	instrumentOrders    map[model.InstrumentID]set[model.ClientOrderID]
	instrumentPositions map[model.InstrumentID]set[model.PositionID]
	strategyOrders      map[model.StrategyID]set[model.ClientOrderID]
	strategyPositions   map[model.StrategyID]set[model.PositionID]
	accountOrders       map[model.AccountID]set[model.ClientOrderID]
	accountPositions    map[model.AccountID]set[model.PositionID]
	sideOrders          map[enum.OrderSide]set[model.ClientOrderID]

	orders         set[model.ClientOrderID]
	ordersOpen     set[model.ClientOrderID]
	ordersClosed   set[model.ClientOrderID]
	ordersEmulated set[model.ClientOrderID]
	ordersInflight set[model.ClientOrderID]

	positions       set[model.PositionID]
	positionsOpen   set[model.PositionID]
	positionsClosed set[model.PositionID]

	strategies set[model.StrategyID]
}

func newIndex() *index {
	return &index{
		venueAccount:        map[model.Venue]model.AccountID{},
		venueOrders:         map[model.Venue]set[model.ClientOrderID]{},
		venuePositions:      map[model.Venue]set[model.PositionID]{},
		venueOrderIDs:       map[model.VenueOrderID]model.ClientOrderID{},
		clientOrderIDs:      map[model.ClientOrderID]model.VenueOrderID{},
		orderPosition:       map[model.ClientOrderID]model.PositionID{},
		orderStrategy:       map[model.ClientOrderID]model.StrategyID{},
		orderClient:         map[model.ClientOrderID]model.ClientID{},
		orderList:           map[model.ClientOrderID]model.OrderListID{},
		positionStrategy:    map[model.PositionID]model.StrategyID{},
		positionOrders:      map[model.PositionID]set[model.ClientOrderID]{},
		instrumentOrders:    map[model.InstrumentID]set[model.ClientOrderID]{},
		instrumentPositions: map[model.InstrumentID]set[model.PositionID]{},
		strategyOrders:      map[model.StrategyID]set[model.ClientOrderID]{},
		strategyPositions:   map[model.StrategyID]set[model.PositionID]{},
		accountOrders:       map[model.AccountID]set[model.ClientOrderID]{},
		accountPositions:    map[model.AccountID]set[model.PositionID]{},
		sideOrders:          map[enum.OrderSide]set[model.ClientOrderID]{},
		orders:              set[model.ClientOrderID]{},
		ordersOpen:          set[model.ClientOrderID]{},
		ordersClosed:        set[model.ClientOrderID]{},
		ordersEmulated:      set[model.ClientOrderID]{},
		ordersInflight:      set[model.ClientOrderID]{},
		positions:           set[model.PositionID]{},
		positionsOpen:       set[model.PositionID]{},
		positionsClosed:     set[model.PositionID]{},
		strategies:          set[model.StrategyID]{},
	}
}

func (ix *index) orderFilters(f Filter) []set[model.ClientOrderID] {
	var out []set[model.ClientOrderID]
	if !f.Venue.IsZero() {
		out = append(out, nonNil(ix.venueOrders[f.Venue]))
	}
	if !f.InstrumentID.IsZero() {
		out = append(out, nonNil(ix.instrumentOrders[f.InstrumentID]))
	}
	if !f.StrategyID.IsZero() {
		out = append(out, nonNil(ix.strategyOrders[f.StrategyID]))
	}
	if !f.AccountID.IsZero() {
		out = append(out, nonNil(ix.accountOrders[f.AccountID]))
	}
	if f.Side != enum.OrderSideNone {
		out = append(out, nonNil(ix.sideOrders[f.Side]))
	}
	return out
}

func (ix *index) positionFilters(f Filter) []set[model.PositionID] {
	var out []set[model.PositionID]
	if !f.Venue.IsZero() {
		out = append(out, nonNil(ix.venuePositions[f.Venue]))
	}
	if !f.InstrumentID.IsZero() {
		out = append(out, nonNil(ix.instrumentPositions[f.InstrumentID]))
	}
	if !f.StrategyID.IsZero() {
		out = append(out, nonNil(ix.strategyPositions[f.StrategyID]))
	}
	if !f.AccountID.IsZero() {
		out = append(out, nonNil(ix.accountPositions[f.AccountID]))
	}
	return out
}

// nonNil turns a missing index entry into an empty filter so it matches nothing.
func nonNil[T comparable](s set[T]) set[T] {
	if s == nil {
		return set[T]{}
	}
	return s
}
