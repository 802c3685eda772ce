package bus

import (
	"fmt"

	"hftcore/internal/model"
)

const (
	EndpointExecExecute     = "ExecEngine.execute"
	EndpointExecProcess     = "ExecEngine.process"
	EndpointExecReconcile   = "ExecEngine.reconcile"
	EndpointEmulatorExecute = "OrderEmulator.execute"
	EndpointEmulatorOnEvent = "OrderEmulator.on_event"
	EndpointDataExecute     = "DataEngine.execute"
	EndpointDataRequest     = "DataEngine.request"
	EndpointDataProcess     = "DataEngine.process"
	EndpointDataResponse    = "DataEngine.response"
	EndpointRiskExecute     = "RiskEngine.execute"
)

const (
	TopicAllOrderEvents    = "events.order.*"
	TopicAllPositionEvents = "events.position.*"
	TopicAllAccountEvents  = "events.account.*"
	TopicAllTimeEvents     = "events.time.*"
	TopicAllFills          = "events.fills.*.*"
	TopicAllQuotes         = "data.quotes.*.*"
	TopicAllTrades         = "data.trades.*.*"
)

func instrumentTopic(prefix string, id model.InstrumentID) string {
	return prefix + "." + id.Venue.String() + "." + id.Symbol.String()
}

func QuotesTopic(id model.InstrumentID) string { return instrumentTopic("data.quotes", id) }

func TradesTopic(id model.InstrumentID) string { return instrumentTopic("data.trades", id) }

func BarsTopic(bt model.BarType) string { return "data.bars." + bt.String() }

func DeltasTopic(id model.InstrumentID) string { return instrumentTopic("data.book.deltas", id) }

func DepthTopic(id model.InstrumentID) string { return instrumentTopic("data.book.depth", id) }

func BookSnapshotsTopic(id model.InstrumentID, intervalMs int64) string {
	return fmt.Sprintf("%s.%d", instrumentTopic("data.book.snapshots", id), intervalMs)
}

func InstrumentTopic(id model.InstrumentID) string { return instrumentTopic("data.instrument", id) }

// InstrumentsTopic matches every instrument published for a venue.
func InstrumentsTopic(venue model.Venue) string { return "data.instrument." + venue.String() + ".*" }

func MarkPricesTopic(id model.InstrumentID) string { return instrumentTopic("data.mark_prices", id) }

func IndexPricesTopic(id model.InstrumentID) string { return instrumentTopic("data.index_prices", id) }

func FundingRatesTopic(id model.InstrumentID) string {
	return instrumentTopic("data.funding_rates", id)
}

func InstrumentStatusTopic(id model.InstrumentID) string { return instrumentTopic("data.status", id) }

func OrderEventsTopic(id model.ClientOrderID) string { return "events.order." + id.String() }

func PositionEventsTopic(id model.PositionID) string { return "events.position." + id.String() }

func AccountEventsTopic(id model.AccountID) string { return "events.account." + id.String() }

func FillsTopic(id model.InstrumentID) string { return instrumentTopic("events.fills", id) }

func TimeEventsTopic(name string) string { return "events.time." + name }

// ReportsTopic carries the execution mass status reconciled for a venue.
func ReportsTopic(venue model.Venue) string { return "reports.execution." + venue.String() }
