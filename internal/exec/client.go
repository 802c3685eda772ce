package exec

import (
	"context"

	"hftcore/internal/command"
	"hftcore/internal/model"
	"hftcore/internal/model/enum"
)

// Client is implemented by venue adapters. Commands are dispatched
// synchronously; the resulting order events come back through
// ExecEngine.process.
type Client interface {
	ID() model.ClientID
	// Venue is zero for clients serving several venues.
	Venue() model.Venue
	AccountID() model.AccountID
	OmsType() enum.OmsType
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	SubmitOrder(cmd *command.SubmitOrder) error
	SubmitOrderList(cmd *command.SubmitOrderList) error
	ModifyOrder(cmd *command.ModifyOrder) error
	CancelOrder(cmd *command.CancelOrder) error
	CancelAllOrders(cmd *command.CancelAllOrders) error
	BatchCancelOrders(cmd *command.BatchCancelOrders) error
	QueryOrder(cmd *command.QueryOrder) error
}

// ReportQuery narrows report generation. Zero fields do not filter.
type ReportQuery struct {
	InstrumentID  model.InstrumentID
	ClientOrderID model.ClientOrderID
	VenueOrderID  model.VenueOrderID
	OpenOnly      bool
	Start         model.UnixNanos
}

// LiveClient also serves the reports reconciliation needs.
type LiveClient interface {
	Client
	GenerateOrderStatusReport(ctx context.Context, q ReportQuery) (*model.OrderStatusReport, error)
	GenerateOrderStatusReports(ctx context.Context, q ReportQuery) ([]model.OrderStatusReport, error)
	GenerateFillReports(ctx context.Context, q ReportQuery) ([]model.FillReport, error)
	GeneratePositionStatusReports(ctx context.Context, q ReportQuery) ([]model.PositionStatusReport, error)
	// GenerateMassStatus returns everything at once. A zero lookback means no bound.
	GenerateMassStatus(ctx context.Context, lookbackMins int) (*model.ExecutionMassStatus, error)
}
