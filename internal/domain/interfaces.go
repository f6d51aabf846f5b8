package domain

import (
	"context"
)

// Venue is the boundary to the exchange-simulation API. Implementations
// convert non-2xx statuses and ok=false envelopes into *APIResponseError and
// network failures into *TransportError before returning.
type Venue interface {
	Quote(ctx context.Context, inst Instrument) (*Quote, error)
	OrderBook(ctx context.Context, inst Instrument) (*OrderBook, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)
	CancelOrder(ctx context.Context, inst Instrument, id OrderID) (*OrderResponse, error)
	OrderStatus(ctx context.Context, inst Instrument, id OrderID) (*OrderResponse, error)
}

// FeedWorker defines the interface for streaming venue connectors
type FeedWorker interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
}
