// client.go wraps the chain's stream and query RPC services plus the
// Tendermint status endpoint used for tip discovery. The gRPC connections
// use the JSON call codec from codec.go; the status query is plain HTTP.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	maxRecvSize = 64 << 20 // L3 orderbook snapshots can be large

	streamMethod            = "/injective.stream.v1beta1.Stream/Stream"
	methodDerivativeMarkets = "/injective.exchange.v1beta1.Query/DerivativeMarkets"
	methodPositions         = "/injective.exchange.v1beta1.Query/Positions"
	methodExchangeBalances  = "/injective.exchange.v1beta1.Query/ExchangeBalances"
	methodFullOrderbook     = "/injective.exchange.v1beta1.Query/L3DerivativeOrderBook"

	tendermintPort = "26657"
)

var streamDesc = &grpc.StreamDesc{
	StreamName:    "Stream",
	ServerStreams: true,
}

// Client talks to one chain node. Safe for concurrent use; both gRPC
// connections multiplex internally.
type Client struct {
	streamConn *grpc.ClientConn
	queryConn  *grpc.ClientConn
	http       *resty.Client
	statusURL  string
	logger     *slog.Logger
}

// NewClient dials the stream and query endpoints. Endpoints accept the
// http://host:port form. statusEndpoint overrides the Tendermint RPC base
// URL; when empty it is derived from the query endpoint's host on the
// standard port.
func NewClient(streamEndpoint, queryEndpoint, statusEndpoint string, logger *slog.Logger) (*Client, error) {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(codecName),
			grpc.MaxCallRecvMsgSize(maxRecvSize),
		),
	}

	streamConn, err := grpc.NewClient(grpcTarget(streamEndpoint), opts...)
	if err != nil {
		return nil, fmt.Errorf("dial stream endpoint: %w", err)
	}
	queryConn, err := grpc.NewClient(grpcTarget(queryEndpoint), opts...)
	if err != nil {
		streamConn.Close()
		return nil, fmt.Errorf("dial query endpoint: %w", err)
	}

	if statusEndpoint == "" {
		statusEndpoint = deriveStatusEndpoint(queryEndpoint)
	}

	return &Client{
		streamConn: streamConn,
		queryConn:  queryConn,
		http:       resty.New(),
		statusURL:  statusEndpoint,
		logger:     logger.With("component", "chain"),
	}, nil
}

// grpcTarget strips the URL scheme; grpc targets are host:port.
func grpcTarget(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return endpoint
}

// deriveStatusEndpoint points at the Tendermint RPC on the query host.
func deriveStatusEndpoint(queryEndpoint string) string {
	host := grpcTarget(queryEndpoint)
	if u, err := url.Parse("http://" + host); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	return "http://" + host + ":" + tendermintPort
}

// Close tears down both gRPC connections.
func (c *Client) Close() error {
	serr := c.streamConn.Close()
	qerr := c.queryConn.Close()
	if serr != nil {
		return serr
	}
	return qerr
}

// ————————————————————————————————————————————————————————————————————————
// Stream service
// ————————————————————————————————————————————————————————————————————————

// EventStream is one open server-streaming call.
type EventStream struct {
	cs grpc.ClientStream
}

// Recv blocks for the next pushed chunk. Returns io.EOF on peer close.
func (s *EventStream) Recv() (*StreamResponse, error) {
	var resp StreamResponse
	if err := s.cs.RecvMsg(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stream opens the long-lived event stream with the given filters. The
// returned stream lives until ctx is cancelled or the peer closes it.
func (c *Client) Stream(ctx context.Context, req *StreamRequest) (*EventStream, error) {
	cs, err := c.streamConn.NewStream(ctx, streamDesc, streamMethod)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if err := cs.SendMsg(req); err != nil {
		return nil, fmt.Errorf("send stream request: %w", err)
	}
	if err := cs.CloseSend(); err != nil {
		return nil, fmt.Errorf("close send: %w", err)
	}
	return &EventStream{cs: cs}, nil
}

// ————————————————————————————————————————————————————————————————————————
// Query service
// ————————————————————————————————————————————————————————————————————————

// DerivativeMarkets fetches the market catalog, optionally filtered by
// status ("Active" for the heartbeat snapshot).
func (c *Client) DerivativeMarkets(ctx context.Context, status string) ([]FullDerivativeMarket, error) {
	req := &QueryDerivativeMarketsRequest{Status: status, WithMidPriceAndTOB: true}
	var resp QueryDerivativeMarketsResponse
	if err := c.queryConn.Invoke(ctx, methodDerivativeMarkets, req, &resp); err != nil {
		return nil, fmt.Errorf("query derivative markets: %w", err)
	}
	c.logger.Debug("retrieved derivative markets", "count", len(resp.Markets))
	return resp.Markets, nil
}

// Positions fetches every open derivative position.
func (c *Client) Positions(ctx context.Context) ([]DerivativePosition, error) {
	var resp QueryPositionsResponse
	if err := c.queryConn.Invoke(ctx, methodPositions, &QueryPositionsRequest{}, &resp); err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	c.logger.Debug("retrieved positions", "count", len(resp.State))
	return resp.State, nil
}

// ExchangeBalances fetches every subaccount balance.
func (c *Client) ExchangeBalances(ctx context.Context) ([]Balance, error) {
	var resp QueryExchangeBalancesResponse
	if err := c.queryConn.Invoke(ctx, methodExchangeBalances, &QueryExchangeBalancesRequest{}, &resp); err != nil {
		return nil, fmt.Errorf("query exchange balances: %w", err)
	}
	c.logger.Debug("retrieved exchange balances", "count", len(resp.Balances))
	return resp.Balances, nil
}

// FullDerivativeOrderbook fetches the order-by-order book for one market.
func (c *Client) FullDerivativeOrderbook(ctx context.Context, marketID string) (*QueryFullDerivativeOrderbookResponse, error) {
	req := &QueryFullDerivativeOrderbookRequest{MarketID: marketID}
	var resp QueryFullDerivativeOrderbookResponse
	if err := c.queryConn.Invoke(ctx, methodFullOrderbook, req, &resp); err != nil {
		return nil, fmt.Errorf("query full orderbook %s: %w", marketID, err)
	}
	return &resp, nil
}

// ————————————————————————————————————————————————————————————————————————
// Tendermint status
// ————————————————————————————————————————————————————————————————————————

type statusResponse struct {
	Result struct {
		SyncInfo struct {
			LatestBlockHeight string `json:"latest_block_height"`
		} `json:"sync_info"`
	} `json:"result"`
}

// LatestBlockHeight asks the Tendermint RPC for the current chain tip.
func (c *Client) LatestBlockHeight(ctx context.Context) (uint64, error) {
	var out statusResponse
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get(c.statusURL + "/status")
	if err != nil {
		return 0, fmt.Errorf("status query: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("status query: http %d", resp.StatusCode())
	}
	height, err := strconv.ParseUint(out.Result.SyncInfo.LatestBlockHeight, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse block height: %w", err)
	}
	return height, nil
}
