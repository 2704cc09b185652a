package service

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cartridge/per/internal/config"
	"github.com/cartridge/per/internal/replay"
	"github.com/cartridge/per/internal/storage"
)

// Client is a typed client for the Replay service.
type Client struct {
	cc   grpc.ClientConnInterface
	conn *grpc.ClientConn
}

// Dial connects to a replay server without transport security.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.Dial(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to replay at %s: %w", addr, err)
	}
	return &Client{cc: conn, conn: conn}, nil
}

// NewClient wraps an existing connection. Close leaves it open.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Close closes the connection opened by Dial.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) invoke(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Store sends rows to the buffer and returns their slots.
func (c *Client) Store(ctx context.Context, batch *storage.Storage) ([]int, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"batch": structpb.NewStructValue(EncodeStorage(batch)),
	}}
	resp, err := c.invoke(ctx, MethodStore, req)
	if err != nil {
		return nil, err
	}
	return intList(resp.GetFields()["indices"])
}

// Sample fetches a batch; ok is false while the buffer is below cold start.
func (c *Client) Sample(ctx context.Context) (*replay.Batch, bool, error) {
	resp, err := c.invoke(ctx, MethodSample, &structpb.Struct{})
	if err != nil {
		return nil, false, err
	}
	fields := resp.GetFields()
	if !fields["ready"].GetBoolValue() {
		return nil, false, nil
	}
	data, err := DecodeStorage(fields["batch"].GetStructValue())
	if err != nil {
		return nil, false, fmt.Errorf("invalid batch in response: %w", err)
	}
	return &replay.Batch{
		ID:        fields["sample_id"].GetStringValue(),
		Iteration: int(fields["iteration"].GetNumberValue()),
		Data:      data,
	}, true, nil
}

// UpdatePriorities reports per-row losses for a sample.
func (c *Client) UpdatePriorities(ctx context.Context, sampleID string, indices []int, losses []float64) (replay.FeedbackResult, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"sample_id": structpb.NewStringValue(sampleID),
		"indices":   intNumberList(indices),
		"losses":    numberList(losses),
	}}
	resp, err := c.invoke(ctx, MethodUpdatePriorities, req)
	if err != nil {
		return replay.FeedbackResult{}, err
	}
	fields := resp.GetFields()
	return replay.FeedbackResult{
		Updated: int(fields["updated_count"].GetNumberValue()),
		Stale:   int(fields["stale_count"].GetNumberValue()),
	}, nil
}

// Stats fetches buffer statistics.
func (c *Client) Stats(ctx context.Context) (*replay.Stats, error) {
	resp, err := c.invoke(ctx, MethodGetStats, &structpb.Struct{})
	if err != nil {
		return nil, err
	}
	stats := &replay.Stats{}
	if err := fromStruct(resp, stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// Config fetches the server's hyperparameters.
func (c *Client) Config(ctx context.Context) (config.ReplayConfig, error) {
	var cfg config.ReplayConfig
	resp, err := c.invoke(ctx, MethodGetConfig, &structpb.Struct{})
	if err != nil {
		return cfg, err
	}
	err = fromStruct(resp, &cfg)
	return cfg, err
}
