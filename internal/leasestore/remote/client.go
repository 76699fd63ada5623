package remote

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"mvlease/internal/leasestore"
	"mvlease/internal/tracing"
)

// DefaultCallTimeout bounds calls whose context carries no deadline.
const DefaultCallTimeout = 5 * time.Second

// Client is a leasestore.Store backed by a remote lease store server.
type Client struct {
	conn        *grpc.ClientConn
	stub        *leaseStoreClient
	callTimeout time.Duration
}

var _ leasestore.Store = (*Client)(nil)

// Dial creates a client for target. Connections are plaintext unless opts override the
// transport credentials. Calls are traced with the global tracer provider.
func Dial(target string, callTimeout time.Duration, opts ...grpc.DialOption) (*Client, error) {
	if target == "" {
		return nil, fmt.Errorf("remote: target is empty")
	}
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		tracing.DialOption(),
	}, opts...)
	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("remote: dial %s: %w", target, err)
	}
	return &Client{conn: conn, stub: &leaseStoreClient{cc: conn}, callTimeout: callTimeout}, nil
}

func (c *Client) call(ctx context.Context, method string, req any) (*structpb.Struct, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}
	in, err := encode(req)
	if err != nil {
		return nil, err
	}
	out, err := c.stub.invoke(ctx, method, in)
	if err != nil {
		return nil, fromStatus(err)
	}
	return out, nil
}

func (c *Client) FindOne(ctx context.Context, filter leasestore.Filter, opts leasestore.ReadOptions) (leasestore.Document, bool, error) {
	// reject locally so a bad request never reaches the server
	if err := opts.Validate(); err != nil {
		return leasestore.Document{}, false, err
	}
	out, err := c.call(ctx, "FindOne", findRequest{Filter: filter, Concern: opts.Concern, Preference: opts.Preference})
	if err != nil {
		return leasestore.Document{}, false, err
	}
	var resp findOneResponse
	if err := decode(out, &resp); err != nil {
		return leasestore.Document{}, false, err
	}
	if !resp.Found || resp.Document == nil {
		return leasestore.Document{}, false, nil
	}
	return *resp.Document, true, nil
}

func (c *Client) Find(ctx context.Context, filter leasestore.Filter, opts leasestore.ReadOptions) ([]leasestore.Document, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	out, err := c.call(ctx, "Find", findRequest{Filter: filter, Concern: opts.Concern, Preference: opts.Preference})
	if err != nil {
		return nil, err
	}
	var resp findResponse
	if err := decode(out, &resp); err != nil {
		return nil, err
	}
	return resp.Documents, nil
}

func (c *Client) ReplaceOne(ctx context.Context, filter leasestore.Filter, doc leasestore.Document, opts leasestore.ReplaceOptions) (leasestore.UpdateResult, error) {
	out, err := c.call(ctx, "ReplaceOne", replaceRequest{Filter: filter, Document: doc, Upsert: opts.Upsert})
	if err != nil {
		return leasestore.UpdateResult{}, err
	}
	var resp replaceResponse
	if err := decode(out, &resp); err != nil {
		return leasestore.UpdateResult{}, err
	}
	return leasestore.UpdateResult{
		MatchedCount:  resp.MatchedCount,
		ModifiedCount: resp.ModifiedCount,
		UpsertedID:    resp.UpsertedID,
	}, nil
}

func (c *Client) DeleteOne(ctx context.Context, filter leasestore.Filter) (int64, error) {
	out, err := c.call(ctx, "DeleteOne", deleteRequest{Filter: filter})
	if err != nil {
		return 0, err
	}
	var resp deleteResponse
	if err := decode(out, &resp); err != nil {
		return 0, err
	}
	return resp.DeletedCount, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
