package tdservice

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/wotkit/tdkit/thingmodel"
)

// Client calls a remote ThingDescriptionService. Errors raised by the server
// come back as *tderr.Error with their original code.
type Client struct {
	conn  grpc.ClientConnInterface
	owned *grpc.ClientConn
}

// Dial connects to target without transport security.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	return &Client{conn: conn, owned: conn}, nil
}

// NewClient wraps an existing connection. Close leaves it open.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Close closes the connection if the Client created it.
func (c *Client) Close() error {
	if c.owned == nil {
		return nil
	}
	return c.owned.Close()
}

// Parse parses a TD remotely and returns the normalized document.
func (c *Client) Parse(ctx context.Context, data []byte) (map[string]any, error) {
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, MethodParse, wrapperspb.String(string(data)), out); err != nil {
		return nil, fromStatus(err)
	}
	return out.AsMap(), nil
}

// Canonicalize returns the canonical form of a TD.
func (c *Client) Canonicalize(ctx context.Context, data []byte) (string, error) {
	out := &wrapperspb.StringValue{}
	if err := c.conn.Invoke(ctx, MethodCanonicalize, wrapperspb.String(string(data)), out); err != nil {
		return "", fromStatus(err)
	}
	return out.GetValue(), nil
}

// Compose composes model, which is anything thingmodel.AsModel accepts.
func (c *Client) Compose(ctx context.Context, model any, opts *thingmodel.CompositionOptions) ([]thingmodel.Model, error) {
	m, err := thingmodel.AsModel(model)
	if err != nil {
		return nil, err
	}
	return c.compose(ctx, map[string]any{"model": map[string]any(m)}, opts)
}

// ComposeURI composes the Thing Model the server fetches from uri.
func (c *Client) ComposeURI(ctx context.Context, uri string, opts *thingmodel.CompositionOptions) ([]thingmodel.Model, error) {
	return c.compose(ctx, map[string]any{"uri": uri}, opts)
}

func (c *Client) compose(ctx context.Context, req map[string]any, opts *thingmodel.CompositionOptions) ([]thingmodel.Model, error) {
	if opts != nil {
		if opts.BaseURL != "" {
			req["baseUrl"] = opts.BaseURL
		}
		req["selfComposition"] = opts.SelfComposition
		if opts.Map != nil {
			req["map"] = opts.Map
		}
	}
	in, err := toStruct(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode compose request: %w", err)
	}

	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, MethodCompose, in, out); err != nil {
		return nil, fromStatus(err)
	}

	data, err := protojson.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to decode compose response: %w", err)
	}
	var resp struct {
		TDs []thingmodel.Model `json:"tds"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode compose response: %w", err)
	}
	return resp.TDs, nil
}

// ValidationResult is the outcome of ValidateModel.
type ValidationResult struct {
	Valid      bool     `json:"valid"`
	Violations []string `json:"violations,omitempty"`
}

// ValidateModel validates a Thing Model remotely.
func (c *Client) ValidateModel(ctx context.Context, model any) (*ValidationResult, error) {
	m, err := thingmodel.AsModel(model)
	if err != nil {
		return nil, err
	}
	in, err := toStruct(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode model: %w", err)
	}

	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, MethodValidateModel, in, out); err != nil {
		return nil, fromStatus(err)
	}

	data, err := protojson.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to decode validation result: %w", err)
	}
	var result ValidationResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode validation result: %w", err)
	}
	return &result, nil
}
