// Package tdservice exposes Thing Description parsing, canonicalization and
// Thing Model composition over gRPC.
//
// The service uses the well-known protobuf types, so no generated code is
// needed on either side:
//
//	rpc Parse(google.protobuf.StringValue) returns (google.protobuf.Struct)
//	rpc Canonicalize(google.protobuf.StringValue) returns (google.protobuf.StringValue)
//	rpc Compose(google.protobuf.Struct) returns (google.protobuf.Struct)
//	rpc ValidateModel(google.protobuf.Struct) returns (google.protobuf.Struct)
//
// A Compose request carries either "model" (a Thing Model object) or "uri",
// plus the optional "baseUrl", "selfComposition" and "map" members. The
// response holds the partial TDs under "tds".
package tdservice

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/wotkit/tdkit/canonical"
	"github.com/wotkit/tdkit/td"
	"github.com/wotkit/tdkit/tderr"
	"github.com/wotkit/tdkit/thingmodel"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "tdkit.v1.ThingDescriptionService"

// Full method names.
const (
	MethodParse         = "/" + ServiceName + "/Parse"
	MethodCanonicalize  = "/" + ServiceName + "/Canonicalize"
	MethodCompose       = "/" + ServiceName + "/Compose"
	MethodValidateModel = "/" + ServiceName + "/ValidateModel"
)

// ThingDescriptionServer is the server API of the service.
type ThingDescriptionServer interface {
	Parse(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Canonicalize(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	Compose(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ValidateModel(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterThingDescriptionServer registers srv with s.
func RegisterThingDescriptionServer(s grpc.ServiceRegistrar, srv ThingDescriptionServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes the service for grpc.ServiceRegistrar.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ThingDescriptionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Parse", Handler: parseHandler},
		{MethodName: "Canonicalize", Handler: canonicalizeHandler},
		{MethodName: "Compose", Handler: composeHandler},
		{MethodName: "ValidateModel", Handler: validateModelHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tdkit/v1/thing_description.proto",
}

// unaryHandler decodes the request into a fresh In and dispatches it, through
// the interceptor when one is installed.
func unaryHandler[In any, Out any](method string, call func(ThingDescriptionServer, context.Context, *In) (Out, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(In)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ThingDescriptionServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(ThingDescriptionServer), ctx, req.(*In))
		})
	}
}

var (
	parseHandler = unaryHandler(MethodParse, func(s ThingDescriptionServer, ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
		return s.Parse(ctx, in)
	})
	canonicalizeHandler = unaryHandler(MethodCanonicalize, func(s ThingDescriptionServer, ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
		return s.Canonicalize(ctx, in)
	})
	composeHandler = unaryHandler(MethodCompose, func(s ThingDescriptionServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
		return s.Compose(ctx, in)
	})
	validateModelHandler = unaryHandler(MethodValidateModel, func(s ThingDescriptionServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
		return s.ValidateModel(ctx, in)
	})
)

// Service implements ThingDescriptionServer on top of the td, canonical and
// thingmodel packages.
type Service struct {
	composer *thingmodel.Composer
	logger   *slog.Logger
}

// NewService creates a Service. A nil composer gets a default one.
func NewService(composer *thingmodel.Composer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if composer == nil {
		composer = thingmodel.NewComposer(thingmodel.WithLogger(logger))
	}
	return &Service{composer: composer, logger: logger}
}

// Parse parses a TD and returns it with all defaults applied.
func (s *Service) Parse(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	thing, err := td.Parse([]byte(in.GetValue()), td.WithLogger(s.logger))
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := toStruct(thing)
	if err != nil {
		return nil, toStatus(err)
	}
	return out, nil
}

// Canonicalize returns the canonical form of a TD. A document that is not an
// object yields an empty string.
func (s *Service) Canonicalize(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	canon, _, err := canonical.Canonicalize([]byte(in.GetValue()))
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.String(canon), nil
}

// Compose runs Thing Model composition.
func (s *Service) Compose(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := in.AsMap()
	opts := &thingmodel.CompositionOptions{}
	opts.BaseURL, _ = req["baseUrl"].(string)
	opts.SelfComposition, _ = req["selfComposition"].(bool)
	opts.Map, _ = req["map"].(map[string]any)

	var (
		tds []thingmodel.Model
		err error
	)
	if uri, ok := req["uri"].(string); ok && uri != "" {
		tds, err = s.composer.PartialTDsFromURI(ctx, uri, opts)
	} else if model, ok := req["model"].(map[string]any); ok {
		tds, err = s.composer.PartialTDs(ctx, model, opts)
	} else {
		err = tderr.New("tdservice.Compose", tderr.CodeParse, "request needs a model object or a uri")
	}
	if err != nil {
		return nil, toStatus(err)
	}

	out, err := toStruct(map[string]any{"tds": tds})
	if err != nil {
		return nil, toStatus(err)
	}
	return out, nil
}

// ValidateModel validates a Thing Model. Schema violations are reported in
// the response, not as an RPC error.
func (s *Service) ValidateModel(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	err := thingmodel.Validate(in.AsMap())
	if err == nil {
		return toStruct(map[string]any{"valid": true})
	}

	var e *tderr.Error
	if !errors.As(err, &e) || e.Code != tderr.CodeValidation || e.Cause != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{
		"valid":      false,
		"violations": strings.Split(e.Message, "\n"),
	})
}

// toStruct converts any JSON encodable value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}
