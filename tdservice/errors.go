package tdservice

import (
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/wotkit/tdkit/tderr"
)

// errorDomain is the ErrorInfo domain attached to every mapped error.
const errorDomain = "tdkit.wotkit.github.com"

var statusCodes = map[string]codes.Code{
	tderr.CodeParse:              codes.InvalidArgument,
	tderr.CodeValidation:         codes.InvalidArgument,
	tderr.CodeMissingPlaceholder: codes.InvalidArgument,
	tderr.CodeSelfComposition:    codes.InvalidArgument,
	tderr.CodeNotThingModel:      codes.InvalidArgument,
	tderr.CodeInvalidReference:   codes.InvalidArgument,
	tderr.CodeUnsupportedScheme:  codes.InvalidArgument,
	tderr.CodeCircularDependency: codes.FailedPrecondition,
	tderr.CodeNotFound:           codes.NotFound,
	tderr.CodeForbidden:          codes.PermissionDenied,
}

// toStatus converts err into a gRPC status error. The tderr code travels as
// the reason of an ErrorInfo detail.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var e *tderr.Error
	if !errors.As(err, &e) {
		return status.Error(codes.Internal, err.Error())
	}

	code, ok := statusCodes[e.Code]
	if !ok {
		code = codes.Internal
	}
	st := status.New(code, e.Message)
	withInfo, detailErr := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   e.Code,
		Domain:   errorDomain,
		Metadata: map[string]string{"op": e.Op},
	})
	if detailErr != nil {
		return st.Err()
	}
	return withInfo.Err()
}

// fromStatus converts a status error produced by toStatus back into a
// *tderr.Error. Other errors are returned as they are.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, detail := range st.Details() {
		info, ok := detail.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != errorDomain {
			continue
		}
		op := info.GetMetadata()["op"]
		if op == "" {
			op = "tdservice.Client"
		}
		return tderr.New(op, info.GetReason(), st.Message()).WithCause(err)
	}
	return err
}
