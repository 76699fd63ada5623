package remote

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"mvlease/internal/leasestore"
)

const errorDomain = "mvlease.leasestore"

// sentinel errors crossing the wire, identified by ErrorInfo reason
var sentinels = []struct {
	reason string
	code   codes.Code
	err    error
}{
	{"INVALID_FILTER", codes.InvalidArgument, leasestore.ErrInvalidFilter},
	{"INVALID_DOCUMENT", codes.InvalidArgument, leasestore.ErrInvalidDocument},
	{"INVALID_READ_OPTIONS", codes.InvalidArgument, leasestore.ErrInvalidReadOptions},
	{"IMMUTABLE_ID", codes.FailedPrecondition, leasestore.ErrImmutableID},
	{"DUPLICATE_ID", codes.AlreadyExists, leasestore.ErrDuplicateID},
	{"CLOSED", codes.Unavailable, leasestore.ErrClosed},
	{"UNAVAILABLE", codes.Unavailable, leasestore.ErrUnavailable},
}

// toStatus converts a store error into a gRPC status error.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	for _, s := range sentinels {
		if !errors.Is(err, s.err) {
			continue
		}
		st, detailErr := status.New(s.code, err.Error()).WithDetails(&errdetails.ErrorInfo{
			Reason: s.reason,
			Domain: errorDomain,
		})
		if detailErr != nil {
			return status.Error(s.code, err.Error())
		}
		return st.Err()
	}
	return status.Error(codes.Internal, err.Error())
}

// fromStatus converts a gRPC error back into one wrapping the matching store sentinel.
// Transport failures surface as leasestore.ErrUnavailable.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != errorDomain {
			continue
		}
		for _, s := range sentinels {
			if s.reason == info.GetReason() {
				return fmt.Errorf("%w: %s", s.err, st.Message())
			}
		}
	}
	switch st.Code() {
	case codes.Unavailable:
		return fmt.Errorf("%w: %s", leasestore.ErrUnavailable, st.Message())
	case codes.Canceled:
		return fmt.Errorf("%w: %s", context.Canceled, st.Message())
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", context.DeadlineExceeded, st.Message())
	}
	return err
}
