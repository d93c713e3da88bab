package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
)

func TestGRPCCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"nil", nil, codes.OK},
		{"plain error", stderrors.New("boom"), codes.Internal},
		{"invalid argument", InvalidArgument("bad", nil), codes.InvalidArgument},
		{"invalid header", InvalidHeaderAddress("", "empty"), codes.InvalidArgument},
		{"not found", ItemNotFound(3), codes.NotFound},
		{"head moved", HeadMoved("a", "b"), codes.Aborted},
		{"retries exhausted", RetriesExhausted(3, HeadMoved("a", "b")), codes.Aborted},
		{"session consumed", SessionConsumed("append"), codes.FailedPrecondition},
		{"read only", ReadOnly("chain_sequence"), codes.FailedPrecondition},
		{"disk full", DiskFull(99, 10), codes.ResourceExhausted},
		{"chain full", ChainFull(0, 2), codes.ResourceExhausted},
		{"disk throttled", DiskThrottled(92), codes.Unavailable},
		{"publish failed", PublishFailed(1, nil), codes.Unavailable},
		{"corrupted", CorruptedData("bad frame", nil), codes.DataLoss},
		{"store failed", StoreFailed("io", nil), codes.Internal},
		{"cancelled", Cancelled("commit", nil), codes.Canceled},
		{"wrapped", fmt.Errorf("commit: %w", ItemNotFound(1)), codes.NotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GRPCCode(tt.err))
		})
	}
}

func TestIsHeadMoved(t *testing.T) {
	assert.True(t, IsHeadMoved(HeadMoved("a", "b")))
	assert.True(t, IsHeadMoved(fmt.Errorf("finalize: %w", HeadMoved("a", "b"))))
	assert.True(t, IsHeadMoved(RetriesExhausted(5, HeadMoved("a", "b"))))
	assert.False(t, IsHeadMoved(RetriesExhausted(5, StoreFailed("io", nil))))
	assert.False(t, IsHeadMoved(stderrors.New("head moved")))
	assert.False(t, IsHeadMoved(nil))
}

func TestStorageError(t *testing.T) {
	cause := stderrors.New("disk io")
	err := StoreFailed("failed to commit", cause).WithDetail("path", "/tmp/x")

	assert.Equal(t, "failed to commit: disk io", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "/tmp/x", err.Details["path"])
	assert.Equal(t, ErrCodeStoreFailed, GetCode(err))
	assert.Equal(t, ErrCodeOK, GetCode(nil))
	assert.Equal(t, ErrCodeInternal, GetCode(cause))
	assert.Equal(t, codes.Internal, err.ToGRPCStatus().Code())

	moved := HeadMoved("h1", "h2")
	assert.Equal(t, "h1", moved.Details["expected_head"])
	assert.Equal(t, "h2", moved.Details["actual_head"])
}

func TestErrorCode_String(t *testing.T) {
	assert.Equal(t, "HeadMoved", ErrCodeHeadMoved.String())
	assert.Equal(t, "RetriesExhausted", GetCode(RetriesExhausted(1, nil)).String())
	assert.Equal(t, "ErrorCode(42)", ErrorCode(42).String())
}

func TestAsStorageError(t *testing.T) {
	wrapped := fmt.Errorf("append: %w", ItemNotFound(7))
	se, ok := AsStorageError(wrapped)
	assert.True(t, ok)
	assert.Equal(t, ErrCodeItemNotFound, se.Code)

	_, ok = AsStorageError(stderrors.New("plain"))
	assert.False(t, ok)
}
