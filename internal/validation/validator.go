package validation

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/devrev/pairdb/ledger-node/internal/chain"
	"github.com/devrev/pairdb/ledger-node/internal/errors"
)

const (
	// MaxHeaderAddressSize is the default limit on an encoded header address
	MaxHeaderAddressSize = 256

	// MaxHeadersPerCommit bounds the batch accepted in a single append
	MaxHeadersPerCommit = 10000
)

// Validator validates ledger operations
type Validator struct {
	maxHeaderAddressSize int
	maxHeadersPerCommit  int
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return NewValidatorWithLimits(MaxHeaderAddressSize, MaxHeadersPerCommit)
}

// NewValidatorWithLimits creates a validator with custom limits. Non-positive
// limits fall back to the defaults.
func NewValidatorWithLimits(maxHeaderAddressSize, maxHeadersPerCommit int) *Validator {
	if maxHeaderAddressSize <= 0 {
		maxHeaderAddressSize = MaxHeaderAddressSize
	}
	if maxHeadersPerCommit <= 0 {
		maxHeadersPerCommit = MaxHeadersPerCommit
	}
	return &Validator{
		maxHeaderAddressSize: maxHeaderAddressSize,
		maxHeadersPerCommit:  maxHeadersPerCommit,
	}
}

// ValidateAppend validates a batch of headers to be committed together
func (v *Validator) ValidateAppend(addrs []chain.HeaderAddress) error {
	if len(addrs) == 0 {
		return errors.InvalidArgument("at least one header address is required", nil)
	}
	if len(addrs) > v.maxHeadersPerCommit {
		return errors.InvalidArgument(
			fmt.Sprintf("too many header addresses in one commit: %d > %d", len(addrs), v.maxHeadersPerCommit),
			nil,
		).WithDetail("count", len(addrs))
	}
	for _, a := range addrs {
		if err := v.ValidateHeaderAddress(a); err != nil {
			return err
		}
	}
	return nil
}

// ValidateHeaderAddress validates a single header address
func (v *Validator) ValidateHeaderAddress(addr chain.HeaderAddress) error {
	s := string(addr)

	if s == "" {
		return errors.InvalidHeaderAddress(s, "header address cannot be empty")
	}

	if len(s) > v.maxHeaderAddressSize {
		return errors.InvalidHeaderAddress(s[:v.maxHeaderAddressSize],
			fmt.Sprintf("header address exceeds maximum size of %d bytes", v.maxHeaderAddressSize))
	}

	if !utf8.ValidString(s) {
		return errors.InvalidHeaderAddress(s, "header address must be valid UTF-8")
	}

	// Control characters include null bytes
	for _, r := range s {
		if unicode.IsControl(r) {
			return errors.InvalidHeaderAddress(s, "header address cannot contain control characters")
		}
		if unicode.IsSpace(r) {
			return errors.InvalidHeaderAddress(s, "header address cannot contain whitespace")
		}
	}

	return nil
}

// EstimateCommitSize estimates the disk space needed to commit addrs. This
// is used by the disk manager to check available space.
func EstimateCommitSize(addrs []chain.HeaderAddress) uint64 {
	var total uint64
	for _, a := range addrs {
		// key, frame and cbor overhead plus page slack
		total += uint64(len(a)) + 64
	}
	// safety margin (20%)
	return total + (total / 5)
}
