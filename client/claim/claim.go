package claim

import (
	"errors"

	"github.com/ethereum/go-ethereum/log"

	"github.com/oplabs/fp-program/eth"
)

// ErrClaimNotValid is returned when the computed output does not match the claim.
var ErrClaimNotValid = errors.New("invalid claim")

// ValidateClaim compares the computed commitment against the claimed one.
func ValidateClaim(logger log.Logger, claimed eth.Bytes32, computed eth.Bytes32) error {
	logger.Info("Validating claim", "computed", computed, "claimed", claimed)
	if computed != claimed {
		return errors.Join(ErrClaimNotValid, errors.New("computed "+computed.String()+" but claim is "+claimed.String()))
	}
	return nil
}
