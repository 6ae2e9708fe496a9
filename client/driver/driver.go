package driver

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/log"

	"github.com/oplabs/fp-program/client/claim"
	"github.com/oplabs/fp-program/client/derive"
	"github.com/oplabs/fp-program/client/l2"
	"github.com/oplabs/fp-program/eth"
	"github.com/oplabs/fp-program/rollup"
)

// Driver advances the derivation pipeline and executes the derived payloads
// until the target L2 block is reached or the L1 head is exhausted.
type Driver struct {
	logger   log.Logger
	cfg      *rollup.Config
	pipeline *derive.DerivationPipeline
	engine   *l2.OracleEngine

	targetBlockNum uint64
}

func NewDriver(logger log.Logger, cfg *rollup.Config, pipeline *derive.DerivationPipeline, engine *l2.OracleEngine, targetBlockNum uint64) *Driver {
	return &Driver{
		logger:         logger,
		cfg:            cfg,
		pipeline:       pipeline,
		engine:         engine,
		targetBlockNum: targetBlockNum,
	}
}

// SafeHead returns the current L2 safe head.
func (d *Driver) SafeHead(ctx context.Context) (eth.L2BlockRef, error) {
	return d.engine.SafeHead(ctx)
}

// RunComplete runs the derivation loop to completion: either the target block
// number is derived, or the L1 data runs out first and the highest derivable
// head is returned.
func (d *Driver) RunComplete(ctx context.Context) (eth.L2BlockRef, error) {
	// The starting point is a reset to seed the pipeline from the safe head.
	if err := d.reset(ctx, false); err != nil {
		return eth.L2BlockRef{}, err
	}

	for {
		safeHead, err := d.SafeHead(ctx)
		if err != nil {
			return eth.L2BlockRef{}, fmt.Errorf("failed to read safe head: %w", err)
		}
		if safeHead.Number >= d.targetBlockNum {
			d.logger.Info("Derivation complete: reached L2 block", "head", safeHead)
			return safeHead, nil
		}

		attrs, err := d.pipeline.Step(ctx, safeHead)
		switch {
		case err == nil:
			if err := d.execute(ctx, attrs, safeHead); err != nil {
				return eth.L2BlockRef{}, err
			}
		case errors.Is(err, derive.NotEnoughData):
			continue
		case errors.Is(err, io.EOF):
			d.logger.Info("Derivation complete: no further data to process", "head", safeHead)
			return safeHead, nil
		case errors.Is(err, derive.ErrReset):
			keepAnchor := errors.Is(err, derive.ErrHoloceneActivation)
			d.logger.Warn("Derivation pipeline is being reset", "err", err, "keep_anchor", keepAnchor)
			if err := d.reset(ctx, keepAnchor); err != nil {
				return eth.L2BlockRef{}, err
			}
		case errors.Is(err, derive.ErrTemporary):
			d.logger.Warn("Temporary error in derivation", "err", err)
			continue
		default:
			return eth.L2BlockRef{}, fmt.Errorf("pipeline err: %w", err)
		}
	}
}

func (d *Driver) execute(ctx context.Context, attrs *derive.AttributesWithParent, safeHead eth.L2BlockRef) error {
	d.logger.Info("Derived attributes", "parent", attrs.Parent, "timestamp", uint64(attrs.Attributes.Timestamp))
	block, err := d.engine.ExecutePayload(attrs.Attributes)
	if err != nil {
		// Derived attributes must execute; anything else invalidates the proof.
		return fmt.Errorf("failed to execute derived payload on top of %s: %w", safeHead, err)
	}

	// Holocene activation behaves like a reset that keeps the anchor: the
	// buffers are discarded so pre-activation channel data cannot leak across.
	if d.cfg.IsHoloceneActivationBlock(block.Time()) {
		d.logger.Info("Holocene activation block derived, flushing pipeline buffers", "block", block.Hash())
		return d.reset(ctx, true)
	}
	return nil
}

func (d *Driver) reset(ctx context.Context, keepAnchor bool) error {
	for {
		safeHead, err := d.SafeHead(ctx)
		if err != nil {
			return fmt.Errorf("failed to read safe head for reset: %w", err)
		}
		sysCfg, err := d.engine.SystemConfigByL2Hash(ctx, safeHead.Hash)
		if err != nil {
			return fmt.Errorf("failed to read system config for reset: %w", err)
		}
		err = d.pipeline.Reset(ctx, safeHead, sysCfg, keepAnchor)
		if err == nil {
			return nil
		}
		if errors.Is(err, derive.ErrTemporary) {
			d.logger.Warn("Temporary error while resetting pipeline", "err", err)
			continue
		}
		return err
	}
}

// ValidateClaim checks the claimed output root against the derived chain. If
// the L1 data ran out before the claimed block, the output at the highest
// derived block is used, which only matches an honest claim if the claim was
// made for that state.
func (d *Driver) ValidateClaim(ctx context.Context, l2ClaimBlockNum uint64, claimedOutputRoot eth.Bytes32) error {
	l2Head, err := d.SafeHead(ctx)
	if err != nil {
		return fmt.Errorf("failed to read safe head: %w", err)
	}
	outputBlockNum := l2ClaimBlockNum
	if l2Head.Number < outputBlockNum {
		outputBlockNum = l2Head.Number
	}
	outputRoot, err := d.engine.L2OutputRoot(outputBlockNum)
	if err != nil {
		return fmt.Errorf("calculate L2 output root: %w", err)
	}
	return claim.ValidateClaim(d.logger, claimedOutputRoot, outputRoot)
}
