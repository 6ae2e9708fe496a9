package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	cl "github.com/oplabs/fp-program/client"
	"github.com/oplabs/fp-program/client/claim"
	"github.com/oplabs/fp-program/client/interop"
	"github.com/oplabs/fp-program/host/config"
	"github.com/oplabs/fp-program/host/kvstore"
	"github.com/oplabs/fp-program/host/prefetcher"
	"github.com/oplabs/fp-program/preimage"
)

// Sources are the external data fetchers, injected by the embedding service.
// When nil, the host runs offline and serves only pre-populated data.
type Sources struct {
	L1     prefetcher.L1Source
	L1Blob prefetcher.L1BlobSource
	L2     prefetcher.L2Sources
}

// Main runs the host: it serves pre-images over the oracle channels and, in
// the default mode, runs the client program in-process against them.
func Main(logger log.Logger, cfg *config.Config, sources *Sources) error {
	if err := cfg.Check(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	ctx := context.Background()

	if cfg.ServerMode {
		preimageChan := preimage.ClientPreimageChannel()
		hinterChan := preimage.ClientHinterChannel()
		return PreimageServer(ctx, logger, cfg, sources, preimageChan, hinterChan)
	}

	if err := FaultProofProgram(ctx, logger, cfg, sources); errors.Is(err, claim.ErrClaimNotValid) {
		logger.Error("Claim is invalid", "err", err)
		return err
	} else if err != nil {
		return err
	}
	logger.Info("Claim successfully verified")
	return nil
}

// FaultProofProgram runs the client program in-process against an in-process
// pre-image server. Running the client as a sub-process is not supported:
// when ExecCmd is set it returns an error.
func FaultProofProgram(ctx context.Context, logger log.Logger, cfg *config.Config, sources *Sources) error {
	var (
		serverErr chan error
		pClientRW preimage.Channel
		hClientRW preimage.Channel
	)
	defer func() {
		if pClientRW != nil {
			_ = pClientRW.Close()
		}
		if hClientRW != nil {
			_ = hClientRW.Close()
		}
		if serverErr != nil {
			err := <-serverErr
			if err != nil {
				logger.Error("Preimage server failed", "err", err)
			}
			logger.Debug("Preimage server stopped")
		}
	}()

	// Setup client I/O for preimage oracle interaction
	pClientRW, pHostRW := preimage.CreateBidirectionalChannel()
	hClientRW, hHostRW := preimage.CreateBidirectionalChannel()

	serverErr = make(chan error, 1)
	go func() {
		defer close(serverErr)
		serverErr <- PreimageServer(ctx, logger, cfg, sources, pHostRW, hHostRW)
	}()

	if cfg.ExecCmd != "" {
		return errors.New("sub-process execution requires file-descriptor channels; use the FPVM runner instead")
	}

	logger.Info("Starting fault proof program client in-process")
	if cfg.InteropEnabled {
		return interop.RunInteropProgram(logger, pClientRW, hClientRW)
	}
	return cl.RunProgram(logger, pClientRW, hClientRW)
}

// PreimageServer reads hints and preimage requests from the provided channels and processes those requests.
// It blocks until either the hinter or the preimage handler stops, or the context
// is done, and returns that handler's error (nil when its channel was closed).
// The other handler is not stopped.
func PreimageServer(ctx context.Context, logger log.Logger, cfg *config.Config, sources *Sources, preimageChannel preimage.Channel, hintChannel preimage.Channel) error {
	logger.Info("Starting preimage server")

	kv, err := makeKV(logger, cfg)
	if err != nil {
		return err
	}
	if len(cfg.AgreedPrestate) > 0 {
		// The agreed pre-state commitment pre-image cannot be fetched from any
		// chain; seed it so the interop client can unroll the transition state.
		prestateKey := preimage.Keccak256Key(crypto.Keccak256Hash(cfg.AgreedPrestate)).PreimageKey()
		if err := kv.Put(prestateKey, cfg.AgreedPrestate); err != nil {
			return fmt.Errorf("failed to seed agreed pre-state: %w", err)
		}
	}

	var (
		preimageSource kvstore.PreimageSource
		hintHandler    preimage.HintHandler
	)
	localSource := kvstore.NewLocalPreimageSource(cfg)
	if sources != nil {
		prefetch := prefetcher.NewPrefetcher(logger, sources.L1, sources.L1Blob, sources.L2, kv)
		preimageSource = func(key common.Hash) ([]byte, error) { return prefetch.GetPreimage(ctx, key) }
		hintHandler = prefetch.Hint
	} else {
		logger.Info("Using offline mode. All required pre-images must be pre-populated.")
		preimageSource = kv.Get
		hintHandler = func(hint string) error {
			logger.Debug("ignoring prefetch hint", "hint", hint)
			return nil
		}
	}
	splitSource := kvstore.NewSplitSource(localSource.Get, preimageSource)

	serverDone := launchOracleServer(logger, preimageChannel, splitSource.Get)

	hinterDone := routeHints(logger, hintChannel, hintHandler)
	select {
	case err := <-serverDone:
		return err
	case err := <-hinterDone:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func makeKV(logger log.Logger, cfg *config.Config) (kvstore.KV, error) {
	switch {
	case cfg.KVRemoteURL != "":
		logger.Info("Using remote storage", "url", cfg.KVRemoteURL)
		return kvstore.NewRemoteKV(cfg.KVRemoteURL, true), nil
	case cfg.DataDir == "":
		logger.Info("Using in-memory storage")
		return kvstore.NewMemKV(), nil
	default:
		logger.Info("Creating disk storage", "datadir", cfg.DataDir)
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating datadir: %w", err)
		}
		return kvstore.NewDiskKV(cfg.DataDir), nil
	}
}

func routeHints(logger log.Logger, hintChannel preimage.Channel, router preimage.HintHandler) chan error {
	chErr := make(chan error)
	hintReader := preimage.NewHintReader(hintChannel)
	go func() {
		defer close(chErr)
		for {
			if err := hintReader.NextHint(router); err != nil {
				if err == io.EOF || errors.Is(err, io.ErrClosedPipe) {
					logger.Debug("closing pre-image hint handler")
					return
				}
				logger.Error("pre-image hint router error", "err", err)
				chErr <- err
				return
			}
		}
	}()
	return chErr
}

func launchOracleServer(logger log.Logger, preimageChannel preimage.Channel, source kvstore.PreimageSource) chan error {
	chErr := make(chan error)
	server := preimage.NewOracleServer(preimageChannel)
	go func() {
		defer close(chErr)
		for {
			if err := server.NextPreimageRequest(func(key [32]byte) ([]byte, error) {
				return source(common.Hash(key))
			}); err != nil {
				if err == io.EOF || errors.Is(err, io.ErrClosedPipe) {
					logger.Debug("closing pre-image server")
					return
				}
				logger.Error("pre-image server error", "error", err)
				chErr <- err
				return
			}
		}
	}()
	return chErr
}
