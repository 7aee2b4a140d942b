// Package deposit implements the four cooperative ingestion tasks: discover
// the newest signature, walk signature ranges, fetch and classify
// transactions, and mint gSOL for accepted deposits. Tasks communicate only
// through state; every transition is recorded as an event.
package deposit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/weichain/gsol-minter/internal/config"
	"github.com/weichain/gsol-minter/internal/events"
	"github.com/weichain/gsol-minter/internal/ledger"
	"github.com/weichain/gsol-minter/internal/solrpc"
	"github.com/weichain/gsol-minter/internal/state"
)

// Pipeline wires the ingestion tasks to their collaborators.
type Pipeline struct {
	mgr    *state.Manager
	rpc    *solrpc.Client
	ledger ledger.Client
}

// New creates the deposit pipeline.
func New(mgr *state.Manager, rpc *solrpc.Client, ledgerClient ledger.Client) *Pipeline {
	return &Pipeline{mgr: mgr, rpc: rpc, ledger: ledgerClient}
}

// GetLatestSignature discovers the newest signature of the contract and
// opens a scan range from it down to the previous cursor.
func (p *Pipeline) GetLatestSignature(ctx context.Context) {
	guard, err := state.NewTimerGuard(p.mgr, state.TaskGetLatestSignature)
	if err != nil {
		return
	}
	defer guard.Release()

	var address, until string
	p.mgr.MustRead(func(s *state.State) {
		address = s.ContractAddress
		until = s.LastKnownSignature
	})

	slog.Debug("searching for new signatures", "until", until)

	signatures, err := p.rpc.GetSignaturesForAddress(ctx, address, 1, "", until)
	if err != nil {
		slog.Info("failed to get signatures for address", "error", err)
		return
	}

	switch len(signatures) {
	case 0:
		slog.Debug("no new signatures found")
	case 1:
		newest := signatures[0].Signature
		slog.Debug("new signature found", "signature", newest)
		if err := p.mgr.ProcessEvents(
			events.LastKnownSignature{Sig: newest},
			events.NewRange{Range: events.NewSignatureRange(newest, until)},
		); err != nil {
			slog.Error("failed to record new signature range", "error", err)
		}
	default:
		// A limit-1 call returning more than one entry is a provider anomaly.
		slog.Info("unexpected signature count from provider", "count", len(signatures))
	}
}

// ScanSignatureRanges enumerates every pending range below the retry limit.
func (p *Pipeline) ScanSignatureRanges(ctx context.Context) {
	guard, err := state.NewTimerGuard(p.mgr, state.TaskScanSignatureRanges)
	if err != nil {
		return
	}
	defer guard.Release()

	var (
		address string
		ranges  []events.SignatureRange
	)
	p.mgr.MustRead(func(s *state.State) {
		address = s.ContractAddress
		for _, r := range s.SignatureRanges {
			if !r.Retries.LimitReached(config.SignatureRangeRetryLimit) {
				ranges = append(ranges, r)
			}
		}
	})

	slog.Debug("processing signature ranges", "count", len(ranges))

	for _, r := range ranges {
		p.walkRange(ctx, address, r)
	}
}

// walkRange pages through one range with before-exclusive calls. The range's
// own before bound is acknowledged exactly once, on the first successful
// page, because the RPC call never returns it.
func (p *Pipeline) walkRange(ctx context.Context, address string, r events.SignatureRange) {
	before := r.BeforeSig
	until := r.UntilSig

	var collected []string
	successfulCall := false

	for {
		slog.Debug("scanning range",
			"before", before,
			"until", until,
			"limit", config.GetSignaturesLimit,
		)

		signatures, err := p.rpc.GetSignaturesForAddress(ctx, address, config.GetSignaturesLimit, before, until)
		if err != nil {
			p.retryRange(r, before, until, rpcCallFailed(err))
			break
		}

		if !successfulCall {
			collected = append(collected, before)
			successfulCall = true
		}

		if len(signatures) == 0 {
			p.removeRange(r)
			break
		}

		for _, sig := range signatures {
			collected = append(collected, sig.Signature)
		}
		before = signatures[len(signatures)-1].Signature
	}

	if !successfulCall {
		return
	}
	for _, sig := range collected {
		p.recordSignature(events.NewSignature(sig), nil)
	}
}

// ScanSignatures fetches and classifies the pending signatures below the
// retry limit.
func (p *Pipeline) ScanSignatures(ctx context.Context) {
	guard, err := state.NewTimerGuard(p.mgr, state.TaskScanSignatures)
	if err != nil {
		return
	}
	defer guard.Release()

	var (
		contractAddress string
		pending         []events.Signature
	)
	p.mgr.MustRead(func(s *state.State) {
		contractAddress = s.ContractAddress
		for _, sig := range s.Signatures {
			if !sig.Retries.LimitReached(config.SignatureRetryLimit) {
				pending = append(pending, sig)
			}
		}
	})

	slog.Debug("processing signatures", "count", len(pending))

	for start := 0; start < len(pending); start += config.GetTransactionsBatchLimit {
		end := start + config.GetTransactionsBatchLimit
		if end > len(pending) {
			end = len(pending)
		}
		chunk := pending[start:end]

		sigs := make([]string, len(chunk))
		for i, sig := range chunk {
			sigs[i] = sig.Sig
		}

		results, err := p.rpc.GetTransactions(ctx, sigs)
		if err != nil {
			// The whole batch failed; every member retries later.
			for _, sig := range chunk {
				p.recordSignature(sig, rpcCallFailed(err))
			}
			continue
		}

		for _, sig := range chunk {
			result := results[sig.Sig]
			switch {
			case result.Err != nil:
				var decodeErr *solrpc.DecodeError
				if errors.As(result.Err, &decodeErr) {
					p.recordInvalid(sig, invalidDepositData(sig.Sig, result.Err))
				} else {
					p.recordSignature(sig, signatureFailed(sig.Sig, result.Err))
				}
			case result.NotFound:
				p.recordSignature(sig, signatureNotFound(sig.Sig))
			default:
				p.classifyTransaction(contractAddress, sig, result.Transaction)
			}
		}
	}
}

// classifyTransaction decides whether a fetched transaction is a deposit. A
// valid deposit needs the deposit instruction marker, the contract success
// marker and a program data line; everything else is terminally invalid.
func (p *Pipeline) classifyTransaction(contractAddress string, sig events.Signature, tx *solrpc.TransactionResponse) {
	successMarker := fmt.Sprintf(config.ProgramSuccessFormat, contractAddress)

	logs := tx.Meta.LogMessages
	hasDeposit := false
	hasSuccess := false
	programData := ""
	for _, line := range logs {
		switch {
		case line == config.DepositInstructionMarker:
			hasDeposit = true
		case line == successMarker:
			hasSuccess = true
		case programData == "" && strings.HasPrefix(line, config.ProgramDataPrefix):
			programData = strings.TrimPrefix(line, config.ProgramDataPrefix)
		}
	}

	if !hasDeposit || !hasSuccess || programData == "" {
		p.recordInvalid(sig, nonDepositTransaction(sig.Sig))
		return
	}

	if len(tx.Transaction.Signatures) == 0 || len(tx.Transaction.Message.AccountKeys) == 0 {
		p.recordInvalid(sig, invalidDepositData(sig.Sig, fmt.Errorf("transaction has no signatures or account keys")))
		return
	}
	solSig := tx.Transaction.Signatures[0]
	fromAddress := tx.Transaction.Message.AccountKeys[0]

	dep, err := events.NewDepositEvent(p.mgr.NextDepositID(), solSig, fromAddress, programData)
	if err != nil {
		p.recordInvalid(sig, invalidDepositData(sig.Sig, err))
		return
	}

	slog.Debug("deposit transaction found",
		"signature", sig.Sig,
		"amount", dep.Amount,
		"to", dep.ToICPAddress.Text(),
	)
	p.recordAccepted(dep, nil)
}

// MintGSol mints every accepted deposit below the mint retry limit.
func (p *Pipeline) MintGSol(ctx context.Context) {
	guard, err := state.NewTimerGuard(p.mgr, state.TaskMintGSol)
	if err != nil {
		return
	}
	defer guard.Release()

	var deposits []events.DepositEvent
	p.mgr.MustRead(func(s *state.State) {
		for _, dep := range s.AcceptedEvents {
			if !dep.Retries.LimitReached(config.MintRetryLimit) {
				deposits = append(deposits, dep)
			}
		}
	})

	slog.Debug("minting gsol", "count", len(deposits))

	for _, dep := range deposits {
		p.mintOne(ctx, dep)
	}
}

func (p *Pipeline) mintOne(ctx context.Context, dep events.DepositEvent) {
	memo, err := ledger.EncodeMemo(dep.ID)
	if err != nil {
		p.recordAccepted(dep, mintingFailed(err))
		return
	}

	now := p.mgr.Now()
	blockIndex, err := p.ledger.Transfer(ctx, ledger.TransferArgs{
		To:            dep.ToICPAddress,
		Amount:        dep.Amount,
		CreatedAtTime: &now,
		Memo:          memo,
	})
	if err != nil {
		var transferErr *ledger.TransferError
		if errors.As(err, &transferErr) {
			p.recordAccepted(dep, mintingFailed(transferErr))
		} else {
			p.recordAccepted(dep, ledgerUnreachable(err))
		}
		return
	}

	minted := dep
	minted.MintBlockIndex = &blockIndex

	slog.Debug("deposit minted",
		"signature", minted.SolSig,
		"amount", minted.Amount,
		"to", minted.ToICPAddress.Text(),
		"block", blockIndex,
	)
	if err := p.mgr.ProcessEvent(events.MintedEvent{Deposit: minted}); err != nil {
		slog.Error("failed to record minted event", "signature", minted.SolSig, "error", err)
	}
}

// Event emitters.

func (p *Pipeline) recordSignature(sig events.Signature, failure *Error) {
	var reason *string
	if failure != nil {
		msg := failure.Error()
		reason = &msg
		slog.Debug("signature retried", "signature", sig.Sig, "reason", msg)
	} else {
		slog.Debug("transaction found", "signature", sig.Sig)
	}
	if err := p.mgr.ProcessEvent(events.SignatureEvent{Signature: sig, Reason: reason}); err != nil {
		slog.Error("failed to record signature event", "signature", sig.Sig, "error", err)
	}
}

func (p *Pipeline) recordInvalid(sig events.Signature, failure *Error) {
	slog.Debug("signature invalidated", "signature", sig.Sig, "reason", failure.Error())
	if err := p.mgr.ProcessEvent(events.InvalidEvent{Signature: sig, Reason: failure.Error()}); err != nil {
		slog.Error("failed to record invalid event", "signature", sig.Sig, "error", err)
	}
}

func (p *Pipeline) recordAccepted(dep events.DepositEvent, failure *Error) {
	var reason *string
	if failure != nil {
		msg := failure.Error()
		reason = &msg
		slog.Debug("deposit retried", "signature", dep.SolSig, "reason", msg)
	}
	if err := p.mgr.ProcessEvent(events.AcceptedEvent{Deposit: dep, Reason: reason}); err != nil {
		slog.Error("failed to record accepted event", "signature", dep.SolSig, "error", err)
	}
}

func (p *Pipeline) retryRange(r events.SignatureRange, before, until string, failure *Error) {
	reason := fmt.Sprintf("failed to get signatures for address: before %s until %s: %v", before, until, failure)
	slog.Debug("range retried", "before", before, "until", until, "reason", reason)

	sub := events.NewSignatureRange(before, until)
	if err := p.mgr.ProcessEvent(events.RetryRange{
		Range:          r,
		FailedSubRange: &sub,
		Reason:         reason,
	}); err != nil {
		slog.Error("failed to record retry range event", "range", r.Key(), "error", err)
	}
}

func (p *Pipeline) removeRange(r events.SignatureRange) {
	slog.Debug("range completed", "before", r.BeforeSig, "until", r.UntilSig)
	if err := p.mgr.ProcessEvent(events.RemoveRange{Range: r}); err != nil {
		slog.Error("failed to record remove range event", "range", r.Key(), "error", err)
	}
}
