package config

import "time"

// Task intervals. Every task also fires once immediately at startup.
const (
	GetLatestSignatureInterval  = 1 * time.Minute
	ScanSignatureRangesInterval = 3 * time.Minute
	ScanSignaturesInterval      = 3 * time.Minute
	MintGSolInterval            = 3 * time.Minute
)

// Retry limits. Entries past their limit stay in state for operator
// inspection but are filtered out of the scan set.
const (
	SignatureRangeRetryLimit = 100
	SignatureRetryLimit      = 100
	MintRetryLimit           = 100
)

// Solana RPC call shaping.
const (
	GetSignaturesLimit        = 10 // getSignaturesForAddress page size
	GetTransactionsBatchLimit = 1  // getTransaction entries per batched request
)

// Outbound response sizing. Headers on most providers fit well under the
// limit; the per-entry estimates were measured against memo-less entries.
const (
	HeaderSizeLimit                 = 2 * 1024
	HTTPMaxSize                     = 2_000_000
	MaxPayloadSize                  = HTTPMaxSize - HeaderSizeLimit
	SignatureResponseSizeEstimate   = 500
	TransactionResponseSizeEstimate = 2200
)

// Outbound call cycle pricing.
const (
	RPCBaseCycles        = 400_000_000
	RPCCyclesPerRespByte = 100_000
	RPCBaseSubnetSize    = 13
	RPCSubnetSize        = 34
	SignWithEcdsaCycles  = 10_000_000_000
)

// Deposit transaction log markers. The success marker is completed with the
// configured contract address at classification time.
const (
	DepositInstructionMarker = "Program log: Instruction: Deposit"
	ProgramSuccessFormat     = "Program %s success"
	ProgramDataPrefix        = "Program data: "
)

// Ledger memo encoding is capped by the ledger at 32 bytes.
const LedgerMemoSizeLimit = 32

// Logging
const (
	LogFilePattern = "minter-%s-%s.log"
	LogMaxAgeDays  = 14
)
