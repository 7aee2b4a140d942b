package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/weichain/gsol-minter/internal/principal"
)

// HTTPClient talks to an ICRC-1/ICRC-2 HTTP gateway in front of the ledger.
type HTTPClient struct {
	rest     *resty.Client
	ledgerID principal.Principal
}

// NewHTTPClient creates a ledger client for the gateway at baseURL.
func NewHTTPClient(baseURL string, ledgerID principal.Principal) *HTTPClient {
	rest := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json")

	slog.Info("ledger client created",
		"ledgerID", ledgerID.Text(),
		"baseURL", baseURL,
	)
	return &HTTPClient{rest: rest, ledgerID: ledgerID}
}

// transferResponse is the gateway's answer to both calls: either a block
// index or a typed error.
type transferResponse struct {
	BlockIndex *uint64        `json:"block_index,omitempty"`
	Error      *TransferError `json:"error,omitempty"`
}

// Transfer executes an ICRC-1 transfer (a mint, from the minting account).
func (c *HTTPClient) Transfer(ctx context.Context, args TransferArgs) (uint64, error) {
	return c.post(ctx, fmt.Sprintf("/ledger/%s/icrc1/transfer", c.ledgerID.Text()), args)
}

// TransferFrom executes an ICRC-2 transfer_from (a burn via allowance).
func (c *HTTPClient) TransferFrom(ctx context.Context, args TransferFromArgs) (uint64, error) {
	return c.post(ctx, fmt.Sprintf("/ledger/%s/icrc2/transfer_from", c.ledgerID.Text()), args)
}

func (c *HTTPClient) post(ctx context.Context, path string, body any) (uint64, error) {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)
	if err != nil {
		return 0, fmt.Errorf("ledger call failed: %w", err)
	}

	var decoded transferResponse
	if err := json.Unmarshal(resp.Body(), &decoded); err != nil {
		return 0, fmt.Errorf("failed to decode ledger response (status %d): %w", resp.StatusCode(), err)
	}

	if decoded.Error != nil {
		return 0, decoded.Error
	}
	if decoded.BlockIndex == nil {
		return 0, fmt.Errorf("ledger response has neither block index nor error (status %d)", resp.StatusCode())
	}
	return *decoded.BlockIndex, nil
}
