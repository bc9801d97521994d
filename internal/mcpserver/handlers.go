package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/safetransfer/internal/address"
	"github.com/mbd888/safetransfer/internal/apiclient"
	"github.com/mbd888/safetransfer/internal/escrow"
	"github.com/mbd888/safetransfer/internal/signing"
)

// Handlers implements MCP tool handlers against a safetransfer server.
// Signing tools act as key; read-only tools work without one.
type Handlers struct {
	client *apiclient.Client
	key    *signing.Key
	scheme signing.Scheme

	mu      sync.Mutex
	program address.Address
}

// NewHandlers creates handlers. key may be nil.
func NewHandlers(client *apiclient.Client, key *signing.Key, scheme signing.Scheme) *Handlers {
	return &Handlers{client: client, key: key, scheme: scheme}
}

// programID fetches and caches the server's program address.
func (h *Handlers) programID(ctx context.Context) (address.Address, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.program.IsZero() {
		return h.program, nil
	}
	info, err := h.client.Info(ctx)
	if err != nil {
		return address.Zero, err
	}
	h.program = info.Program
	return h.program, nil
}

// HandleGetEscrow reads a record.
func (h *Handlers) HandleGetEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	addr, errResult := requireAddress(req, "record_address")
	if errResult != nil {
		return errResult, nil
	}

	res, err := h.client.GetEscrow(ctx, addr)
	if err != nil {
		return toolError("Failed to get escrow", err), nil
	}
	return mcp.NewToolResultText(formatEscrow("Escrow", res)), nil
}

// HandleDeriveAddresses derives the record and holding addresses.
func (h *Handlers) HandleDeriveAddresses(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sender, errResult := requireAddress(req, "sender")
	if errResult != nil {
		return errResult, nil
	}
	receiver, errResult := requireAddress(req, "receiver")
	if errResult != nil {
		return errResult, nil
	}
	t, errResult := tupleArgs(req, sender, receiver)
	if errResult != nil {
		return errResult, nil
	}

	d, err := h.client.Derive(ctx, t)
	if err != nil {
		return toolError("Failed to derive addresses", err), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Program: %s\n", d.Program)
	fmt.Fprintf(&sb, "Record:  %s (bump %d)\n", d.Addresses.Record, d.Addresses.RecordBump)
	fmt.Fprintf(&sb, "Holding: %s (bump %d)\n", d.Addresses.Holding, d.Addresses.HoldingBump)
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleGetTokenBalance reads an associated token account balance.
func (h *Handlers) HandleGetTokenBalance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	asset, errResult := requireAddress(req, "asset")
	if errResult != nil {
		return errResult, nil
	}

	var owner address.Address
	if s := req.GetString("owner", ""); s != "" {
		a, err := address.Parse(s)
		if err != nil {
			return mcp.NewToolResultError("owner is not a valid address"), nil
		}
		owner = a
	} else if h.key != nil {
		owner = h.key.Address()
	} else {
		return mcp.NewToolResultError("owner is required when no signing key is configured"), nil
	}

	bal, err := h.client.TokenBalance(ctx, owner, asset)
	if err != nil {
		return toolError("Failed to get balance", err), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Owner:   %s\n", bal.Owner)
	fmt.Fprintf(&sb, "Asset:   %s\n", bal.Asset)
	fmt.Fprintf(&sb, "Account: %s\n", bal.Account)
	if !bal.Exists {
		sb.WriteString("Balance: 0 (account not created yet)\n")
	} else {
		fmt.Fprintf(&sb, "Balance: %d\n", bal.Amount)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleInitializeEscrow locks tokens with the configured key as sender.
func (h *Handlers) HandleInitializeEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if h.key == nil {
		return noKey(), nil
	}
	receiver, errResult := requireAddress(req, "receiver")
	if errResult != nil {
		return errResult, nil
	}
	t, errResult := tupleArgs(req, h.key.Address(), receiver)
	if errResult != nil {
		return errResult, nil
	}
	amount, err := strconv.ParseUint(req.GetString("amount", ""), 10, 64)
	if err != nil {
		return mcp.NewToolResultError("amount must be an unsigned integer"), nil
	}

	program, err := h.programID(ctx)
	if err != nil {
		return toolError("Failed to reach server", err), nil
	}
	r := escrow.InitializeRequest{Tuple: t, Amount: amount}
	if err := r.Sign(h.key, program, h.scheme); err != nil {
		return toolError("Failed to sign", err), nil
	}

	res, err := h.client.Initialize(ctx, r)
	if err != nil {
		return toolError("Initialize failed", err), nil
	}
	return mcp.NewToolResultText(formatEscrow("Escrow initialized", res)), nil
}

// HandleCompleteEscrow releases an escrow with the configured key as receiver.
func (h *Handlers) HandleCompleteEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if h.key == nil {
		return noKey(), nil
	}
	sender, errResult := requireAddress(req, "sender")
	if errResult != nil {
		return errResult, nil
	}
	t, errResult := tupleArgs(req, sender, h.key.Address())
	if errResult != nil {
		return errResult, nil
	}

	program, err := h.programID(ctx)
	if err != nil {
		return toolError("Failed to reach server", err), nil
	}
	r := escrow.CompleteRequest{Tuple: t}
	if err := r.Sign(h.key, program, h.scheme); err != nil {
		return toolError("Failed to sign", err), nil
	}

	res, err := h.client.Complete(ctx, r)
	if err != nil {
		return toolError("Complete failed", err), nil
	}
	return mcp.NewToolResultText(formatEscrow("Escrow completed", res)), nil
}

// HandlePullBackEscrow refunds an escrow with the configured key as sender.
func (h *Handlers) HandlePullBackEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if h.key == nil {
		return noKey(), nil
	}
	receiver, errResult := requireAddress(req, "receiver")
	if errResult != nil {
		return errResult, nil
	}
	t, errResult := tupleArgs(req, h.key.Address(), receiver)
	if errResult != nil {
		return errResult, nil
	}

	program, err := h.programID(ctx)
	if err != nil {
		return toolError("Failed to reach server", err), nil
	}
	r := escrow.PullBackRequest{Tuple: t}
	if err := r.Sign(h.key, program, h.scheme); err != nil {
		return toolError("Failed to sign", err), nil
	}

	res, err := h.client.PullBack(ctx, r)
	if err != nil {
		return toolError("Pull back failed", err), nil
	}
	return mcp.NewToolResultText(formatEscrow("Escrow pulled back", res)), nil
}

// --- Argument helpers ---

func requireAddress(req mcp.CallToolRequest, name string) (address.Address, *mcp.CallToolResult) {
	s := req.GetString(name, "")
	if s == "" {
		return address.Zero, mcp.NewToolResultError(name + " is required")
	}
	a, err := address.Parse(s)
	if err != nil {
		return address.Zero, mcp.NewToolResultError(name + " is not a valid address")
	}
	return a, nil
}

func tupleArgs(req mcp.CallToolRequest, sender, receiver address.Address) (escrow.Tuple, *mcp.CallToolResult) {
	asset, errResult := requireAddress(req, "asset")
	if errResult != nil {
		return escrow.Tuple{}, errResult
	}
	id, err := strconv.ParseUint(req.GetString("instance_id", ""), 10, 64)
	if err != nil {
		return escrow.Tuple{}, mcp.NewToolResultError("instance_id must be an unsigned integer")
	}
	return escrow.Tuple{Sender: sender, Receiver: receiver, Asset: asset, InstanceID: id}, nil
}

func noKey() *mcp.CallToolResult {
	return mcp.NewToolResultError("no signing key configured; set SAFETRANSFER_KEY")
}

// toolError reports err to the model, leading with the error kind when the
// server sent one.
func toolError(prefix string, err error) *mcp.CallToolResult {
	if code := apiclient.ErrorCode(err); code != "" {
		return mcp.NewToolResultError(fmt.Sprintf("%s [%s]: %v", prefix, code, err))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

// --- Formatting helpers ---

func formatEscrow(title string, res *escrow.Result) string {
	var sb strings.Builder
	sb.WriteString(title + "\n")
	fmt.Fprintf(&sb, "Record:   %s\n", res.RecordAddress)
	if rec := res.Record; rec != nil {
		fmt.Fprintf(&sb, "Stage:    %s\n", rec.Stage)
		fmt.Fprintf(&sb, "Instance: %d\n", rec.InstanceID)
		fmt.Fprintf(&sb, "Sender:   %s\n", rec.Sender)
		fmt.Fprintf(&sb, "Receiver: %s\n", rec.Receiver)
		fmt.Fprintf(&sb, "Asset:    %s\n", rec.Asset)
		fmt.Fprintf(&sb, "Amount:   %d\n", rec.Amount)
		fmt.Fprintf(&sb, "Holding:  %s\n", rec.HoldingAddress)
	}
	if !res.TokenAccount.IsZero() {
		fmt.Fprintf(&sb, "Token account: %s\n", res.TokenAccount)
	}
	if raw, err := json.MarshalIndent(res, "", "  "); err == nil {
		fmt.Fprintf(&sb, "\n%s", raw)
	}
	return sb.String()
}
