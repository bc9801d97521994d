package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the safetransfer MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolGetEscrow = mcp.NewTool("get_escrow",
	mcp.WithDescription(
		"Read an escrow record by its record address. "+
			"Shows the parties, asset, locked amount, stage (initialized, completed, pulled_back) and timestamps."),
	mcp.WithString("record_address",
		mcp.Required(),
		mcp.Description("Base58 or 0x-hex record address returned when the escrow was initialized")),
)

var ToolDeriveAddresses = mcp.NewTool("derive_addresses",
	mcp.WithDescription(
		"Compute the record and holding addresses of an escrow instance without touching the ledger. "+
			"The same sender, receiver, asset and instance id always map to the same addresses."),
	mcp.WithString("sender", mcp.Required(), mcp.Description("Sender address")),
	mcp.WithString("receiver", mcp.Required(), mcp.Description("Receiver address")),
	mcp.WithString("asset", mcp.Required(), mcp.Description("Token asset address")),
	mcp.WithString("instance_id", mcp.Required(),
		mcp.Description("Unsigned 64-bit instance id chosen by the sender, as a decimal string")),
)

var ToolGetTokenBalance = mcp.NewTool("get_token_balance",
	mcp.WithDescription(
		"Get the token balance of an owner's associated token account for one asset. "+
			"Defaults to your own address when owner is omitted."),
	mcp.WithString("asset", mcp.Required(), mcp.Description("Token asset address")),
	mcp.WithString("owner", mcp.Description("Owner address (defaults to your address)")),
)

var ToolInitializeEscrow = mcp.NewTool("initialize_escrow",
	mcp.WithDescription(
		"Lock tokens in a new escrow with you as the sender. "+
			"The amount moves from your associated token account into a holding account "+
			"that only complete_escrow (by the receiver) or pull_back_escrow (by you) can empty."),
	mcp.WithString("receiver", mcp.Required(), mcp.Description("Receiver address")),
	mcp.WithString("asset", mcp.Required(), mcp.Description("Token asset address")),
	mcp.WithString("amount", mcp.Required(), mcp.Description("Amount in base units, as a decimal string")),
	mcp.WithString("instance_id", mcp.Required(),
		mcp.Description("Unused instance id for this sender/receiver/asset, as a decimal string")),
)

var ToolCompleteEscrow = mcp.NewTool("complete_escrow",
	mcp.WithDescription(
		"Release an escrow to yourself as the receiver. "+
			"Tokens arrive in your associated token account, which is created if missing."),
	mcp.WithString("sender", mcp.Required(), mcp.Description("Sender address")),
	mcp.WithString("asset", mcp.Required(), mcp.Description("Token asset address")),
	mcp.WithString("instance_id", mcp.Required(), mcp.Description("Instance id, as a decimal string")),
)

var ToolPullBackEscrow = mcp.NewTool("pull_back_escrow",
	mcp.WithDescription(
		"Return an escrow's tokens to yourself as the sender. "+
			"Only possible while the escrow is still initialized."),
	mcp.WithString("receiver", mcp.Required(), mcp.Description("Receiver address")),
	mcp.WithString("asset", mcp.Required(), mcp.Description("Token asset address")),
	mcp.WithString("instance_id", mcp.Required(), mcp.Description("Instance id, as a decimal string")),
)
