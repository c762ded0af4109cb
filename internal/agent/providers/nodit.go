package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/chainlens-core/server/internal/agent/model"
	errx "github.com/chainlens-core/server/internal/core/error"
)

var (
	noditChains   = []string{"ethereum", "arbitrum", "optimism", "base", "polygon", "avalanche"}
	noditNetworks = []string{"mainnet", "sepolia"}
	noditEvents   = []string{
		"ADDRESS_ACTIVITY", "MINED_TRANSACTION", "SUCCESSFUL_TRANSACTION", "FAILED_TRANSACTION",
		"TOKEN_TRANSFER", "BELOW_THRESHOLD_BALANCE", "BLOCK_PERIOD", "BLOCK_LIST_CALLER",
		"ALLOW_LIST_CALLER", "LOG",
	}
)

const noditMaxRPP = 100

type nodit struct {
	api *apiClient
	now func() time.Time
}

// NewNodit builds the Nodit Web3 Data API provider. It needs NODIT_API_KEY.
func NewNodit(cfg model.ProviderConfig, client *http.Client) (Provider, error) {
	if cfg.NoditAPIKey == "" {
		return nil, errx.ProviderUnavailable(ProviderNodit, errors.New("NODIT_API_KEY is not set"))
	}
	return newNodit(cfg, client, time.Now).catalog(), nil
}

func newNodit(cfg model.ProviderConfig, client *http.Client, now func() time.Time) *nodit {
	return &nodit{
		api: newAPIClient(client, cfg.NoditBaseURL, map[string]string{"X-API-KEY": cfg.NoditAPIKey}),
		now: now,
	}
}

func chainParams(defChain string) map[string]param {
	return map[string]param{
		"blockchain": {Type: "string", Desc: "Blockchain to query", Enum: noditChains, Default: defChain},
		"network":    {Type: "string", Desc: "Network to query", Enum: noditNetworks, Default: "mainnet"},
	}
}

func withParams(base map[string]param, extra map[string]param) map[string]param {
	for k, v := range extra {
		base[k] = v
	}
	return base
}

func (n *nodit) catalog() *Catalog {
	page := map[string]param{
		"rpp":    {Type: "integer", Desc: "Results per page, at most 100", Default: 20},
		"cursor": {Type: "string", Desc: "Pagination cursor from a previous response"},
	}
	dates := map[string]param{
		"start_date": {Type: "string", Desc: "Start date YYYY-MM-DD, defaults to 30 days ago. At most 100 days before end_date."},
		"end_date":   {Type: "string", Desc: "End date YYYY-MM-DD, defaults to today"},
	}
	sub := map[string]param{
		"subscription_id": {Type: "string", Desc: "Webhook subscription id", Required: true},
	}

	return NewCatalog(ProviderNodit,
		Tool{
			ToolDescriptor: model.ToolDescriptor{
				Name:        "get_tokens_owned_by_account",
				Description: "List ERC20 tokens and balances owned by an account. Balances are raw integer amounts in the token's smallest unit.",
				InputSchema: objectSchema(withParams(withParams(chainParams("arbitrum"), page), map[string]param{
					"account_address": {Type: "string", Desc: "Account address", Required: true},
				})),
			},
			Invoke: n.accountTokenQuery("getTokensOwnedByAccount", false),
		},
		Tool{
			ToolDescriptor: model.ToolDescriptor{
				Name:        "get_token_holders_by_contract",
				Description: "List holders of a token contract with their raw balances.",
				InputSchema: objectSchema(withParams(withParams(chainParams("arbitrum"), page), map[string]param{
					"contract_address": {Type: "string", Desc: "Token contract address", Required: true},
				})),
			},
			Invoke: n.contractTokenQuery("getTokenHoldersByContract", false),
		},
		Tool{
			ToolDescriptor: model.ToolDescriptor{
				Name:        "get_token_transfers_by_account",
				Description: "List token transfers sent or received by an account.",
				InputSchema: objectSchema(withParams(withParams(chainParams("arbitrum"), page), map[string]param{
					"account_address": {Type: "string", Desc: "Account address", Required: true},
					"sort":            {Type: "string", Enum: []string{"asc", "desc"}, Default: "desc"},
				})),
			},
			Invoke: n.accountTokenQuery("getTokenTransfersByAccount", true),
		},
		Tool{
			ToolDescriptor: model.ToolDescriptor{
				Name:        "get_token_transfers_by_contract",
				Description: "List transfers of a token contract.",
				InputSchema: objectSchema(withParams(withParams(chainParams("arbitrum"), page), map[string]param{
					"contract_address": {Type: "string", Desc: "Token contract address", Required: true},
					"sort":             {Type: "string", Enum: []string{"asc", "desc"}, Default: "desc"},
				})),
			},
			Invoke: n.contractTokenQuery("getTokenTransfersByContract", true),
		},
		Tool{
			ToolDescriptor: model.ToolDescriptor{
				Name:        "get_token_prices_by_contracts",
				Description: "Get current USD prices for one or more token contracts.",
				InputSchema: objectSchema(withParams(chainParams("arbitrum"), map[string]param{
					"contract_addresses": {Type: "array", Items: "string", Desc: "Token contract addresses", Required: true},
				})),
			},
			Invoke: n.tokenPrices,
		},
		Tool{
			ToolDescriptor: model.ToolDescriptor{
				Name:        "search_token_contract_by_keyword",
				Description: "Search token contracts by name or symbol keyword.",
				InputSchema: objectSchema(withParams(withParams(chainParams("arbitrum"), page), map[string]param{
					"keyword": {Type: "string", Desc: "Name or symbol to search", Required: true},
				})),
			},
			Invoke: n.searchTokens,
		},
		Tool{
			ToolDescriptor: model.ToolDescriptor{
				Name:        "create_webhook",
				Description: "Create a webhook subscription that notifies a URL when an on-chain event matches the condition.",
				InputSchema: objectSchema(withParams(chainParams("ethereum"), map[string]param{
					"event_type":  {Type: "string", Enum: noditEvents, Required: true},
					"webhook_url": {Type: "string", Desc: "URL receiving notifications", Required: true},
					"condition":   {Type: "object", Desc: `Event condition, e.g. {"addresses": ["0x..."]}`, Required: true},
					"description": {Type: "string"},
				})),
			},
			Invoke: n.createWebhook,
		},
		Tool{
			ToolDescriptor: model.ToolDescriptor{
				Name:        "get_webhook",
				Description: "Get a webhook subscription.",
				InputSchema: objectSchema(withParams(chainParams("ethereum"), sub)),
			},
			Invoke: n.webhookByID(http.MethodGet, ""),
		},
		Tool{
			ToolDescriptor: model.ToolDescriptor{
				Name:        "update_webhook",
				Description: "Update the description, URL or condition of a webhook subscription.",
				InputSchema: objectSchema(withParams(withParams(chainParams("ethereum"), sub), map[string]param{
					"description": {Type: "string"},
					"webhook_url": {Type: "string"},
					"condition":   {Type: "object"},
				})),
			},
			Invoke: n.updateWebhook,
		},
		Tool{
			ToolDescriptor: model.ToolDescriptor{
				Name:        "delete_webhook",
				Description: "Delete a webhook subscription.",
				InputSchema: objectSchema(withParams(chainParams("ethereum"), sub)),
			},
			Invoke: n.webhookByID(http.MethodDelete, ""),
		},
		Tool{
			ToolDescriptor: model.ToolDescriptor{
				Name:        "get_webhook_history",
				Description: "List notifications delivered for a webhook subscription.",
				InputSchema: objectSchema(withParams(withParams(chainParams("ethereum"), sub), map[string]param{
					"rpp": {Type: "integer", Default: 20},
				})),
			},
			Invoke: n.webhookByID(http.MethodGet, "/history"),
		},
		Tool{
			ToolDescriptor: model.ToolDescriptor{
				Name:        "get_daily_transaction_stats",
				Description: "Daily transaction counts for a chain.",
				InputSchema: objectSchema(withParams(chainParams("ethereum"), dates)),
			},
			Invoke: n.stats("getDailyTransactionsStats", false),
		},
		Tool{
			ToolDescriptor: model.ToolDescriptor{
				Name:        "get_daily_active_accounts_stats_by_contract",
				Description: "Daily active account counts interacting with a contract.",
				InputSchema: objectSchema(withParams(withParams(chainParams("ethereum"), dates), map[string]param{
					"contract_address": {Type: "string", Required: true},
				})),
			},
			Invoke: n.stats("getDailyActiveAccountsStatsByContract", true),
		},
		Tool{
			ToolDescriptor: model.ToolDescriptor{
				Name:        "get_daily_active_accounts_stats",
				Description: "Daily active account counts for a chain.",
				InputSchema: objectSchema(withParams(chainParams("ethereum"), dates)),
			},
			Invoke: n.stats("getDailyActiveAccountsStats", false),
		},
	)
}

func (n *nodit) chainPath(args Args, defChain string) (string, error) {
	chain, err := args.OneOf("blockchain", defChain, noditChains)
	if err != nil {
		return "", err
	}
	network, err := args.OneOf("network", "mainnet", noditNetworks)
	if err != nil {
		return "", err
	}
	return "/" + chain + "/" + network, nil
}

func pageBody(args Args, body map[string]any) (map[string]any, error) {
	rpp, err := args.Int("rpp", 20)
	if err != nil {
		return nil, err
	}
	body["rpp"] = clamp(rpp, 1, noditMaxRPP)
	if cursor := args.OptString("cursor", ""); cursor != "" {
		body["cursor"] = cursor
	}
	return body, nil
}

func (n *nodit) accountTokenQuery(op string, sorted bool) func(context.Context, Args) (any, error) {
	return func(ctx context.Context, args Args) (any, error) {
		return n.tokenQuery(ctx, args, op, "account_address", "accountAddress", sorted)
	}
}

func (n *nodit) contractTokenQuery(op string, sorted bool) func(context.Context, Args) (any, error) {
	return func(ctx context.Context, args Args) (any, error) {
		return n.tokenQuery(ctx, args, op, "contract_address", "contractAddress", sorted)
	}
}

func (n *nodit) tokenQuery(ctx context.Context, args Args, op, argKey, bodyKey string, sorted bool) (any, error) {
	base, err := n.chainPath(args, "arbitrum")
	if err != nil {
		return nil, err
	}
	addr, err := args.String(argKey)
	if err != nil {
		return nil, err
	}
	body, err := pageBody(args, map[string]any{bodyKey: addr})
	if err != nil {
		return nil, err
	}
	if sorted {
		sort, err := args.OneOf("sort", "desc", []string{"asc", "desc"})
		if err != nil {
			return nil, err
		}
		body["sort"] = sort
	}
	return n.api.post(ctx, base+"/token/"+op, body)
}

func (n *nodit) tokenPrices(ctx context.Context, args Args) (any, error) {
	base, err := n.chainPath(args, "arbitrum")
	if err != nil {
		return nil, err
	}
	addrs := args.Strings("contract_addresses")
	if len(addrs) == 0 {
		return nil, errors.New("contract_addresses is required")
	}
	return n.api.post(ctx, base+"/token/getTokenPricesByContracts", map[string]any{"contractAddresses": addrs})
}

func (n *nodit) searchTokens(ctx context.Context, args Args) (any, error) {
	base, err := n.chainPath(args, "arbitrum")
	if err != nil {
		return nil, err
	}
	kw, err := args.String("keyword")
	if err != nil {
		return nil, err
	}
	body, err := pageBody(args, map[string]any{"keyword": kw})
	if err != nil {
		return nil, err
	}
	return n.api.post(ctx, base+"/token/searchTokenContractMetadataByKeyword", body)
}

func (n *nodit) createWebhook(ctx context.Context, args Args) (any, error) {
	base, err := n.chainPath(args, "ethereum")
	if err != nil {
		return nil, err
	}
	event, err := args.String("event_type")
	if err != nil {
		return nil, err
	}
	if _, err := args.OneOf("event_type", event, noditEvents); err != nil {
		return nil, err
	}
	hookURL, err := args.String("webhook_url")
	if err != nil {
		return nil, err
	}
	cond := args.Map("condition")
	if cond == nil {
		return nil, errors.New("condition is required")
	}
	payload := map[string]any{
		"eventType":    event,
		"notification": map[string]any{"webhookUrl": hookURL},
		"condition":    cond,
	}
	if d := args.OptString("description", ""); d != "" {
		payload["description"] = d
	}
	return n.api.post(ctx, base+"/webhooks", payload)
}

func (n *nodit) updateWebhook(ctx context.Context, args Args) (any, error) {
	base, err := n.chainPath(args, "ethereum")
	if err != nil {
		return nil, err
	}
	id, err := args.String("subscription_id")
	if err != nil {
		return nil, err
	}
	payload := map[string]any{}
	if d := args.OptString("description", ""); d != "" {
		payload["description"] = d
	}
	if u := args.OptString("webhook_url", ""); u != "" {
		payload["notification"] = map[string]any{"webhookUrl": u}
	}
	if c := args.Map("condition"); c != nil {
		payload["condition"] = c
	}
	if len(payload) == 0 {
		return nil, errors.New("at least one of description, webhook_url or condition must be provided")
	}
	return n.api.do(ctx, http.MethodPatch, base+"/webhooks/"+url.PathEscape(id), nil, payload)
}

func (n *nodit) webhookByID(method, suffix string) func(context.Context, Args) (any, error) {
	return func(ctx context.Context, args Args) (any, error) {
		base, err := n.chainPath(args, "ethereum")
		if err != nil {
			return nil, err
		}
		id, err := args.String("subscription_id")
		if err != nil {
			return nil, err
		}
		var query url.Values
		if suffix == "/history" {
			rpp, err := args.Int("rpp", 20)
			if err != nil {
				return nil, err
			}
			query = url.Values{"rpp": {strconv.Itoa(clamp(rpp, 1, noditMaxRPP))}}
		}
		res, err := n.api.do(ctx, method, base+"/webhooks/"+url.PathEscape(id)+suffix, query, nil)
		if err != nil {
			return nil, err
		}
		if method == http.MethodDelete {
			return map[string]any{
				"status":  "success",
				"message": fmt.Sprintf("Webhook subscription %s deleted successfully", id),
			}, nil
		}
		return res, nil
	}
}

func (n *nodit) stats(op string, byContract bool) func(context.Context, Args) (any, error) {
	return func(ctx context.Context, args Args) (any, error) {
		base, err := n.chainPath(args, "ethereum")
		if err != nil {
			return nil, err
		}
		now := n.now()
		body := map[string]any{
			"startDate": args.OptString("start_date", now.AddDate(0, 0, -30).Format(time.DateOnly)),
			"endDate":   args.OptString("end_date", now.Format(time.DateOnly)),
		}
		if byContract {
			addr, err := args.String("contract_address")
			if err != nil {
				return nil, err
			}
			body["contractAddress"] = addr
		}
		return n.api.post(ctx, base+"/stats/"+op, body)
	}
}
