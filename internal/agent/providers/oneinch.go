package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/chainlens-core/server/internal/agent/model"
	errx "github.com/chainlens-core/server/internal/core/error"
)

// oneInchChainIDs maps chain names to 1inch chain ids.
var oneInchChainIDs = map[string]int{
	"ethereum":  1,
	"optimism":  10,
	"polygon":   137,
	"binance":   56,
	"arbitrum":  42161,
	"avalanche": 43114,
	"gnosis":    100,
	"fantom":    250,
	"aurora":    1313161554,
	"klaytn":    8217,
	"zksync":    324,
	"base":      8453,
	"linea":     59144,
	"mantle":    501,
}

var oneInchTimeranges = []string{"1day", "1week", "1month", "1year", "3years"}

const (
	oneInchHistoryPath   = "/history/v2.0"
	oneInchPortfolioPath = "/portfolio/portfolio/v4"
	oneInchMaxEvents     = 2048
)

type oneInch struct {
	api *apiClient
}

// NewOneInch builds the 1inch history and portfolio provider. It needs ONEINCH_API_KEY.
func NewOneInch(cfg model.ProviderConfig, client *http.Client) (Provider, error) {
	if cfg.OneInchAPIKey == "" {
		return nil, errx.ProviderUnavailable(ProviderOneInch, errors.New("ONEINCH_API_KEY is not set"))
	}
	o := &oneInch{
		api: newAPIClient(client, cfg.OneInchBaseURL, map[string]string{"Authorization": "Bearer " + cfg.OneInchAPIKey}),
	}
	return o.catalog(), nil
}

func oneInchChainNames() []string {
	names := make([]string, 0, len(oneInchChainIDs))
	for n := range oneInchChainIDs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (o *oneInch) catalog() *Catalog {
	chains := oneInchChainNames()
	portfolio := func(withRange bool) map[string]any {
		p := map[string]param{
			"addresses": {Type: "array", Items: "string", Desc: "Wallet addresses", Required: true},
			"chain":     {Type: "string", Enum: chains, Default: "ethereum"},
			"use_cache": {Type: "boolean", Default: false},
		}
		if withRange {
			p["timerange"] = param{Type: "string", Enum: oneInchTimeranges, Default: "1month"}
		}
		return objectSchema(p)
	}

	return NewCatalog(ProviderOneInch,
		Tool{
			ToolDescriptor: model.ToolDescriptor{
				Name:        "get_address_events",
				Description: "Transaction history events of an address. Amounts are raw integer token units.",
				InputSchema: objectSchema(map[string]param{
					"address":           {Type: "string", Required: true},
					"chain":             {Type: "string", Enum: chains, Default: "base"},
					"limit":             {Type: "integer", Desc: "At most 2048", Default: 100},
					"offset":            {Type: "integer"},
					"token_address":     {Type: "string"},
					"from_timestamp_ms": {Type: "integer"},
					"to_timestamp_ms":   {Type: "integer"},
				}),
			},
			Invoke: o.addressEvents,
		},
		Tool{
			ToolDescriptor: model.ToolDescriptor{
				Name:        "get_portfolio_protocols_value_by_account",
				Description: "Current value of DeFi protocol positions held by the addresses.",
				InputSchema: portfolio(false),
			},
			Invoke: o.portfolio("/overview/protocols/current_value", false),
		},
		Tool{
			ToolDescriptor: model.ToolDescriptor{
				Name:        "get_portfolio_protocol_profit_and_loss_by_account",
				Description: "Profit and loss of DeFi protocol positions over a time range.",
				InputSchema: portfolio(true),
			},
			Invoke: o.portfolio("/overview/protocols/profit_and_loss", true),
		},
		Tool{
			ToolDescriptor: model.ToolDescriptor{
				Name:        "get_portfolio_token_profit_and_loss_by_account",
				Description: "Profit and loss of ERC20 token holdings over a time range.",
				InputSchema: portfolio(true),
			},
			Invoke: o.portfolio("/overview/erc20/profit_and_loss", true),
		},
		Tool{
			ToolDescriptor: model.ToolDescriptor{
				Name:        "get_general_current_value_by_address",
				Description: "Total current wallet value in USD.",
				InputSchema: portfolio(false),
			},
			Invoke: o.portfolio("/general/current_value", false),
		},
		Tool{
			ToolDescriptor: model.ToolDescriptor{
				Name:        "get_general_profit_and_loss_by_address",
				Description: "Total wallet profit and loss over a time range.",
				InputSchema: portfolio(true),
			},
			Invoke: o.portfolio("/general/profit_and_loss", true),
		},
		Tool{
			ToolDescriptor: model.ToolDescriptor{
				Name:        "get_general_value_chart_by_address",
				Description: "Wallet value over time as chart points.",
				InputSchema: portfolio(true),
			},
			Invoke: o.portfolio("/general/value_chart", true),
		},
	)
}

func (o *oneInch) chainID(args Args, def string) (int, error) {
	name := strings.ToLower(args.OptString("chain", def))
	if id, ok := oneInchChainIDs[name]; ok {
		return id, nil
	}
	// numeric ids are passed through when known
	if n, err := strconv.Atoi(name); err == nil {
		for _, id := range oneInchChainIDs {
			if id == n {
				return n, nil
			}
		}
	}
	return 0, fmt.Errorf("unsupported chain %q, must be one of %s", name, strings.Join(oneInchChainNames(), ", "))
}

func (o *oneInch) addressEvents(ctx context.Context, args Args) (any, error) {
	addr, err := args.String("address")
	if err != nil {
		return nil, err
	}
	chainID, err := o.chainID(args, "base")
	if err != nil {
		return nil, err
	}
	limit, err := args.Int("limit", 100)
	if err != nil {
		return nil, err
	}
	q := url.Values{
		"chainId": {strconv.Itoa(chainID)},
		"limit":   {strconv.Itoa(clamp(limit, 1, oneInchMaxEvents))},
	}
	for arg, key := range map[string]string{
		"offset":            "offset",
		"from_timestamp_ms": "fromTimestampMs",
		"to_timestamp_ms":   "toTimestampMs",
	} {
		if !args.has(arg) {
			continue
		}
		n, err := args.Int(arg, 0)
		if err != nil {
			return nil, err
		}
		q.Set(key, strconv.Itoa(n))
	}
	if tok := args.OptString("token_address", ""); tok != "" {
		q.Set("tokenAddress", tok)
	}
	res, err := o.api.get(ctx, oneInchHistoryPath+"/history/"+url.PathEscape(addr)+"/events", q)
	if err != nil {
		return nil, err
	}
	return field(res, "result"), nil
}

func (o *oneInch) portfolio(path string, withRange bool) func(context.Context, Args) (any, error) {
	return func(ctx context.Context, args Args) (any, error) {
		addrs := args.Strings("addresses")
		if len(addrs) == 0 {
			return nil, errors.New("addresses is required")
		}
		chainID, err := o.chainID(args, "ethereum")
		if err != nil {
			return nil, err
		}
		q := url.Values{
			"addresses": addrs,
			"chain_id":  {strconv.Itoa(chainID)},
			"use_cache": {strconv.FormatBool(args.Bool("use_cache", false))},
		}
		if withRange {
			tr, err := args.OneOf("timerange", "1month", oneInchTimeranges)
			if err != nil {
				return nil, err
			}
			q.Set("timerange", tr)
		}
		res, err := o.api.get(ctx, oneInchPortfolioPath+path, q)
		if err != nil {
			return nil, err
		}
		return field(res, "result"), nil
	}
}
