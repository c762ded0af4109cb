package providers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/chainlens-core/server/internal/agent/model"
)

var (
	zircuitPeriods = []string{"30", "90", "180", "365"}
	zircuitMonths  = []string{"1", "3", "6", "12"}
)

type zircuit struct {
	api *apiClient
}

// NewZircuit builds the Zircuit explorer provider. The public API needs no key.
func NewZircuit(cfg model.ProviderConfig, client *http.Client) (Provider, error) {
	z := &zircuit{api: newAPIClient(client, cfg.ZircuitBaseURL, nil)}
	return z.catalog(), nil
}

func (z *zircuit) catalog() *Catalog {
	return NewCatalog(ProviderZircuit,
		Tool{
			ToolDescriptor: model.ToolDescriptor{
				Name:        "get_daily_metrics",
				Description: "Daily network metrics: transaction count, unique addresses, deployed contracts, gas used and fees.",
				InputSchema: objectSchema(map[string]param{
					"period": {Type: "string", Desc: "Days of history", Enum: zircuitPeriods, Required: true},
				}),
			},
			Invoke: z.dailyMetrics,
		},
		Tool{
			ToolDescriptor: model.ToolDescriptor{
				Name:        "get_transaction_count",
				Description: "Transaction count over the last months.",
				InputSchema: objectSchema(map[string]param{
					"months": {Type: "string", Enum: zircuitMonths, Default: "1"},
				}),
			},
			Invoke: z.transactionCount,
		},
		Tool{
			ToolDescriptor: model.ToolDescriptor{
				Name:        "get_erc20_token_top_holders",
				Description: "Top holders of an ERC20 token with raw balances.",
				InputSchema: objectSchema(map[string]param{
					"token_addr": {Type: "string", Desc: "Token contract address", Required: true},
					"limit":      {Type: "integer", Default: 100},
				}),
			},
			Invoke: z.topHolders,
		},
		Tool{
			ToolDescriptor: model.ToolDescriptor{
				Name:        "get_internal_transactions_by_address",
				Description: "Internal transactions of an address.",
				InputSchema: objectSchema(map[string]param{
					"address":  {Type: "string", Required: true},
					"limit":    {Type: "integer", Default: 10},
					"next":     {Type: "string", Desc: "Cursor for the next page"},
					"previous": {Type: "string", Desc: "Cursor for the previous page"},
				}),
			},
			Invoke: z.internalTransactions,
		},
	)
}

func (z *zircuit) dailyMetrics(ctx context.Context, args Args) (any, error) {
	if _, err := args.String("period"); err != nil {
		return nil, err
	}
	period, err := args.OneOf("period", "", zircuitPeriods)
	if err != nil {
		return nil, err
	}
	return z.api.get(ctx, "/analytics/metrics/daily", url.Values{"period": {period}})
}

func (z *zircuit) transactionCount(ctx context.Context, args Args) (any, error) {
	months, err := args.OneOf("months", "1", zircuitMonths)
	if err != nil {
		return nil, err
	}
	return z.api.get(ctx, "/transactions/count", url.Values{"months": {months}})
}

func (z *zircuit) topHolders(ctx context.Context, args Args) (any, error) {
	addr, err := args.String("token_addr")
	if err != nil {
		return nil, err
	}
	limit, err := args.Int("limit", 100)
	if err != nil {
		return nil, err
	}
	q := url.Values{"limit": {strconv.Itoa(clamp(limit, 1, 1000))}}
	return z.api.get(ctx, "/erc20tokens/"+url.PathEscape(addr)+"/top-holders", q)
}

func (z *zircuit) internalTransactions(ctx context.Context, args Args) (any, error) {
	addr, err := args.String("address")
	if err != nil {
		return nil, err
	}
	limit, err := args.Int("limit", 10)
	if err != nil {
		return nil, err
	}
	q := url.Values{"limit": {strconv.Itoa(clamp(limit, 1, 1000))}}
	if next := args.OptString("next", ""); next != "" {
		q.Set("next", next)
	}
	if prev := args.OptString("previous", ""); prev != "" {
		q.Set("previous", prev)
	}
	return z.api.get(ctx, "/address/"+url.PathEscape(addr)+"/internal", q)
}
