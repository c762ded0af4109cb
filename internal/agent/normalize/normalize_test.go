package normalize

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var bigIntComparer = cmp.Comparer(func(a, b *big.Int) bool { return a.Cmp(b) == 0 })

func TestCoerceNumericStrings(t *testing.T) {
	huge, _ := new(big.Int).SetString("123456789012345678901234567890", 10)

	in := map[string]any{
		"balance":  "1000000000000000000",
		"decimals": "18",
		"price":    "1234.5678",
		"whole":    "1e3",
		"negative": "-42",
		"huge":     "123456789012345678901234567890",
		"address":  "0xAbCd000000000000000000000000000000001234",
		"symbol":   "ETH",
		"padded":   " 12 ",
		"nan":      "NaN",
		"empty":    "",
		"flag":     true,
		"count":    int64(7),
		"nested": map[string]any{
			"amounts": []any{"1", "2.5", "x"},
		},
	}

	want := map[string]any{
		"balance":  int64(1000000000000000000),
		"decimals": int64(18),
		"price":    1234.5678,
		"whole":    int64(1000),
		"negative": int64(-42),
		"huge":     huge,
		"address":  "0xAbCd000000000000000000000000000000001234",
		"symbol":   "ETH",
		"padded":   " 12 ",
		"nan":      "NaN",
		"empty":    "",
		"flag":     true,
		"count":    int64(7),
		"nested": map[string]any{
			"amounts": []any{int64(1), 2.5, "x"},
		},
	}

	got := CoerceNumericStrings(in)
	if diff := cmp.Diff(want, got, bigIntComparer); diff != "" {
		t.Fatalf("CoerceNumericStrings mismatch (-want +got):\n%s", diff)
	}

	// input untouched
	assert.Equal(t, "18", in["decimals"])
}

func TestCoerceIntegerStringsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.StringMatching(`[0-9]{1,40}`).Draw(t, "digits")
		want, ok := new(big.Int).SetString(s, 10)
		if !ok {
			t.Fatalf("bad generator input %q", s)
		}

		switch got := CoerceNumericStrings(s).(type) {
		case int64:
			if !want.IsInt64() || want.Int64() != got {
				t.Fatalf("%q: got int64 %d, want %s", s, got, want)
			}
		case *big.Int:
			if want.IsInt64() || got.Cmp(want) != 0 {
				t.Fatalf("%q: got big %s, want %s", s, got, want)
			}
		default:
			t.Fatalf("%q: unexpected type %T", s, got)
		}
	})
}

func TestCoerceFractionalStringsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		whole := rapid.Int64Range(-1_000_000_000, 1_000_000_000).Draw(t, "whole")
		frac := rapid.StringMatching(`[0-9]{1,12}`).Draw(t, "frac")
		s := fmt.Sprintf("%d.%s", whole, frac)

		want, err := strconv.ParseFloat(s, 64)
		if err != nil {
			t.Fatalf("bad generator input %q", s)
		}
		got, ok := CoerceNumericStrings(s).(float64)
		if !ok {
			t.Fatalf("%q: expected float64, got %T", s, CoerceNumericStrings(s))
		}
		if got != want {
			t.Fatalf("%q: got %v, want %v", s, got, want)
		}
	})
}

func TestCoerceNonNumericStringsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.StringMatching(`[g-z][a-z _-]{0,20}`).Draw(t, "word")
		if got := CoerceNumericStrings(s); got != s {
			t.Fatalf("%q changed to %v", s, got)
		}
	})
}

func TestCoerceIdempotentProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		values := rapid.SliceOfN(rapid.OneOf(
			rapid.StringMatching(`[0-9]{1,30}`),
			rapid.StringMatching(`-?[0-9]{1,6}\.[0-9]{1,6}`),
			rapid.StringMatching(`[g-z]{1,8}`),
		), 0, 10).Draw(t, "values")

		in := map[string]any{"list": toAny(values)}
		if len(values) > 0 {
			in["first"] = values[0]
		}
		once := CoerceNumericStrings(in)
		twice := CoerceNumericStrings(once)
		if diff := cmp.Diff(once, twice, bigIntComparer); diff != "" {
			t.Fatalf("not idempotent (-once +twice):\n%s", diff)
		}
	})
}

func TestCoerceHugeMagnitudesStayStrings(t *testing.T) {
	tests := []string{
		"1e20000000",
		"1e-20000000",
		"-3.5e2147483000",
		strings.Repeat("9", 400),
		strings.Repeat("9", 400) + ".5",
	}
	start := time.Now()
	for _, in := range tests {
		assert.Equal(t, in, CoerceNumericStrings(in), in)
	}
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, int64(1000), CoerceNumericStrings("1e3"))
	assert.Equal(t, 1.5e-300, CoerceNumericStrings("1.5e-300"))
	assert.IsType(t, &big.Int{}, CoerceNumericStrings("1e300"))
	assert.Equal(t, float64(0), CoerceNumericStrings("0.000"))
}

func TestCoerceExponentBoundsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		mantissa := rapid.StringMatching(`[1-9][0-9]{0,4}`).Draw(t, "mantissa")
		exp := rapid.OneOf(
			rapid.IntRange(-300, 300),
			rapid.IntRange(400, 2_000_000_000),
			rapid.IntRange(-2_000_000_000, -400),
		).Draw(t, "exp")
		in := fmt.Sprintf("%se%d", mantissa, exp)

		got := CoerceNumericStrings(in)
		small := exp >= -300 && exp <= 300
		if _, isString := got.(string); isString == small {
			t.Fatalf("%s: got %T %v", in, got, got)
		}
	})
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func TestFlatten(t *testing.T) {
	in := map[string]any{
		"token": map[string]any{
			"symbol": "USDC",
			"meta":   map[string]any{"decimals": int64(6)},
		},
		"tags":    []any{"a", "b"},
		"holders": []any{map[string]any{"address": "0x1"}},
		"empty":   map[string]any{},
		"amount":  int64(10),
	}

	got := Flatten(in, ".")
	assert.Equal(t, map[string]any{
		"token.symbol":        "USDC",
		"token.meta.decimals": int64(6),
		"tags":                []any{"a", "b"},
		"holders":             []any{map[string]any{"address": "0x1"}},
		"amount":              int64(10),
	}, got)

	assert.Equal(t, map[string]any{"token_symbol": "USDC"}, Flatten(map[string]any{"token": map[string]any{"symbol": "USDC"}}, "_"))
}

func TestFlattenCollisionIsDeterministic(t *testing.T) {
	in := map[string]any{
		"a.b": int64(1),
		"a":   map[string]any{"b": int64(2), "c": int64(3)},
	}
	for i := 0; i < 50; i++ {
		assert.Equal(t, map[string]any{"a.b": int64(1), "a.c": int64(3)}, Flatten(in, "."))
	}
}

func TestFlattenPathProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		paths := rapid.SliceOfN(
			rapid.SliceOfN(rapid.StringMatching(`[a-d]{1,2}`), 1, 3),
			1, 8,
		).Draw(t, "paths")

		root := map[string]any{}
		leaves := map[string]int{}
		for i, p := range paths {
			if insertPath(root, p, i) {
				leaves[strings.Join(p, ".")] = i
			}
		}

		flat := Flatten(root, ".")
		for key, want := range leaves {
			got, ok := flat[key]
			if !ok || got != want {
				t.Fatalf("leaf %q: got %v (present=%v), want %d", key, got, ok, want)
			}
		}
		if len(flat) != len(leaves) {
			t.Fatalf("flat has %d keys, want %d", len(flat), len(leaves))
		}
		if diff := cmp.Diff(flat, Flatten(flat, ".")); diff != "" {
			t.Fatalf("not idempotent on flat input:\n%s", diff)
		}
	})
}

// insertPath sets path to val unless it collides with an existing leaf or subtree.
func insertPath(root map[string]any, path []string, val int) bool {
	cur := root
	for i, seg := range path {
		last := i == len(path)-1
		existing, ok := cur[seg]
		if last {
			if ok {
				return false
			}
			cur[seg] = val
			return true
		}
		if !ok {
			next := map[string]any{}
			cur[seg] = next
			cur = next
			continue
		}
		next, isMap := existing.(map[string]any)
		if !isMap {
			return false
		}
		cur = next
	}
	return false
}

func TestRecords(t *testing.T) {
	t.Run("wrapped list", func(t *testing.T) {
		rows := Records("getTokenHoldersByContract", map[string]any{
			"rpp":   "2",
			"items": []any{
				map[string]any{"ownerAddress": "0xa", "balance": "100", "token": map[string]any{"decimals": "6"}},
				map[string]any{"ownerAddress": "0xb", "balance": "250.5"},
			},
		})
		require.Len(t, rows, 2)
		assert.Equal(t, map[string]any{
			"ownerAddress":   "0xa",
			"balance":        int64(100),
			"token.decimals": int64(6),
			"source_tool":    "getTokenHoldersByContract",
		}, rows[0])
		assert.Equal(t, 250.5, rows[1]["balance"])
	})

	t.Run("plain map", func(t *testing.T) {
		rows := Records("get_balance", map[string]any{"balance": "1000000000000000000", "decimals": "18"})
		require.Len(t, rows, 1)
		assert.Equal(t, int64(1000000000000000000), rows[0]["balance"])
		assert.Equal(t, int64(18), rows[0]["decimals"])
	})

	t.Run("top level list and scalars", func(t *testing.T) {
		rows := Records("counts", []any{"1", map[string]any{"n": "2"}})
		require.Len(t, rows, 2)
		assert.Equal(t, int64(1), rows[0]["value"])
		assert.Equal(t, int64(2), rows[1]["n"])

		rows = Records("count", "17")
		require.Len(t, rows, 1)
		assert.Equal(t, int64(17), rows[0]["value"])
	})
}

func TestDecodeJSONKeepsPrecision(t *testing.T) {
	v, err := DecodeJSONBytes([]byte(`{"big": 123456789012345678901234567890, "n": 42, "f": 1.5, "s": "7"}`))
	require.NoError(t, err)

	m := v.(map[string]any)
	assert.Equal(t, int64(42), m["n"])
	assert.Equal(t, 1.5, m["f"])
	assert.Equal(t, "7", m["s"])
	bi, ok := m["big"].(*big.Int)
	require.True(t, ok)
	assert.Equal(t, "123456789012345678901234567890", bi.String())

	_, err = DecodeJSONBytes([]byte(`{not json`))
	assert.Error(t, err)
}
