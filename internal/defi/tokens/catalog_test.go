package tokens

import (
	"testing"

	xerrors "ChainPilot/internal/errors"
)

func TestResolveByAlias(t *testing.T) {
	catalog := Default()

	cases := []struct {
		query string
		want  string
	}{
		{"USDC", "USDC"},
		{"usdc.e", "USDC"},
		{"ETH", "WETH"},
		{"Staked Sonic", "stS"},
		{"s", "S"},
	}
	for _, tc := range cases {
		token, err := catalog.Resolve("sonic", tc.query)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", tc.query, err)
		}
		if token.Symbol != tc.want {
			t.Fatalf("Resolve(%q) = %s, want %s", tc.query, token.Symbol, tc.want)
		}
	}
}

func TestResolveRejectsUnknownSymbol(t *testing.T) {
	catalog := Default()
	_, err := catalog.Resolve("sonic", "DOGE")
	if err == nil {
		t.Fatalf("expected error for unregistered token")
	}
	if xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("unexpected code: %s", xerrors.CodeOf(err))
	}
}

func TestResolveRejectsUnknownChain(t *testing.T) {
	catalog := Default()
	_, err := catalog.Resolve("mainnet", "USDC")
	if err == nil {
		t.Fatalf("expected error for unregistered chain")
	}
	if xerrors.CodeOf(err) != xerrors.CodeUnsupportedChain {
		t.Fatalf("unexpected code: %s", xerrors.CodeOf(err))
	}
}

func TestAddRejectsAliasConflicts(t *testing.T) {
	catalog := NewCatalog()
	if err := catalog.Add("sonic", Token{Symbol: "AAA", Decimals: 18, Aliases: []string{"alpha"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := catalog.Add("sonic", Token{Symbol: "BBB", Decimals: 18, Aliases: []string{"ALPHA"}}); err == nil {
		t.Fatalf("expected alias conflict")
	}
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		amount   string
		decimals int32
		want     string
		wantErr  bool
	}{
		{"1", 18, "1000000000000000000", false},
		{"1.5", 6, "1500000", false},
		{"0.000001", 6, "1", false},
		{"0.0000001", 6, "", true},
		{"-3", 18, "", true},
		{"abc", 18, "", true},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.amount, tc.decimals)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseAmount(%q, %d): expected error", tc.amount, tc.decimals)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseAmount(%q, %d): %v", tc.amount, tc.decimals, err)
		}
		if got.String() != tc.want {
			t.Fatalf("ParseAmount(%q, %d) = %s, want %s", tc.amount, tc.decimals, got, tc.want)
		}
	}
}

func TestParsePositiveAmountRejectsZero(t *testing.T) {
	if _, err := ParsePositiveAmount("0", 18); err == nil {
		t.Fatalf("expected error for zero amount")
	}
}

func TestFormatAmountRoundTrip(t *testing.T) {
	value, err := ParseAmount("2500.25", 6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := FormatAmount(value, 6); got != "2500.25" {
		t.Fatalf("FormatAmount = %s", got)
	}
}
