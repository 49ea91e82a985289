/*
Package chart manages the chart of accounts.

PURPOSE:
  Accounts are the slow-moving reference data every posting is checked
  against. This package loads a chart from a YAML file (or falls back
  to the built-in default), seeds it into an account store, and serves
  lookups from an in-process cache so the posting hot path never waits
  on the database for reference data.

LIFECYCLE RULES:
  - Codes are immutable and never reused
  - Accounts are deactivated, never deleted; historical entries keep
    referencing deactivated accounts and all reads still resolve them
  - Deactivated accounts reject NEW postings only

SEE ALSO:
  - registry.go: the cached lookup used by the posting engine
*/
package chart

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rentfold/ledger-engine/ledger"
)

// =============================================================================
// YAML CHART FILE
// =============================================================================

type chartFile struct {
	Accounts []chartAccount `yaml:"accounts"`
}

type chartAccount struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

var validTypes = map[string]ledger.AccountType{
	string(ledger.AccountAsset):     ledger.AccountAsset,
	string(ledger.AccountLiability): ledger.AccountLiability,
	string(ledger.AccountEquity):    ledger.AccountEquity,
	string(ledger.AccountIncome):    ledger.AccountIncome,
	string(ledger.AccountExpense):   ledger.AccountExpense,
}

// LoadFile reads a chart definition from a YAML file. Every account
// comes back active with its normal balance derived from its type.
func LoadFile(path string) ([]ledger.Account, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chart file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates YAML chart content.
func Parse(raw []byte) ([]ledger.Account, error) {
	var file chartFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse chart file: %w", err)
	}
	if len(file.Accounts) == 0 {
		return nil, fmt.Errorf("chart file defines no accounts")
	}

	seen := make(map[string]bool, len(file.Accounts))
	accounts := make([]ledger.Account, 0, len(file.Accounts))
	for i, a := range file.Accounts {
		if a.Code == "" || a.Name == "" {
			return nil, fmt.Errorf("chart account %d: code and name are required", i+1)
		}
		if seen[a.Code] {
			return nil, fmt.Errorf("chart account %d: duplicate code %s", i+1, a.Code)
		}
		seen[a.Code] = true
		typ, ok := validTypes[a.Type]
		if !ok {
			return nil, fmt.Errorf("chart account %s: unknown type %q", a.Code, a.Type)
		}
		accounts = append(accounts, ledger.Account{
			Code:          a.Code,
			Name:          a.Name,
			Type:          typ,
			NormalBalance: typ.NormalBalance(),
			Active:        true,
		})
	}
	return accounts, nil
}

// =============================================================================
// DEFAULT CHART
// =============================================================================

// Default returns the built-in property-management chart, used when no
// chart file is configured.
func Default() []ledger.Account {
	mk := func(code, name string, typ ledger.AccountType) ledger.Account {
		return ledger.Account{
			Code:          code,
			Name:          name,
			Type:          typ,
			NormalBalance: typ.NormalBalance(),
			Active:        true,
		}
	}
	return []ledger.Account{
		mk("1000", "Operating Cash", ledger.AccountAsset),
		mk("1200", "Tenant Receivable", ledger.AccountAsset),
		mk("2000", "Security Deposits Held", ledger.AccountLiability),
		mk("2100", "Accounts Payable", ledger.AccountLiability),
		mk("3000", "Owner Equity", ledger.AccountEquity),
		mk("4000", "Rental Income", ledger.AccountIncome),
		mk("4100", "Late Fee Income", ledger.AccountIncome),
		mk("5000", "Repairs & Maintenance", ledger.AccountExpense),
		mk("5100", "Utilities", ledger.AccountExpense),
	}
}
