package remote

import (
	"strings"

	"github.com/shopspring/decimal"
)

// AccountRecord is one entry of the remote chart of accounts
type AccountRecord struct {
	ID                 string          `json:"Id"`
	Name               string          `json:"Name"`
	FullyQualifiedName string          `json:"FullyQualifiedName,omitempty"`
	AccountType        string          `json:"AccountType"`
	AccountSubType     string          `json:"AccountSubType,omitempty"`
	Classification     string          `json:"Classification,omitempty"`
	CurrentBalance     decimal.Decimal `json:"CurrentBalance"`
	CurrencyRef        *Ref            `json:"CurrencyRef,omitempty"`
	Active             bool            `json:"Active"`
	SyncToken          string          `json:"SyncToken"`
}

// IsBankLike reports whether the account holds money (bank or credit card) rather
// than being a category in the chart of accounts.
func (a *AccountRecord) IsBankLike() bool {
	switch strings.ToLower(strings.ReplaceAll(a.AccountType, " ", "")) {
	case "bank", "creditcard":
		return true
	}
	return false
}

// DisplayName prefers the fully qualified name ("Travel:Meals")
func (a *AccountRecord) DisplayName() string {
	if a.FullyQualifiedName != "" {
		return a.FullyQualifiedName
	}
	return a.Name
}

// NameRecord is a vendor or customer from the remote name lists
type NameRecord struct {
	ID          string `json:"Id"`
	DisplayName string `json:"DisplayName"`
	Active      bool   `json:"Active"`
	SyncToken   string `json:"SyncToken,omitempty"`
}
