package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ledger identifies one of the two balance tracks an account holds
type Ledger string

const (
	LedgerPoints Ledger = "points"
	LedgerWallet Ledger = "wallet"
)

// Ledgers lists every ledger an account carries
var Ledgers = []Ledger{LedgerPoints, LedgerWallet}

// Valid reports whether l is a known ledger
func (l Ledger) Valid() bool {
	return l == LedgerPoints || l == LedgerWallet
}

// EntryKind represents the business reason for a ledger entry
type EntryKind string

const (
	KindDeposit         EntryKind = "deposit"
	KindPurchase        EntryKind = "purchase"
	KindExchange        EntryKind = "exchange"
	KindPremiumPurchase EntryKind = "premium_purchase"
	KindPremiumGrant    EntryKind = "premium_grant"
	KindChatReward      EntryKind = "chat_reward"
	KindRefund          EntryKind = "refund"
)

// Valid reports whether k is a known entry kind
func (k EntryKind) Valid() bool {
	switch k {
	case KindDeposit, KindPurchase, KindExchange, KindPremiumPurchase,
		KindPremiumGrant, KindChatReward, KindRefund:
		return true
	}
	return false
}

// Account holds a user's point and wallet balances
type Account struct {
	UserID        string          `json:"user_id"`
	PointsBalance decimal.Decimal `json:"points_balance"`
	WalletBalance decimal.Decimal `json:"wallet_balance"`
	InitialPoints decimal.Decimal `json:"initial_points"`
	InitialWallet decimal.Decimal `json:"initial_wallet"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Balance returns the current balance of the given ledger
func (a *Account) Balance(l Ledger) decimal.Decimal {
	if l == LedgerWallet {
		return a.WalletBalance
	}
	return a.PointsBalance
}

// SetBalance replaces the balance of the given ledger
func (a *Account) SetBalance(l Ledger, v decimal.Decimal) {
	if l == LedgerWallet {
		a.WalletBalance = v
		return
	}
	a.PointsBalance = v
}

// Initial returns the opening balance of the given ledger
func (a *Account) Initial(l Ledger) decimal.Decimal {
	if l == LedgerWallet {
		return a.InitialWallet
	}
	return a.InitialPoints
}

// LedgerEntry is one immutable balance change
type LedgerEntry struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Ledger       Ledger          `json:"ledger"`
	Amount       decimal.Decimal `json:"amount"` // positive for credits, negative for debits
	Kind         EntryKind       `json:"kind"`
	ReferenceID  string          `json:"reference_id"`
	Description  string          `json:"description,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
}
