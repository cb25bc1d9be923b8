// Package bank is the account domain dcbd and the load test run on. A
// transfer touches two account tags in one command, which is what a
// dynamic consistency boundary makes cheap.
package bank

import (
	"context"
	"errors"
	"fmt"

	"github.com/codewandler/dcb-go/core/dcb"
	"github.com/codewandler/dcb-go/core/projection"
	"github.com/codewandler/dcb-go/core/tag"
)

const (
	AccountGroup     = "account"
	AccountProjector = "account"
	LedgerProjector  = "ledger"
)

var (
	ErrAccountExists     = errors.New("account already exists")
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrSameAccount       = errors.New("cannot transfer to the same account")
)

type (
	AccountOpened struct {
		AccountID      string `json:"account_id"`
		Owner          string `json:"owner"`
		InitialBalance int    `json:"initial_balance"`
	}
	MoneyDeposited struct {
		AccountID string `json:"account_id"`
		Amount    int    `json:"amount"`
	}
	MoneyTransferred struct {
		From   string `json:"from"`
		To     string `json:"to"`
		Amount int    `json:"amount"`
	}
)

func (AccountOpened) EventType() string    { return "AccountOpened" }
func (MoneyDeposited) EventType() string   { return "MoneyDeposited" }
func (MoneyTransferred) EventType() string { return "MoneyTransferred" }

func EventTypes() *dcb.EventTypes {
	types := dcb.NewEventTypes()
	dcb.RegisterEvent[AccountOpened](types)
	dcb.RegisterEvent[MoneyDeposited](types)
	dcb.RegisterEvent[MoneyTransferred](types)
	return types
}

func AccountTag(id string) (tag.Tag, error) { return tag.New(AccountGroup, id) }

func AccountStateID(id string) (tag.StateID, error) {
	t, err := AccountTag(id)
	if err != nil {
		return tag.StateID{}, err
	}
	return tag.NewStateID(t, AccountProjector), nil
}

// === tag state ===

type Account struct {
	ID      string `json:"id"`
	Owner   string `json:"owner"`
	Balance int    `json:"balance"`
}

func (a Account) IsOpen() bool { return a.ID != "" }

func projectAccount(s Account, ev dcb.Event) (Account, error) {
	switch p := ev.Payload.(type) {
	case AccountOpened:
		return Account{ID: p.AccountID, Owner: p.Owner, Balance: p.InitialBalance}, nil
	case MoneyDeposited:
		s.Balance += p.Amount
	case MoneyTransferred:
		if p.From == s.ID {
			s.Balance -= p.Amount
		}
		if p.To == s.ID {
			s.Balance += p.Amount
		}
	default:
		return s, fmt.Errorf("account: unexpected event %s", ev.Type)
	}
	return s, nil
}

func TagProjectors() []dcb.TagProjector {
	return []dcb.TagProjector{dcb.NewTagProjector(AccountProjector, "v1", projectAccount)}
}

// === multi projection ===

// Ledger summarizes all accounts. TotalBalance only changes through
// openings and deposits; transfers move money without creating it.
type Ledger struct {
	Accounts     int `json:"accounts"`
	TotalBalance int `json:"total_balance"`
	Deposits     int `json:"deposits"`
	Transfers    int `json:"transfers"`
	Volume       int `json:"volume"`
}

func projectLedger(s Ledger, ev dcb.Event) (Ledger, error) {
	switch p := ev.Payload.(type) {
	case AccountOpened:
		s.Accounts++
		s.TotalBalance += p.InitialBalance
	case MoneyDeposited:
		s.Deposits++
		s.TotalBalance += p.Amount
	case MoneyTransferred:
		s.Transfers++
		s.Volume += p.Amount
	}
	return s, nil
}

func Projectors() []projection.Projector {
	return []projection.Projector{projection.NewProjector(LedgerProjector, "v1", projectLedger)}
}

// === commands ===

func readAccount(ctx context.Context, c *dcb.CommandContext, id string) (Account, tag.Tag, error) {
	sid, err := AccountStateID(id)
	if err != nil {
		return Account{}, tag.Tag{}, dcb.NewError(dcb.KindValidation, "account", err)
	}
	acc, _, err := dcb.CommandStateAs[Account](ctx, c, sid)
	if err != nil {
		return Account{}, sid.Tag, err
	}
	return acc, sid.Tag, nil
}

func OpenAccount(id, owner string, initialBalance int) dcb.CommandHandler {
	return func(ctx context.Context, c *dcb.CommandContext) error {
		if initialBalance < 0 {
			return ErrInvalidAmount
		}
		acc, t, err := readAccount(ctx, c, id)
		if err != nil {
			return err
		}
		if acc.IsOpen() {
			return fmt.Errorf("%w: %s", ErrAccountExists, id)
		}
		c.Append(AccountOpened{AccountID: id, Owner: owner, InitialBalance: initialBalance}, t)
		return nil
	}
}

func Deposit(id string, amount int) dcb.CommandHandler {
	return func(ctx context.Context, c *dcb.CommandContext) error {
		if amount <= 0 {
			return ErrInvalidAmount
		}
		acc, t, err := readAccount(ctx, c, id)
		if err != nil {
			return err
		}
		if !acc.IsOpen() {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
		}
		c.Append(MoneyDeposited{AccountID: id, Amount: amount}, t)
		return nil
	}
}

// Transfer moves amount between two accounts. Both account tags are
// consistency tags, so a concurrent change to either one conflicts.
func Transfer(from, to string, amount int) dcb.CommandHandler {
	return func(ctx context.Context, c *dcb.CommandContext) error {
		if amount <= 0 {
			return ErrInvalidAmount
		}
		if from == to {
			return ErrSameAccount
		}
		src, fromTag, err := readAccount(ctx, c, from)
		if err != nil {
			return err
		}
		dst, toTag, err := readAccount(ctx, c, to)
		if err != nil {
			return err
		}
		switch {
		case !src.IsOpen():
			return fmt.Errorf("%w: %s", ErrAccountNotFound, from)
		case !dst.IsOpen():
			return fmt.Errorf("%w: %s", ErrAccountNotFound, to)
		case src.Balance < amount:
			return fmt.Errorf("%w: %s has %d", ErrInsufficientFunds, from, src.Balance)
		}
		c.Append(MoneyTransferred{From: from, To: to, Amount: amount}, fromTag, toTag)
		return nil
	}
}

// ReadAccount returns the current state of an account outside a command.
func ReadAccount(ctx context.Context, host *dcb.Host, id string) (Account, error) {
	sid, err := AccountStateID(id)
	if err != nil {
		return Account{}, dcb.NewError(dcb.KindValidation, "account", err)
	}
	a, err := host.TagState(sid)
	if err != nil {
		return Account{}, err
	}
	acc, _, err := dcb.StateAs[Account](ctx, a)
	if err != nil {
		return Account{}, err
	}
	if !acc.IsOpen() {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return acc, nil
}
