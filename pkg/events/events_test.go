package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fadedpez/pointledger/pkg/entities"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

type recorder struct {
	got []BalanceChanged
	err error
}

func (r *recorder) PublishBalanceChanged(_ context.Context, e BalanceChanged) error {
	r.got = append(r.got, e)
	return r.err
}

func TestFromEntry(t *testing.T) {
	entry := &entities.LedgerEntry{
		ID: "e1", UserID: "u1", Ledger: entities.LedgerPoints, Kind: entities.KindChatReward,
		ReferenceID: "u1:s1:0", Amount: decimal.RequireFromString("1.2"),
		BalanceAfter: decimal.RequireFromString("3.2"), CreatedAt: time.Unix(100, 0).UTC(),
	}

	event := FromEntry(entry)
	assert.Equal(t, "e1", event.EntryID)
	assert.Equal(t, "3.2", event.Balance.String())
	assert.Equal(t, "balance.points.chat_reward", event.RoutingKey())
}

func TestFanoutDeliversToAll(t *testing.T) {
	ok := &recorder{}
	failing := &recorder{err: errors.New("broker down")}

	err := Fanout{failing, nil, ok, Noop{}}.PublishBalanceChanged(context.Background(), BalanceChanged{EntryID: "e1"})

	assert.ErrorContains(t, err, "broker down")
	assert.Len(t, ok.got, 1, "one failing transport must not starve the others")
	assert.Len(t, failing.got, 1)
}
