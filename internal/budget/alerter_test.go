package budget

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pesa/internal/core"
)

type recordingNotifier struct {
	got []core.Notification
	err error
}

func (r *recordingNotifier) AppendNotification(_ context.Context, n core.Notification) (core.Notification, error) {
	if r.err != nil {
		return core.Notification{}, r.err
	}
	r.got = append(r.got, n)
	return n, nil
}

func state(id int64, name, spent, limit string) core.BudgetState {
	return core.NewBudgetState(core.Category{ID: id, Name: name}, d(spent), d(limit))
}

func TestAlerter_OncePerMonthAndLevel(t *testing.T) {
	n := &recordingNotifier{}
	a := NewAlerter(n, nil)
	ctx := context.Background()
	march := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	u := Update{At: march, States: []core.BudgetState{
		state(1, "Food", "4600", "5000"),
		state(2, "Rent", "100", "5000"),
	}}
	written, err := a.Check(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, 1, written)
	require.Len(t, n.got, 1)
	assert.Equal(t, core.NotificationBudget, n.got[0].Type)
	assert.Contains(t, n.got[0].Message, "92%")

	// same level again in the same month is silent
	written, _ = a.Check(ctx, u)
	assert.Equal(t, 0, written)

	// escalation to over budget is reported
	u.States[0] = state(1, "Food", "5200", "5000")
	written, _ = a.Check(ctx, u)
	assert.Equal(t, 1, written)
	assert.Contains(t, n.got[1].Title, "exceeded")

	// next month starts over
	u.At = march.AddDate(0, 1, 0)
	written, _ = a.Check(ctx, u)
	assert.Equal(t, 1, written)
}

func TestAlerter_NoLimitNeverAlerts(t *testing.T) {
	n := &recordingNotifier{}
	written, err := NewAlerter(n, nil).Check(context.Background(), Update{
		At:     time.Now(),
		States: []core.BudgetState{state(1, "Gifts", "999", "0")},
	})
	require.NoError(t, err)
	assert.Zero(t, written)
}

func TestAlerter_FailedWriteIsRetried(t *testing.T) {
	n := &recordingNotifier{err: errors.New("readonly")}
	a := NewAlerter(n, nil)
	u := Update{At: time.Now(), States: []core.BudgetState{state(1, "Food", "6000", "5000")}}

	_, err := a.Check(context.Background(), u)
	require.Error(t, err)

	n.err = nil
	written, err := a.Check(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, 1, written)
}

func TestAlerter_RunStopsWhenChannelCloses(t *testing.T) {
	n := &recordingNotifier{}
	updates := make(chan Update, 2)
	updates <- Update{Err: errors.New("skip me")}
	updates <- Update{At: time.Now(), States: []core.BudgetState{state(1, "Food", "4500", "5000")}}
	close(updates)

	done := make(chan struct{})
	go func() {
		NewAlerter(n, nil).Run(context.Background(), updates)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Len(t, n.got, 1)
}
