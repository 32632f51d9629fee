package worker

import (
	"context"
	"errors"
	"testing"

	"pesa/internal/amqp"
	"pesa/internal/services"
	"pesa/internal/storage"
)

type fakeProcessor struct {
	pushed  []int64
	deleted []string
	pushErr error
	pullErr error
	pulls   int
}

func (f *fakeProcessor) PushEntity(_ context.Context, _ storage.Entity, id int64) error {
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushed = append(f.pushed, id)
	return nil
}

func (f *fakeProcessor) PushDelete(_ context.Context, _ storage.Entity, remoteID string) error {
	f.deleted = append(f.deleted, remoteID)
	return nil
}

func (f *fakeProcessor) PushPending(context.Context) (int, error) {
	return len(f.pushed), f.pushErr
}

func (f *fakeProcessor) Pull(context.Context) (services.PullResult, error) {
	f.pulls++
	return services.PullResult{Applied: 1}, f.pullErr
}

func TestHandleSyncMessage(t *testing.T) {
	tests := []struct {
		name    string
		msg     *amqp.SyncMessage
		pushErr error
		wantErr bool
		pushed  int
		deleted int
	}{
		{name: "upsert", msg: amqp.NewUpsertMessage("transaction", 7), pushed: 1},
		{name: "delete", msg: amqp.NewDeleteMessage("category", "r-1"), deleted: 1},
		{name: "push failure is returned", msg: amqp.NewUpsertMessage("budget", 2), pushErr: errors.New("remote down"), wantErr: true},
		{name: "unknown op", msg: &amqp.SyncMessage{Entity: "budget", Op: "merge"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProcessor{pushErr: tt.pushErr}
			w := NewSyncWorker(p, nil)

			err := w.HandleSyncMessage(context.Background(), tt.msg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(p.pushed) != tt.pushed || len(p.deleted) != tt.deleted {
				t.Errorf("pushed %v deleted %v", p.pushed, p.deleted)
			}
		})
	}
}

func TestStartupSyncCheck(t *testing.T) {
	t.Run("push errors do not skip the pull", func(t *testing.T) {
		p := &fakeProcessor{pushErr: errors.New("partial")}
		err := NewSyncWorker(p, nil).StartupSyncCheck(context.Background())
		if err == nil {
			t.Error("expected the push error to be reported")
		}
		if p.pulls != 1 {
			t.Errorf("pulls = %d, want 1", p.pulls)
		}
	})

	t.Run("pull failure", func(t *testing.T) {
		p := &fakeProcessor{pullErr: errors.New("list failed")}
		if err := NewSyncWorker(p, nil).StartupSyncCheck(context.Background()); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("clean run", func(t *testing.T) {
		p := &fakeProcessor{}
		if err := NewSyncWorker(p, nil).StartupSyncCheck(context.Background()); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
