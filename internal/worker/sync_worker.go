package worker

import (
	"context"
	"fmt"

	"pesa/internal/amqp"
	"pesa/internal/log"
	"pesa/internal/services"
	"pesa/internal/storage"
)

// Processor mirrors local rows to the remote store.
type Processor interface {
	PushEntity(ctx context.Context, entity storage.Entity, id int64) error
	PushDelete(ctx context.Context, entity storage.Entity, remoteID string) error
	PushPending(ctx context.Context) (int, error)
	Pull(ctx context.Context) (services.PullResult, error)
}

// SyncWorker turns AMQP sync messages into processor calls.
type SyncWorker struct {
	processor Processor
	logger    *log.Logger
}

func NewSyncWorker(processor Processor, logger *log.Logger) *SyncWorker {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &SyncWorker{
		processor: processor,
		logger:    logger.WithComponent(log.ComponentWorker),
	}
}

// HandleSyncMessage processes a single sync message from AMQP. A returned
// error makes the broker redeliver the message.
func (w *SyncWorker) HandleSyncMessage(ctx context.Context, msg *amqp.SyncMessage) error {
	w.logger.InfoContext(ctx, "Processing sync message",
		log.FieldEntity, msg.Entity,
		"op", msg.Op,
		"id", msg.ID,
		log.FieldRemoteID, msg.RemoteID)

	entity := storage.Entity(msg.Entity)
	switch msg.Op {
	case amqp.OpUpsert:
		if err := w.processor.PushEntity(ctx, entity, msg.ID); err != nil {
			return fmt.Errorf("push %s %d: %w", msg.Entity, msg.ID, err)
		}
	case amqp.OpDelete:
		if err := w.processor.PushDelete(ctx, entity, msg.RemoteID); err != nil {
			return fmt.Errorf("delete %s %s: %w", msg.Entity, msg.RemoteID, err)
		}
	default:
		return fmt.Errorf("unknown sync op %q", msg.Op)
	}
	return nil
}

// StartupSyncCheck pushes anything left pending while the worker was down,
// then pulls remote changes. This is the backup for lost AMQP messages.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	pushed, err := w.processor.PushPending(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Startup push finished with errors", "pushed", pushed, log.FieldError, err)
	} else {
		w.logger.InfoContext(ctx, "Startup push completed", "pushed", pushed)
	}

	res, pullErr := w.processor.Pull(ctx)
	if pullErr != nil {
		return fmt.Errorf("startup pull: %w", pullErr)
	}
	w.logger.InfoContext(ctx, "Startup pull completed",
		"applied", res.Applied, "skipped", res.Skipped, "deleted", res.Deleted)
	return err
}
