package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"visiona-backend/internal/database"
	"visiona-backend/internal/training"

	"gorm.io/gorm"
)

const (
	// pollInterval is the delay before a non-terminal model is re-queued
	// for another reconcile pass.
	pollInterval = 30 * time.Second

	// maxReconcileAttempts bounds re-queues; the reconciler's own 24h
	// timeout fires well before this at the default interval.
	maxReconcileAttempts = 4000
)

// Worker drains reconcile tasks and drives the status reconciler. Each task
// is one poll of one model; models that are still processing are re-queued
// after a delay, so the webhook path and the polling path share one code
// path.
type Worker struct {
	trainer   *training.Service
	publisher Publisher
	reciever  Reciever
}

func NewWorker(trainer *training.Service, publisher Publisher, reciever Reciever) *Worker {
	return &Worker{trainer: trainer, publisher: publisher, reciever: reciever}
}

func (w *Worker) Run(ctx context.Context) {
	slog.Info("reconcile worker started")
	for {
		select {
		case task, ok := <-w.reciever.Tasks():
			if !ok {
				slog.Info("task channel closed, stopping reconcile worker")
				return
			}
			w.handleTask(ctx, task)
		case <-ctx.Done():
			slog.Info("context cancelled, stopping reconcile worker")
			return
		}
	}
}

func (w *Worker) handleTask(ctx context.Context, task Task) {
	if task.Type() != ReconcileQueue {
		slog.Error("recieved task from unexpected queue", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting task", "error", err)
		}
		return
	}

	var payload ReconcileTaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		slog.Error("error parsing reconcile task payload", "error", err)
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting task", "error", err)
		}
		return
	}

	if err := w.processReconcile(ctx, payload); err != nil {
		slog.Error("error processing reconcile task", "model_id", payload.ModelId, "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error nacking task", "error", err)
		}
		return
	}

	if err := task.Ack(); err != nil {
		slog.Error("error acking task", "error", err)
	}
}

func (w *Worker) processReconcile(ctx context.Context, payload ReconcileTaskPayload) error {
	res, err := w.trainer.Reconcile(ctx, payload.ModelId)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Model was deleted by the user while a poll was in flight.
			slog.Warn("model no longer exists, dropping reconcile task", "model_id", payload.ModelId)
			return nil
		}
		return fmt.Errorf("reconcile failed for model %s: %w", payload.ModelId, err)
	}

	if database.IsTerminalStatus(res.Status) {
		slog.Info("model reached terminal status", "model_id", payload.ModelId, "status", res.Status)
		return nil
	}

	if payload.Attempt >= maxReconcileAttempts {
		slog.Error("giving up polling model after max attempts", "model_id", payload.ModelId)
		return nil
	}

	// Re-queue after a delay rather than spinning on the provider API.
	go func() {
		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return
		}

		next := ReconcileTaskPayload{ModelId: payload.ModelId, Attempt: payload.Attempt + 1}
		if err := w.publisher.PublishReconcileTask(ctx, next); err != nil {
			slog.Error("error re-queueing reconcile task", "model_id", payload.ModelId, "error", err)
		}
	}()

	return nil
}
