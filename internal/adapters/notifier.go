// Package adapters connects the cross-process change signal to the pieces of
// the web process that react to it.
package adapters

import (
	"context"
	"fmt"
	"log/slog"

	"carelink/internal/amqp"
	"carelink/internal/core"
	applog "carelink/internal/log"
)

// Notifier is anything that can announce a journal change.
type Notifier interface {
	NotifyEntriesChanged(ctx context.Context, change core.EntryChange) error
}

// FallbackNotifier publishes through primary and, when that fails, delivers the
// change to local instead so clients connected to this process still refresh.
type FallbackNotifier struct {
	primary Notifier
	local   Notifier
}

func NewFallbackNotifier(primary, local Notifier) *FallbackNotifier {
	return &FallbackNotifier{primary: primary, local: local}
}

func (n *FallbackNotifier) NotifyEntriesChanged(ctx context.Context, change core.EntryChange) error {
	if n.primary == nil {
		return n.notifyLocal(ctx, change)
	}
	err := n.primary.NotifyEntriesChanged(ctx, change)
	if err == nil {
		return nil
	}

	slog.WarnContext(ctx, "Change broadcast failed, delivering locally",
		applog.FieldPatientID, change.PatientID,
		applog.FieldEntryID, change.EntryID,
		applog.FieldError, err)
	if lerr := n.notifyLocal(ctx, change); lerr != nil {
		return fmt.Errorf("broadcast: %w; local: %w", err, lerr)
	}
	return nil
}

func (n *FallbackNotifier) notifyLocal(ctx context.Context, change core.EntryChange) error {
	if n.local == nil {
		return nil
	}
	return n.local.NotifyEntriesChanged(ctx, change)
}

// Invalidator drops cached journal data after a change.
type Invalidator interface {
	HandleChange(ctx context.Context, change core.EntryChange) error
}

// ChangeBridge turns change messages consumed from the exchange into cache
// invalidation followed by a push to local subscribers.
type ChangeBridge struct {
	cache Invalidator
	local Notifier
}

func NewChangeBridge(cache Invalidator, local Notifier) *ChangeBridge {
	return &ChangeBridge{cache: cache, local: local}
}

// Handle is an amqp consumer handler. Returning an error requeues the message.
func (b *ChangeBridge) Handle(ctx context.Context, msg *amqp.EntriesChangedMessage) error {
	if msg == nil {
		return nil
	}
	change := msg.Change()
	if b.cache != nil {
		if err := b.cache.HandleChange(ctx, change); err != nil {
			// A malformed signal will never succeed; drop it.
			slog.WarnContext(ctx, "Ignoring change message", applog.FieldError, err)
			return nil
		}
	}
	if b.local != nil {
		if err := b.local.NotifyEntriesChanged(ctx, change); err != nil {
			return fmt.Errorf("deliver change: %w", err)
		}
	}
	return nil
}
