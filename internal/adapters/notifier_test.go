package adapters

import (
	"context"
	"errors"
	"testing"
	"time"

	"carelink/internal/amqp"
	"carelink/internal/core"
	"carelink/internal/realtime"
)

type stubNotifier struct {
	err   error
	calls []core.EntryChange
}

func (s *stubNotifier) NotifyEntriesChanged(_ context.Context, c core.EntryChange) error {
	s.calls = append(s.calls, c)
	return s.err
}

type stubInvalidator struct {
	err     error
	patient []int64
}

func (s *stubInvalidator) HandleChange(_ context.Context, c core.EntryChange) error {
	s.patient = append(s.patient, c.PatientID)
	return s.err
}

func TestFallbackNotifier(t *testing.T) {
	change := core.EntryChange{PatientID: 7, EntryID: "e1", Op: core.OpCreated}

	tests := []struct {
		name      string
		primary   *stubNotifier
		local     *stubNotifier
		wantLocal int
		wantErr   bool
	}{
		{"primary succeeds", &stubNotifier{}, &stubNotifier{}, 0, false},
		{"primary fails", &stubNotifier{err: errors.New("down")}, &stubNotifier{}, 1, false},
		{"both fail", &stubNotifier{err: errors.New("down")}, &stubNotifier{err: errors.New("closed")}, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := NewFallbackNotifier(tt.primary, tt.local)
			err := n.NotifyEntriesChanged(context.Background(), change)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(tt.primary.calls) != 1 {
				t.Errorf("primary calls = %d, want 1", len(tt.primary.calls))
			}
			if len(tt.local.calls) != tt.wantLocal {
				t.Errorf("local calls = %d, want %d", len(tt.local.calls), tt.wantLocal)
			}
		})
	}

	t.Run("no primary", func(t *testing.T) {
		local := &stubNotifier{}
		if err := NewFallbackNotifier(nil, local).NotifyEntriesChanged(context.Background(), change); err != nil {
			t.Fatalf("NotifyEntriesChanged: %v", err)
		}
		if len(local.calls) != 1 {
			t.Fatalf("local calls = %d, want 1", len(local.calls))
		}
	})
}

func TestChangeBridge_Handle(t *testing.T) {
	broker := realtime.NewBroker()
	defer broker.Close()
	events, cancel := broker.Subscribe(3)
	defer cancel()

	inv := &stubInvalidator{}
	bridge := NewChangeBridge(inv, broker)

	msg := amqp.NewEntriesChangedMessage(core.EntryChange{PatientID: 3, EntryID: "x", Op: core.OpDeleted})
	if err := bridge.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(inv.patient) != 1 || inv.patient[0] != 3 {
		t.Fatalf("invalidated = %v", inv.patient)
	}

	select {
	case got := <-events:
		if got.EntryID != "x" || got.Op != core.OpDeleted {
			t.Errorf("event = %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered to subscriber")
	}
}

func TestChangeBridge_DropsRejectedChange(t *testing.T) {
	local := &stubNotifier{}
	bridge := NewChangeBridge(&stubInvalidator{err: errors.New("invalid patient id 0")}, local)

	if err := bridge.Handle(context.Background(), &amqp.EntriesChangedMessage{}); err != nil {
		t.Fatalf("Handle = %v, want nil so the message is not requeued", err)
	}
	if len(local.calls) != 0 {
		t.Errorf("rejected change reached subscribers")
	}
	if err := bridge.Handle(context.Background(), nil); err != nil {
		t.Fatalf("Handle(nil) = %v", err)
	}
}
