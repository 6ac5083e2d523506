package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bft-labs/tagcam/internal/clock"
	"github.com/bft-labs/tagcam/internal/domain"
	"github.com/bft-labs/tagcam/internal/ports"
)

func TestUploader_Retries(t *testing.T) {
	errRefused := errors.New("connection refused")

	tests := []struct {
		name      string
		retries   int
		errs      []error
		wantCalls int
		wantErr   bool
	}{
		{"first attempt", 2, nil, 1, false},
		{"second attempt", 2, []error{errRefused}, 2, false},
		{"last attempt", 2, []error{errRefused, errRefused}, 3, false},
		{"exhausted", 2, []error{errRefused, errRefused, errRefused}, 3, true},
		{"no retries", 0, []error{errRefused}, 1, true},
		{"default retries", -1, []error{errRefused, errRefused, errRefused}, DefaultUploadRetries + 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{errs: tt.errs}
			u := NewUploader(UploaderConfig{Retries: tt.retries, RetryDelay: time.Millisecond}, sender, nil, mockLogger{})

			err := u.Upload(context.Background(), ports.UploadRequest{Tag: testTag, Image: []byte{1}})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Upload() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrUploadFailed) {
				t.Errorf("Upload() error = %v, want ErrUploadFailed", err)
			}
			if sender.Calls() != tt.wantCalls {
				t.Errorf("attempts = %d, want %d", sender.Calls(), tt.wantCalls)
			}
		})
	}
}

func TestUploader_CanceledDuringBackoff(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	sender := &failingSender{}
	u := NewUploader(UploaderConfig{Retries: 5, RetryDelay: time.Second}, sender, fc, mockLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- u.Upload(ctx, ports.UploadRequest{Tag: testTag}) }()

	fc.WaitForTimers(1)
	cancel()

	err := <-errc
	if !errors.Is(err, domain.ErrUploadFailed) {
		t.Errorf("Upload() = %v, want ErrUploadFailed", err)
	}
	if sender.calls.Load() != 1 {
		t.Errorf("attempts = %d, want 1", sender.calls.Load())
	}
}

func TestUploader_CanceledWaitingForSlot(t *testing.T) {
	sender := &fakeSender{}
	u := NewUploader(UploaderConfig{}, sender, nil, mockLogger{})
	u.slot <- struct{}{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := u.Upload(ctx, ports.UploadRequest{Tag: testTag}); !errors.Is(err, domain.ErrUploadFailed) {
		t.Errorf("Upload() = %v, want ErrUploadFailed", err)
	}
	if sender.Calls() != 0 {
		t.Errorf("attempts = %d while another upload was running", sender.Calls())
	}
}

// Each wait lasts the current delay within the jitter band, and the delay
// doubles up to the cap.
func TestBackoff_GrowsAndCaps(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	b := newBackoff(fc, time.Second, 3*time.Second)

	for i, d := range []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second} {
		done := make(chan error, 1)
		go func() { done <- b.Wait(context.Background()) }()
		fc.WaitForTimers(1)

		early := d * 79 / 100
		fc.Advance(early)
		if fc.PendingCount() != 1 {
			t.Fatalf("wait #%d finished before %v", i, early)
		}
		fc.Advance(d*121/100 - early)
		if err := <-done; err != nil {
			t.Fatalf("Wait() #%d = %v", i, err)
		}
	}
}
