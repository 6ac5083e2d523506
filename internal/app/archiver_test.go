package app

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"path"
	"testing"
	"time"

	"github.com/bft-labs/tagcam/internal/clock"
	"github.com/bft-labs/tagcam/internal/domain"
)

const (
	testImagesRoot = "/sdcard/images"
	testLedger     = "/sdcard/pending.csv"
)

func TestArchiver_WritesImageAndLedger(t *testing.T) {
	fc := clock.NewFake(time.UnixMicro(1234567))
	store := newMemStore()
	a := NewArchiver(store, testImagesRoot, testLedger, fc, mockLogger{})

	rec, err := a.Archive(testTag, time.Time{}, []byte("jpeg"))
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	wantPath := "/sdcard/images/911101686122_1234567.jpg"
	if rec.FilePath != wantPath {
		t.Errorf("FilePath = %q, want %q", rec.FilePath, wantPath)
	}
	if got := store.content(wantPath); got != "jpeg" {
		t.Errorf("image content = %q", got)
	}
	if got, want := store.content(testLedger), "1234567,911101686122,"+wantPath+"\n"; got != want {
		t.Errorf("ledger = %q, want %q", got, want)
	}
}

// The capture time names the file, so it matches the upload filename.
func TestArchiver_UsesCaptureTime(t *testing.T) {
	fc := clock.NewFake(time.UnixMicro(9999999))
	store := newMemStore()
	a := NewArchiver(store, testImagesRoot, testLedger, fc, mockLogger{})

	frame := domain.NewFrame([]byte{0xFF, 0xD8}, domain.FormatJPEG, 0, 0, nil)
	job := domain.NewCaptureJob(testTag, frame, time.UnixMicro(1234567), true)

	rec, err := a.Archive(job.Tag, job.CapturedAt, []byte("jpeg"))
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if rec.TimestampUS != 1234567 {
		t.Errorf("TimestampUS = %d, want the capture time", rec.TimestampUS)
	}
	if got, want := path.Base(rec.FilePath), UploadFilename(job); got != want {
		t.Errorf("archived as %q, uploaded as %q", got, want)
	}
}

// An existing file is never overwritten, and the ledger is left alone.
func TestArchiver_PathCollision(t *testing.T) {
	fc := clock.NewFake(time.UnixMicro(1234567))
	store := newMemStore()
	target := domain.ArchivePath(testImagesRoot, testTag, 1234567)
	_ = store.WriteFile(target, []byte("original"))

	a := NewArchiver(store, testImagesRoot, testLedger, fc, mockLogger{})
	if _, err := a.Archive(testTag, time.Time{}, []byte("new")); !errors.Is(err, domain.ErrPathCollision) {
		t.Fatalf("Archive() error = %v, want ErrPathCollision", err)
	}
	if got := store.content(target); got != "original" {
		t.Errorf("existing image overwritten: %q", got)
	}
	if got := store.content(testLedger); got != "" {
		t.Errorf("ledger written on collision: %q", got)
	}
}

func TestArchiver_NoStorage(t *testing.T) {
	a := NewArchiver(nil, testImagesRoot, testLedger, nil, mockLogger{})
	if _, err := a.Archive(testTag, time.Time{}, []byte("x")); !errors.Is(err, domain.ErrNoStorage) {
		t.Errorf("Archive() error = %v, want ErrNoStorage", err)
	}
}

func TestArchiver_LedgerFailure(t *testing.T) {
	store := newMemStore()
	store.appendErr = errors.New("card full")
	a := NewArchiver(store, testImagesRoot, testLedger, nil, mockLogger{})

	rec, err := a.Archive(testTag, time.Time{}, []byte("x"))
	if err == nil {
		t.Fatal("Archive() error = nil, want ledger failure")
	}
	if rec.FilePath == "" || store.content(rec.FilePath) != "x" {
		t.Error("image should be on disk even though the ledger append failed")
	}
}

func TestFrameJPEG(t *testing.T) {
	t.Run("jpeg passthrough", func(t *testing.T) {
		data := []byte{0xFF, 0xD8, 0xFF, 0xD9}
		got, err := frameJPEG(domain.NewFrame(data, domain.FormatJPEG, 0, 0, nil))
		if err != nil || !bytes.Equal(got, data) {
			t.Errorf("frameJPEG() = %v, %v", got, err)
		}
	})

	t.Run("gray8 encoded", func(t *testing.T) {
		w, h := 8, 4
		pix := make([]byte, w*h)
		for i := range pix {
			pix[i] = byte(i * 7)
		}
		got, err := frameJPEG(domain.NewFrame(pix, domain.FormatGray8, w, h, nil))
		if err != nil {
			t.Fatalf("frameJPEG() error = %v", err)
		}
		img, err := jpeg.Decode(bytes.NewReader(got))
		if err != nil {
			t.Fatalf("output is not a JPEG: %v", err)
		}
		if img.Bounds() != image.Rect(0, 0, w, h) {
			t.Errorf("bounds = %v", img.Bounds())
		}
	})

	t.Run("short gray8 buffer", func(t *testing.T) {
		if _, err := frameJPEG(domain.NewFrame([]byte{1, 2}, domain.FormatGray8, 8, 4, nil)); err == nil {
			t.Error("frameJPEG() accepted a short buffer")
		}
	})

	t.Run("released", func(t *testing.T) {
		f := domain.NewFrame([]byte{1}, domain.FormatJPEG, 0, 0, nil)
		f.Release()
		if _, err := frameJPEG(f); !errors.Is(err, domain.ErrFrameReleased) {
			t.Errorf("frameJPEG() = %v, want ErrFrameReleased", err)
		}
	})
}
