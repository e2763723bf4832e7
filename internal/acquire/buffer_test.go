package acquire

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hydrolab-data/seastate/internal/wave"
)

func frameAt(seq uint64, value float64) wave.Frame {
	return wave.Frame{
		Seq:       seq,
		Timestamp: time.Unix(0, int64(seq)*int64(time.Millisecond)),
		Samples:   []float64{value},
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New(0, wave.OverflowBlock); err == nil {
		t.Error("expected error for zero capacity")
	}
	if _, err := New(-3, wave.OverflowBlock); err == nil {
		t.Error("expected error for negative capacity")
	}
	if _, err := New(8, wave.OverflowPolicy("drop")); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestOverwriteOldestCountsEvictions(t *testing.T) {
	b, err := New(4, wave.OverflowOverwriteOldest)
	if err != nil {
		t.Fatal(err)
	}
	for seq := uint64(0); seq < 6; seq++ {
		if err := b.Write(frameAt(seq, float64(seq))); err != nil {
			t.Fatalf("Write(%d): %v", seq, err)
		}
	}

	stats := b.Stats()
	if stats.OverflowCount != 2 {
		t.Errorf("OverflowCount = %d, want 2", stats.OverflowCount)
	}
	if stats.TotalWritten != 6 {
		t.Errorf("TotalWritten = %d, want 6", stats.TotalWritten)
	}

	batch := b.ReadBatch(10)
	if len(batch) != 4 {
		t.Fatalf("ReadBatch(10) returned %d frames, want 4", len(batch))
	}
	for i, f := range batch {
		wantSeq := uint64(i + 2)
		if f.Seq != wantSeq {
			t.Errorf("batch[%d].Seq = %d, want %d", i, f.Seq, wantSeq)
		}
		if i > 0 && !batch[i-1].Timestamp.Before(f.Timestamp) {
			t.Errorf("batch out of timestamp order at %d", i)
		}
	}
}

func TestReadNeverOutrunsWrites(t *testing.T) {
	b, err := New(8, wave.OverflowOverwriteOldest)
	if err != nil {
		t.Fatal(err)
	}
	seq := uint64(0)
	for round := 0; round < 50; round++ {
		for i := 0; i < round%5; i++ {
			if err := b.Write(frameAt(seq, 0)); err != nil {
				t.Fatal(err)
			}
			seq++
		}
		b.ReadBatch(round % 3)
		stats := b.Stats()
		if stats.TotalRead > stats.TotalWritten {
			t.Fatalf("TotalRead %d > TotalWritten %d", stats.TotalRead, stats.TotalWritten)
		}
		if stats.FillLevel < 0 || stats.FillLevel > stats.Capacity {
			t.Fatalf("FillLevel %d outside [0,%d]", stats.FillLevel, stats.Capacity)
		}
	}
}

func TestEmptyReadReturnsEmptyBatch(t *testing.T) {
	b, err := New(4, wave.OverflowBlock)
	if err != nil {
		t.Fatal(err)
	}
	if batch := b.ReadBatch(10); len(batch) != 0 {
		t.Errorf("ReadBatch on empty buffer returned %d frames", len(batch))
	}
}

func TestWriteAfterCloseFails(t *testing.T) {
	b, err := New(4, wave.OverflowBlock)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Write(frameAt(0, 0)); err != nil {
		t.Fatal(err)
	}
	b.Close()
	if err := b.Write(frameAt(1, 0)); !errors.Is(err, wave.ErrBufferClosed) {
		t.Errorf("Write after Close = %v, want ErrBufferClosed", err)
	}
	// Frames written before Close stay drainable.
	if batch := b.ReadBatch(10); len(batch) != 1 {
		t.Errorf("drain after Close returned %d frames, want 1", len(batch))
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	b, err := New(2, wave.OverflowBlock)
	if err != nil {
		t.Fatal(err)
	}
	b.Close()
	b.Close()
	if !b.Closed() {
		t.Error("Closed() = false after Close")
	}
}

func TestReadBatchWaitTimesOut(t *testing.T) {
	b, err := New(4, wave.OverflowBlock)
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	_, err = b.ReadBatchWait(context.Background(), 10, 30*time.Millisecond)
	if !errors.Is(err, wave.ErrReadTimeout) {
		t.Fatalf("ReadBatchWait = %v, want ErrReadTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("timed out after %v, sooner than the 30ms timeout", elapsed)
	}
}

func TestReadBatchWaitDeliversOnWrite(t *testing.T) {
	b, err := New(4, wave.OverflowBlock)
	if err != nil {
		t.Fatal(err)
	}
	got := make(chan []wave.Frame, 1)
	errCh := make(chan error, 1)
	go func() {
		batch, err := b.ReadBatchWait(context.Background(), 10, 2*time.Second)
		if err != nil {
			errCh <- err
			return
		}
		got <- batch
	}()

	time.Sleep(10 * time.Millisecond)
	if err := b.Write(frameAt(42, 1.5)); err != nil {
		t.Fatal(err)
	}

	select {
	case batch := <-got:
		if len(batch) != 1 || batch[0].Seq != 42 {
			t.Errorf("unexpected batch %+v", batch)
		}
	case err := <-errCh:
		t.Fatalf("ReadBatchWait: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("waiting reader never woke")
	}
}

func TestReadBatchWaitUnblocksOnClose(t *testing.T) {
	b, err := New(4, wave.OverflowBlock)
	if err != nil {
		t.Fatal(err)
	}
	errCh := make(chan error, 1)
	go func() {
		_, err := b.ReadBatchWait(context.Background(), 10, 5*time.Second)
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	b.Close()
	select {
	case err := <-errCh:
		if !errors.Is(err, wave.ErrBufferClosed) {
			t.Errorf("ReadBatchWait after Close = %v, want ErrBufferClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader not released by Close")
	}
}

func TestBlockPolicyParksWriterUntilSpace(t *testing.T) {
	b, err := New(1, wave.OverflowBlock)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Write(frameAt(0, 0)); err != nil {
		t.Fatal(err)
	}

	wrote := make(chan error, 1)
	go func() {
		wrote <- b.Write(frameAt(1, 0))
	}()

	select {
	case err := <-wrote:
		t.Fatalf("writer completed on a full buffer: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	if batch := b.ReadBatch(1); len(batch) != 1 {
		t.Fatalf("drain returned %d frames", len(batch))
	}
	select {
	case err := <-wrote:
		if err != nil {
			t.Fatalf("parked write failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("writer never resumed after space freed")
	}
	if b.Stats().OverflowCount != 0 {
		t.Errorf("block policy counted an overflow")
	}
}

func TestBlockPolicyWriterReleasedByClose(t *testing.T) {
	b, err := New(1, wave.OverflowBlock)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Write(frameAt(0, 0)); err != nil {
		t.Fatal(err)
	}
	wrote := make(chan error, 1)
	go func() {
		wrote <- b.Write(frameAt(1, 0))
	}()
	time.Sleep(10 * time.Millisecond)
	b.Close()
	select {
	case err := <-wrote:
		if !errors.Is(err, wave.ErrBufferClosed) {
			t.Errorf("parked write after Close = %v, want ErrBufferClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("writer not released by Close")
	}
}

func TestWriteContextCancelReleasesParkedWriter(t *testing.T) {
	b, err := New(1, wave.OverflowBlock)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Write(frameAt(0, 0)); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	wrote := make(chan error, 1)
	go func() {
		wrote <- b.WriteContext(ctx, frameAt(1, 0))
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-wrote:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("canceled write = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("writer not released by cancellation")
	}
}

func TestHighWaterMark(t *testing.T) {
	b, err := New(8, wave.OverflowBlock)
	if err != nil {
		t.Fatal(err)
	}
	for seq := uint64(0); seq < 5; seq++ {
		if err := b.Write(frameAt(seq, 0)); err != nil {
			t.Fatal(err)
		}
	}
	b.ReadBatch(5)
	for seq := uint64(5); seq < 7; seq++ {
		if err := b.Write(frameAt(seq, 0)); err != nil {
			t.Fatal(err)
		}
	}
	if hw := b.Stats().HighWaterMark; hw != 5 {
		t.Errorf("HighWaterMark = %d, want 5", hw)
	}
}

// Frames must come out whole even when the producer reuses its sample
// slice between writes.
func TestNoTornFramesUnderConcurrency(t *testing.T) {
	b, err := New(16, wave.OverflowOverwriteOldest)
	if err != nil {
		t.Fatal(err)
	}

	const channels = 8
	const frames = 2000

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		scratch := make([]float64, channels)
		for seq := uint64(0); seq < frames; seq++ {
			for i := range scratch {
				scratch[i] = float64(seq)
			}
			if err := b.Write(wave.Frame{Seq: seq, Timestamp: time.Now(), Samples: scratch}); err != nil {
				t.Errorf("Write: %v", err)
				return
			}
		}
		b.Close()
	}()

	var torn int
	go func() {
		defer wg.Done()
		for {
			batch := b.ReadBatch(4)
			if len(batch) == 0 {
				if b.Closed() && b.Len() == 0 {
					return
				}
				time.Sleep(time.Millisecond)
				continue
			}
			for _, f := range batch {
				for _, s := range f.Samples {
					if s != f.Samples[0] {
						torn++
					}
				}
			}
		}
	}()

	wg.Wait()
	if torn != 0 {
		t.Errorf("observed %d torn sample vectors", torn)
	}
}
