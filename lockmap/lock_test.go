package lockmap

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	l := NewLock()
	if err := l.Acquire(context.Background(), PolicyWait); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	l.Release()

	if err := l.Acquire(context.Background(), PolicyWait); err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	l.Release()
}

func TestLockPolicyFail(t *testing.T) {
	l := NewLock()
	if err := l.Acquire(context.Background(), PolicyFail); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	if err := l.Acquire(context.Background(), PolicyFail); err != ErrWouldBlock {
		t.Fatalf("expected ErrWouldBlock, got %v", err)
	}

	l.Release()

	if err := l.Acquire(context.Background(), PolicyFail); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	l.Release()
}

func TestLockPolicyWait(t *testing.T) {
	l := NewLock()
	if err := l.Acquire(context.Background(), PolicyWait); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		l.Release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.Acquire(ctx, PolicyWait); err != nil {
		t.Fatalf("waited acquire: %v", err)
	}
	l.Release()
}

func TestLockTimeout(t *testing.T) {
	l := NewLock()
	if err := l.Acquire(context.Background(), PolicyWait); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx, PolicyWait); err == nil {
		t.Fatal("expected timeout error")
	}

	l.Release()
}

func TestDifferentRowsNoContention(t *testing.T) {
	lm := NewLockMap[uint64](nil)

	rl1 := lm.GetOrCreate(1)
	rl2 := lm.GetOrCreate(2)

	if err := rl1.Acquire(context.Background(), PolicyFail); err != nil {
		t.Fatalf("acquire row 1: %v", err)
	}
	if err := rl2.Acquire(context.Background(), PolicyFail); err != nil {
		t.Fatalf("acquire row 2: %v", err)
	}

	rl1.Release()
	rl2.Release()
}

func TestDifferentColumnsNoContention(t *testing.T) {
	lm := NewLockMap[uint64]([]string{"name", "age"})
	rl := lm.GetOrCreate(1)

	if err := rl.AcquireColumns(context.Background(), PolicyFail, []string{"name"}); err != nil {
		t.Fatalf("acquire name: %v", err)
	}
	if err := rl.AcquireColumns(context.Background(), PolicyFail, []string{"age"}); err != nil {
		t.Fatalf("acquire age while name is held: %v", err)
	}
	rl.ReleaseColumns([]string{"name", "age"})
}

func TestSameColumnContends(t *testing.T) {
	rl := NewRowLock([]string{"name", "age"})

	if err := rl.AcquireColumns(context.Background(), PolicyFail, []string{"name"}); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	rl.whole.Release() // no-op: AcquireColumns never takes the whole-row lock
	if err := rl.columns["name"].Acquire(context.Background(), PolicyFail); err != ErrWouldBlock {
		t.Fatalf("expected name column still held, got %v", err)
	}
	rl.columns["name"].Release()
}

func TestConcurrentLockDifferentRows(t *testing.T) {
	lm := NewLockMap[uint64](nil)

	var wg sync.WaitGroup
	errCh := make(chan error, 100)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			rl := lm.GetOrCreate(id)
			for j := 0; j < 50; j++ {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := rl.Acquire(ctx, PolicyWait); err != nil {
					errCh <- err
					cancel()
					return
				}
				rl.Release()
				cancel()
			}
		}(uint64(i))
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("lock error: %v", err)
	}
}

func TestConcurrentLockSameRow(t *testing.T) {
	lm := NewLockMap[uint64](nil)
	rl := lm.GetOrCreate(1)

	var wg sync.WaitGroup
	counter := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := rl.Acquire(ctx, PolicyWait); err != nil {
					t.Errorf("acquire: %v", err)
					cancel()
					return
				}
				counter++
				rl.Release()
				cancel()
			}
		}()
	}

	wg.Wait()

	if counter != 1000 {
		t.Errorf("expected counter=1000, got %d", counter)
	}
}

func TestLockMapRemove(t *testing.T) {
	lm := NewLockMap[uint64](nil)
	lm.GetOrCreate(1)

	if _, ok := lm.Get(1); !ok {
		t.Fatal("expected row lock to exist")
	}

	lm.Remove(1)

	if _, ok := lm.Get(1); ok {
		t.Fatal("expected row lock to be gone after Remove")
	}
}
