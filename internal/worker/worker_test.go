package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yangwenmai/retromag/internal/model"
)

func TestWorker_RunsJobsInOrder(t *testing.T) {
	w := New(nil, 4)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(stopped)
	}()

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})
	for _, name := range []string{"cover", "article-0", "article-1"} {
		name := name
		if err := w.Submit(Job{Name: name, Run: func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			n := len(order)
			mu.Unlock()
			if n == 3 {
				close(done)
			}
			return nil
		}}); err != nil {
			t.Fatalf("Submit(%s): %v", name, err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs did not finish")
	}
	cancel()
	<-stopped

	want := []string{"cover", "article-0", "article-1"}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
	if err := w.Submit(Job{Name: "late", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Errorf("Submit after stop err = %v, want ErrStopped", err)
	}
}

func TestWorker_QueueFull(t *testing.T) {
	w := New(nil, 1)
	noop := func(context.Context) error { return nil }
	if err := w.Submit(Job{Name: "x", Run: noop}); err != nil {
		t.Fatal(err)
	}
	if err := w.Submit(Job{Name: "y", Run: noop}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("err = %v, want ErrQueueFull", err)
	}
	if w.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", w.Pending())
	}
}

func TestWorker_RecordsFailure(t *testing.T) {
	w := New(nil, 1)
	if _, ok := w.LastFailure(); ok {
		t.Fatal("fresh worker reports a failure")
	}
	cause := model.NewFailure(model.FailureImage, "image", errors.New("quota"))
	finished := make(chan struct{})
	if err := w.Go(Job{Unit: model.UnitCover, Name: "cover", Run: func(context.Context) error {
		defer close(finished)
		return cause
	}}); err != nil {
		t.Fatal(err)
	}
	<-finished

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if info, ok := w.LastFailure(); ok {
			if info.Unit != model.UnitCover || info.Kind != model.FailureImage {
				t.Errorf("info = %+v", info)
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Error("failure was not recorded")
}

func TestWorker_DuplicateUnitRejected(t *testing.T) {
	w := New(nil, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	release := make(chan struct{})
	started := make(chan struct{})
	var runs int
	var mu sync.Mutex
	job := Job{Unit: model.ArticleUnit(0), Name: "article-0", Run: func(context.Context) error {
		mu.Lock()
		runs++
		mu.Unlock()
		close(started)
		<-release
		return nil
	}}

	if err := w.Submit(job); err != nil {
		t.Fatal(err)
	}
	if err := w.Submit(job); !errors.Is(err, ErrAlreadyQueued) {
		t.Errorf("queued duplicate err = %v, want ErrAlreadyQueued", err)
	}
	if !w.Busy() {
		t.Error("Busy = false with a queued job")
	}

	go w.Start(ctx)
	<-started
	if err := w.Submit(job); !errors.Is(err, ErrAlreadyQueued) {
		t.Errorf("running duplicate err = %v, want ErrAlreadyQueued", err)
	}
	other := Job{Unit: model.UnitCover, Name: "cover", Run: func(context.Context) error { return nil }}
	if err := w.Submit(other); err != nil {
		t.Errorf("Submit(other unit): %v", err)
	}
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for w.Busy() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if w.Busy() {
		t.Fatal("worker still busy after jobs finished")
	}
	mu.Lock()
	defer mu.Unlock()
	if runs != 1 {
		t.Errorf("article-0 ran %d times, want 1", runs)
	}
}

func TestWorker_BusyWhileDetached(t *testing.T) {
	w := New(nil, 1)
	release := make(chan struct{})
	if err := w.Go(Job{Name: "regenerate", Run: func(context.Context) error {
		<-release
		return nil
	}}); err != nil {
		t.Fatal(err)
	}
	if !w.Busy() {
		t.Error("Busy = false with a detached job running")
	}
	close(release)
	deadline := time.Now().Add(2 * time.Second)
	for w.Busy() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if w.Busy() {
		t.Error("Busy = true after the detached job finished")
	}
}
