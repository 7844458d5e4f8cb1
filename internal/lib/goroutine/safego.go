// Package goroutine запуск фоновых задач с перехватом паники и ожиданием
// их завершения при остановке сервиса.
package goroutine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Group набор фоновых задач.
type Group struct {
	log *slog.Logger
	wg  sync.WaitGroup
}

// NewGroup создаёт группу задач.
func NewGroup(log *slog.Logger) *Group {
	return &Group{log: log}
}

// Go запускает fn в отдельной горутине. Паника логируется со стеком
// и не роняет процесс.
func (g *Group) Go(name string, fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				g.log.Error("goroutine panicked",
					slog.String("goroutine", name),
					slog.String("panic", fmt.Sprintf("%v", r)),
					slog.String("stack", string(debug.Stack())),
				)
			}
		}()
		fn()
	}()
}

// Wait ждёт завершения всех задач или отмены ctx.
func (g *Group) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
