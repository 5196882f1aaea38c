package browser

import (
	"context"
	"sync"

	logx "bgjobs/pkg/logx"

	"github.com/dop251/goja"
	"github.com/google/uuid"
)

// Page is one loaded document. It owns a goja runtime; every evaluation holds
// the page lock since the runtime is not safe for concurrent use.
type Page struct {
	id     string
	url    string
	window *Window
	log    logx.Logger

	mu sync.Mutex
	vm *goja.Runtime
}

func newPage(w *Window, url string) *Page {
	p := &Page{
		id:     uuid.NewString(),
		url:    url,
		window: w,
		vm:     goja.New(),
	}
	p.log = w.log.With(logx.String("page", p.id))
	p.bind()
	return p
}

func (p *Page) PageID() string  { return p.id }
func (p *Page) URL() string     { return p.url }
func (p *Page) Window() *Window { return p.window }

// RunString evaluates code in the page.
func (p *Page) RunString(code string) error {
	_, err := p.eval(code)
	return err
}

// Eval evaluates code and returns its exported result.
func (p *Page) Eval(code string) (any, error) { return p.eval(code) }

func (p *Page) eval(code string) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vm.ClearInterrupt()
	v, err := p.vm.RunString(code)
	if err != nil {
		return nil, err
	}
	return v.Export(), nil
}

// Call invokes a script function with this page's global as receiver.
func (p *Page) Call(fn goja.Callable, args ...goja.Value) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vm.ClearInterrupt()
	_, err := fn(p.vm.GlobalObject(), args...)
	return err
}

// Interrupt aborts the script currently running in the page. Safe to call
// from any goroutine.
func (p *Page) Interrupt(reason any) { p.vm.Interrupt(reason) }

func (p *Page) runContext(ctx context.Context, code string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { p.Interrupt(ctx.Err()) })
	defer stop()
	return p.RunString(code)
}
