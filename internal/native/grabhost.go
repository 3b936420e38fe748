package native

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cavaliergopher/grab/v3"
)

const progressInterval = 250 * time.Millisecond

// GrabHost is a Host backed by grab. Pausing cancels the transfer and keeps
// the partial file; resuming issues a new request that grab continues with a
// Range request when the origin allows it.
type GrabHost struct {
	client  *grab.Client
	referer string
	log     Logger

	mu        sync.Mutex
	listeners map[int]func(Item) bool
	nextID    int
}

// NewGrabHost creates a host. client may be nil to use grab's default client.
func NewGrabHost(client *grab.Client, userAgent, referer string, logger Logger) *GrabHost {
	if client == nil {
		client = grab.NewClient()
	}
	if userAgent != "" {
		client.UserAgent = userAgent
	}
	return &GrabHost{
		client:    client,
		referer:   referer,
		log:       logger,
		listeners: map[int]func(Item) bool{},
	}
}

// OnWillDownload implements Host.
func (g *GrabHost) OnWillDownload(fn func(Item) bool) func() {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.listeners[id] = fn
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		delete(g.listeners, id)
		g.mu.Unlock()
	}
}

// Download implements Host. Listeners are consulted on a separate goroutine;
// an item nobody claims is dropped.
func (g *GrabHost) Download(rawURL string) error {
	if rawURL == "" {
		return errors.New("empty url")
	}
	item := &grabItem{host: g, url: rawURL}
	go g.announce(item)
	return nil
}

func (g *GrabHost) announce(item *grabItem) {
	g.mu.Lock()
	fns := make([]func(Item) bool, 0, len(g.listeners))
	for _, fn := range g.listeners {
		fns = append(fns, fn)
	}
	g.mu.Unlock()

	for _, fn := range fns {
		if fn(item) {
			item.start(false)
			return
		}
	}
	if g.log != nil {
		g.log.Debug("unclaimed download dropped", "url", item.url)
	}
}

type grabItem struct {
	host *GrabHost
	url  string

	mu        sync.Mutex
	savePath  string
	state     State
	resp      *grab.Response
	cancel    context.CancelFunc
	gen       int
	received  int64
	total     int64
	observers []Observer
}

func (it *grabItem) URL() string { return it.url }

func (it *grabItem) SetSavePath(path string) {
	it.mu.Lock()
	it.savePath = path
	it.mu.Unlock()
}

func (it *grabItem) SavePath() string {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.savePath
}

func (it *grabItem) Watch(obs Observer) {
	it.mu.Lock()
	it.observers = append(it.observers, obs)
	it.mu.Unlock()
}

func (it *grabItem) State() State {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.state
}

func (it *grabItem) IsPaused() bool {
	return it.State() == StatePaused
}

func (it *grabItem) CanResume() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.state == StatePaused && it.savePath != ""
}

func (it *grabItem) ReceivedBytes() int64 {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.received
}

func (it *grabItem) TotalBytes() int64 {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.total
}

// start launches a transfer. The first launch leaves an item paused between
// its claim and now alone; Resume starts it later.
func (it *grabItem) start(resuming bool) {
	it.mu.Lock()
	if it.state.Terminal() || (!resuming && it.state == StatePaused) {
		it.mu.Unlock()
		return
	}
	req, err := grab.NewRequest(it.savePath, it.url)
	if err != nil {
		it.mu.Unlock()
		it.finish(StateInterrupted)
		return
	}
	if it.host.referer != "" {
		req.HTTPRequest.Header.Set("Referer", it.host.referer)
	}
	ctx, cancel := context.WithCancel(context.Background())
	req = req.WithContext(ctx)
	it.cancel = cancel
	it.gen++
	gen := it.gen
	it.state = StateProgressing
	it.mu.Unlock()

	resp := it.host.client.Do(req)

	it.mu.Lock()
	it.resp = resp
	it.mu.Unlock()

	go it.monitor(resp, gen)
}

func (it *grabItem) monitor(resp *grab.Response, gen int) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			it.progress(resp, gen)
		case <-resp.Done:
			it.progress(resp, gen)
			it.mu.Lock()
			// pause or cancel already accounted for this transfer
			if gen != it.gen || it.state != StateProgressing {
				it.mu.Unlock()
				return
			}
			it.mu.Unlock()
			if err := resp.Err(); err != nil {
				if it.host.log != nil {
					it.host.log.Debug("host download failed", "url", it.url, "error", err)
				}
				it.finish(StateInterrupted)
				return
			}
			it.finish(StateCompleted)
			return
		}
	}
}

func (it *grabItem) progress(resp *grab.Response, gen int) {
	it.mu.Lock()
	if gen != it.gen {
		it.mu.Unlock()
		return
	}
	it.received = resp.BytesComplete()
	if size := resp.Size(); size > 0 {
		it.total = size
	}
	observers := append([]Observer(nil), it.observers...)
	it.mu.Unlock()

	for _, obs := range observers {
		obs.OnProgress(it)
	}
}

func (it *grabItem) finish(state State) {
	it.mu.Lock()
	it.state = state
	observers := append([]Observer(nil), it.observers...)
	it.mu.Unlock()

	for _, obs := range observers {
		obs.OnDone(it, state)
	}
}

func (it *grabItem) Pause() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.state != StateProgressing {
		return ErrNotPausable
	}
	it.state = StatePaused
	if it.cancel != nil {
		it.cancel()
	}
	return nil
}

func (it *grabItem) Resume() error {
	it.mu.Lock()
	if it.state != StatePaused {
		it.mu.Unlock()
		return ErrNotResumable
	}
	prev := it.resp
	it.mu.Unlock()

	// the cancelled transfer must release the file before grab reopens it
	if prev != nil {
		<-prev.Done
	}
	it.start(true)
	return nil
}

func (it *grabItem) Cancel() {
	it.mu.Lock()
	if it.state.Terminal() {
		it.mu.Unlock()
		return
	}
	it.state = StateCancelled
	if it.cancel != nil {
		it.cancel()
	}
	observers := append([]Observer(nil), it.observers...)
	it.mu.Unlock()

	for _, obs := range observers {
		obs.OnDone(it, StateCancelled)
	}
}
