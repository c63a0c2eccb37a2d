package bmc

import (
	"sync"

	"github.com/glennswest/ipmi-bmc-emulator/internal/sol"
)

const screenBufSize = 64 * 1024

// console fans out SOL bytes to live HTTP/SSE subscribers and keeps a
// rolling screen buffer for catchup on connect, adapted from the
// teacher's sol/manager.go Subscribe/Unsubscribe/broadcast trio.
type console struct {
	screen *sol.ScreenBuffer

	subMu sync.RWMutex
	subs  []chan []byte
}

func newConsole() *console {
	return &console{screen: sol.NewScreenBuffer(screenBufSize)}
}

func (c *console) observe(data []byte) {
	c.screen.Write(data)
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for _, ch := range c.subs {
		select {
		case ch <- data:
		default: // slow subscriber: drop rather than stall the pump
		}
	}
}

func (c *console) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	c.subMu.Lock()
	c.subs = append(c.subs, ch)
	c.subMu.Unlock()
	return ch
}

func (c *console) Unsubscribe(ch chan []byte) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for i, s := range c.subs {
		if s == ch {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (c *console) Catchup() []byte {
	return c.screen.Bytes()
}
