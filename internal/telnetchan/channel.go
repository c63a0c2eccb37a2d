// Package telnetchan implements the long-lived, line-oriented telnet
// control channel used to drive a remote shell: connect lazily, write a
// command line, read until a deadline or EOF. Modeled on the teacher's
// sol/manager.go connect/retry loop, generalized from an IPMI SOL client
// session to a generic command channel, using ziutek/telnet as transport
// (grounded on the sandia-minimega-minimega/powerbot manifest).
package telnetchan

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ziutek/telnet"
)

// Config mirrors spec §4.1 / §6's TelnetSession attributes.
type Config struct {
	Host              string
	Port              int
	CRLF              string
	ResponseTimeout   time.Duration
	ConnectionTimeout time.Duration
	ConnectionRetries int
	Label             string // for logging only
}

// Channel is single-owner: spec §4.1 requires callers to serialize
// access themselves (the command engine does so via its own mutex-free
// sequential invoke loop).
type Channel struct {
	cfg Config
	log *log.Entry

	mu     sync.Mutex
	conn   *telnet.Conn
	reader *bufio.Reader
}

func New(cfg Config) *Channel {
	return &Channel{
		cfg: cfg,
		log: log.WithField("telnet", cfg.Label),
	}
}

// IsConnected is the conjunction spec §4.1 describes: we have a live
// conn and the last I/O didn't observe EOF/error on it.
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect opens the TCP telnet connection, retrying up to
// ConnectionRetries times, each bounded by ConnectionTimeout. It reports
// success/failure rather than an error, per spec §4.1.
func (c *Channel) Connect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked()
}

func (c *Channel) connectLocked() bool {
	if c.conn != nil {
		return true
	}
	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	retries := c.cfg.ConnectionRetries
	if retries < 1 {
		retries = 1
	}
	for attempt := 1; attempt <= retries; attempt++ {
		conn, err := telnet.DialTimeout("tcp", addr, c.cfg.ConnectionTimeout)
		if err != nil {
			c.log.Debugf("connect attempt %d/%d to %s failed: %v", attempt, retries, addr, err)
			continue
		}
		conn.SetUnixWriteMode(true)
		c.conn = conn
		c.reader = bufio.NewReader(conn)
		c.log.Infof("connected to %s", addr)
		return true
	}
	c.log.Warnf("failed to connect to %s after %d attempts", addr, retries)
	return false
}

// Disconnect politely signals EOF and is idempotent.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
}

func (c *Channel) disconnectLocked() {
	if c.conn == nil {
		return
	}
	_ = c.conn.Close()
	c.conn = nil
	c.reader = nil
}

// Write connects lazily if needed, then writes text plus the configured
// CRLF. Returns false if no connection could be established or the write
// failed (treated as a dropped connection per spec's retryable-failure
// discipline).
func (c *Channel) Write(text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil && !c.connectLocked() {
		return false
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.ConnectionTimeout))
	if _, err := c.conn.Write([]byte(text + c.cfg.CRLF)); err != nil {
		c.log.Debugf("write failed, dropping connection: %v", err)
		c.disconnectLocked()
		return false
	}
	return true
}

// WriteRaw writes raw bytes with no CRLF appended, for the SOL pump's
// UART-side passthrough of arbitrary console bytes.
func (c *Channel) WriteRaw(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil && !c.connectLocked() {
		return false
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.ConnectionTimeout))
	if _, err := c.conn.Write(data); err != nil {
		c.log.Debugf("write failed, dropping connection: %v", err)
		c.disconnectLocked()
		return false
	}
	return true
}

// ReadLine reads a single line, bounded by ResponseTimeout. A timeout
// returns ("", false) so the caller can retry or give up, per spec §4.1 —
// it is not escalated to an error and keeps the connection; EOF or
// another read error with no data drops the connection.
func (c *Channel) ReadLine() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return "", false
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ResponseTimeout))
	line, err := c.reader.ReadString('\n')
	if err != nil {
		if line == "" {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return "", false
			}
			c.log.Debugf("read EOF/error: %v", err)
			c.disconnectLocked()
			return "", false
		}
	}
	return line, true
}

// TemporarilyWiden overrides the connection retry budget for the
// duration of fn, then restores it — used by the Wake-on-LAN chassis
// policy to widen the retry budget while waiting for a host to reboot
// (spec §4.4.1).
func (c *Channel) TemporarilyWiden(retries int, timeout time.Duration, fn func() bool) bool {
	c.mu.Lock()
	origRetries, origTimeout := c.cfg.ConnectionRetries, c.cfg.ConnectionTimeout
	c.cfg.ConnectionRetries, c.cfg.ConnectionTimeout = retries, timeout
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.cfg.ConnectionRetries, c.cfg.ConnectionTimeout = origRetries, origTimeout
		c.mu.Unlock()
	}()
	return fn()
}

// Read connects lazily if needed, then reads up to n raw bytes (used by
// the SOL pump against the UART-side channel), bounded by
// ResponseTimeout. A timeout keeps the connection; EOF or another read
// error drops it.
func (c *Channel) Read(n int) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil && !c.connectLocked() {
		return nil, false
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ResponseTimeout))
	buf := make([]byte, n)
	read, err := c.conn.Read(buf)
	if read == 0 {
		var ne net.Error
		if err != nil && !(errors.As(err, &ne) && ne.Timeout()) {
			c.disconnectLocked()
		}
		return nil, false
	}
	return buf[:read], true
}
