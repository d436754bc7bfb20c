package main

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"
)

var (
	proxyMutex sync.RWMutex
	proxyCache = make(map[string]proxy.Dialer)
)

// HTTPProxyDialer implements proxy.Dialer for HTTP CONNECT proxies
type HTTPProxyDialer struct {
	proxyURL *url.URL
	timeout  time.Duration
	log      *Logger
}

// Dial connects to the address through the HTTP proxy
func (d *HTTPProxyDialer) Dial(network, addr string) (net.Conn, error) {
	proxyDialer := &net.Dialer{
		Timeout:   d.timeout,
		KeepAlive: 30 * time.Second,
	}

	conn, err := proxyDialer.Dial("tcp", d.proxyURL.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to HTTP proxy: %v", err)
	}

	connectReq := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n", addr, addr)

	if d.proxyURL.User != nil {
		username := d.proxyURL.User.Username()
		password, _ := d.proxyURL.User.Password()

		auth := fmt.Sprintf("%s:%s", username, password)
		basicAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte(auth))
		connectReq += fmt.Sprintf("Proxy-Authorization: %s\r\n", basicAuth)
	}

	connectReq += "\r\n"

	if _, err := conn.Write([]byte(connectReq)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to write CONNECT request: %v", err)
	}

	buf := make([]byte, 1024)
	conn.SetReadDeadline(time.Now().Add(d.timeout))

	n, err := conn.Read(buf)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read CONNECT response: %v", err)
	}

	conn.SetReadDeadline(time.Time{})

	response := string(buf[:n])

	// HTTP proxies answer an established tunnel with a 200 status line
	if !strings.Contains(response, "HTTP/1.1 200") && !strings.Contains(response, "HTTP/1.0 200") {
		conn.Close()
		return nil, fmt.Errorf("proxy connection failed: %s", strings.TrimSpace(response))
	}

	// Some proxies send data after the headers; keep it readable
	if headerEnd := strings.Index(response, "\r\n\r\n"); headerEnd > 0 && headerEnd+4 < n {
		conn = &preReadConn{
			Conn:    conn,
			preRead: buf[headerEnd+4 : n],
		}
	}

	return conn, nil
}

// preReadConn is a net.Conn that has some data pre-read
type preReadConn struct {
	net.Conn
	preRead     []byte
	preReadDone bool
}

// Read returns the pre-read data before touching the underlying connection
func (c *preReadConn) Read(b []byte) (int, error) {
	if !c.preReadDone && len(c.preRead) > 0 {
		n := copy(b, c.preRead)
		if n >= len(c.preRead) {
			c.preReadDone = true
		} else {
			c.preRead = c.preRead[n:]
		}
		return n, nil
	}

	return c.Conn.Read(b)
}

// GetProxyForAccount returns a proxy dialer for the given account, or nil
// when no proxy is configured. The PROXY_URL template may contain a
// [session] placeholder that is replaced by account name plus index so every
// bot gets its own egress.
func GetProxyForAccount(logger *Logger, accountName string, index int) (proxy.Dialer, error) {
	proxyMutex.RLock()
	if dialer, ok := proxyCache[accountName]; ok {
		proxyMutex.RUnlock()
		logger.Debug("Using cached proxy for account %s", accountName)
		return dialer, nil
	}
	proxyMutex.RUnlock()

	proxyStr := os.Getenv("PROXY_URL")
	if proxyStr == "" {
		logger.Debug("No proxy configured (PROXY_URL environment variable not set)")
		return nil, nil
	}

	session := fmt.Sprintf("%s%d", accountName, index)
	proxyStr = strings.ReplaceAll(proxyStr, "[session]", session)
	logger.Info("Using proxy URL: %s for account %s", proxyStr, accountName)

	proxyURL, err := url.Parse(proxyStr)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %v", err)
	}

	var dialer proxy.Dialer
	switch proxyURL.Scheme {
	case "socks5":
		auth := &proxy.Auth{}
		if proxyURL.User != nil {
			auth.User = proxyURL.User.Username()
			if password, ok := proxyURL.User.Password(); ok {
				auth.Password = password
			}
		}

		if auth.User == "" {
			auth = nil
		}

		dialer, err = proxy.SOCKS5("tcp", proxyURL.Host, auth, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %v", err)
		}
	case "http", "https":
		dialer = &HTTPProxyDialer{
			proxyURL: proxyURL,
			timeout:  30 * time.Second,
			log:      logger,
		}
	default:
		return nil, fmt.Errorf("unsupported proxy scheme: %s", proxyURL.Scheme)
	}

	proxyMutex.Lock()
	proxyCache[accountName] = dialer
	proxyMutex.Unlock()

	return dialer, nil
}
