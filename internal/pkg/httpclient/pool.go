// Package httpclient 提供共享的上游代理拨号器。
// socks5/socks5h 代理经 x/net/proxy 建链并按代理地址复用拨号器；
// http/https 代理不在此处理，交给 Transport 自身的 Proxy 机制。
package httpclient

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/proxy"
)

// DialContext 与 http.Transport.DialContext 同形
type DialContext = func(ctx context.Context, network, addr string) (net.Conn, error)

var sharedDialers sync.Map

// ProxyDialContext 返回代理地址对应的拨号函数。
// socks5/socks5h 返回共享的 SOCKS 拨号器；http/https 与空地址返回 nil，
// 表示走 Transport 的 Proxy 配置；其余 scheme 与解析失败报错，不回退直连。
func ProxyDialContext(proxyURL string) (DialContext, error) {
	proxyURL = strings.TrimSpace(proxyURL)
	if proxyURL == "" {
		return nil, nil
	}
	if cached, ok := sharedDialers.Load(proxyURL); ok {
		return cached.(DialContext), nil
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		return nil, nil
	case "socks5", "socks5h":
		dial, err := socks5Dialer(parsed)
		if err != nil {
			return nil, err
		}
		actual, _ := sharedDialers.LoadOrStore(proxyURL, DialContext(dial))
		return actual.(DialContext), nil
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", parsed.Scheme)
	}
}

func socks5Dialer(parsed *url.URL) (DialContext, error) {
	var auth *proxy.Auth
	if parsed.User != nil {
		password, _ := parsed.User.Password()
		auth = &proxy.Auth{User: parsed.User.Username(), Password: password}
	}
	dialer, err := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("build socks5 dialer: %w", err)
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			return cd.DialContext(ctx, network, addr)
		}
		return dialer.Dial(network, addr)
	}, nil
}
