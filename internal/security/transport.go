package security

import (
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
	"golang.org/x/net/publicsuffix"
)

// blockedHostnames は厳格モードで拒否するホスト名。
var blockedHostnames = []string{
	"localhost",
}

// NewGatewayHTTPClient は認証API用のHTTPクライアントを生成する。
//
// strictがtrueの場合はsafeurlのクライアントを使用し、https・443番ポートのみに制限する。
// safeurlはDNS解決後のIPアドレスもDialerで検証するため、
// プライベートIPやループバックへの接続はブロックされる。
// strictがfalseの場合はローカル開発用に通常のクライアントを返す。
//
// どちらの場合もCookieJarを設定する。サードパーティログイン完了時の
// GET /login/success はブラウザで確立されたCookieを前提とするため。
func NewGatewayHTTPClient(timeout time.Duration, strict bool) (*http.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	if !strict {
		return &http.Client{
			Timeout: timeout,
			Jar:     jar,
		}, nil
	}

	builder := safeurl.GetConfigBuilder().
		SetAllowedSchemes("https").
		SetAllowedPorts(443)
	if timeout > 0 {
		builder = builder.SetTimeout(timeout)
	}

	client := safeurl.Client(builder.Build()).Client
	client.Jar = jar
	return client, nil
}

// ValidateBaseURL は認証APIのベースURLを検証する。
// 厳格モードではhttpsのみを許可し、IPリテラルのプライベートアドレスとlocalhostを拒否する。
func ValidateBaseURL(rawURL string, strict bool) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	switch {
	case strict && scheme != "https":
		return fmt.Errorf("disallowed scheme in strict mode: %s", scheme)
	case scheme != "http" && scheme != "https":
		return fmt.Errorf("disallowed scheme: %s", scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}
	if !strict {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}

	lower := strings.ToLower(host)
	for _, blocked := range blockedHostnames {
		if lower == blocked {
			return fmt.Errorf("blocked host: %s", host)
		}
	}
	return nil
}

// isBlockedIP はIPアドレスがプライベート・ループバック・リンクローカルかを判定する。
func isBlockedIP(ip net.IP) bool {
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}
