package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// SSRFGuardService はユーザーが登録したURL（RSSフィードなど）へアクセスする際の
// SSRF防止機能のインターフェース。
type SSRFGuardService interface {
	// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
	// safeurlのDialer検証により、DNS解決後のプライベートIPへの接続もブロックされる。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateURL はリクエスト前にURLを静的に検証する。
	ValidateURL(rawURL string) error
}

// allowedSchemes はSSRF防止で許可されるURLスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks はSSRF防止でブロックされるネットワーク範囲。
var blockedNetworks = mustParseCIDRs(
	"10.0.0.0/8",     // プライベート (RFC 1918)
	"172.16.0.0/12",  // プライベート (RFC 1918)
	"192.168.0.0/16", // プライベート (RFC 1918)
	"100.64.0.0/10",  // キャリアグレードNAT (RFC 6598)
	"127.0.0.0/8",    // ループバック
	"169.254.0.0/16", // リンクローカル（クラウドメタデータIPを含む）
	"0.0.0.0/8",      // カレントネットワーク
	"::1/128",        // IPv6ループバック
	"fe80::/10",      // IPv6リンクローカル
	"fc00::/7",       // IPv6ユニークローカル
)

// blockedHostnames はブロック対象のホスト名。
var blockedHostnames = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	networks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		networks = append(networks, network)
	}
	return networks
}

// ssrfGuard はSSRFGuardServiceの実装。
type ssrfGuard struct {
	allowedPorts []int
}

// NewSSRFGuard はSSRFGuardServiceの新しいインスタンスを生成する。
// 接続先ポートは80と443のみ許可する。
func NewSSRFGuard() *ssrfGuard {
	return &ssrfGuard{allowedPorts: []int{80, 443}}
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
func (g *ssrfGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(g.allowedPorts...).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はURLの安全性を事前に検証する。
// DNS解決を伴わない静的な検証のため、DNS再バインディングは
// NewSafeClientのDialer側で防止される。
func (g *ssrfGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("URLが空です")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("URLの解析に失敗しました: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("許可されていないスキームです: %q", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("URLにホストがありません: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, network := range blockedNetworks {
			if network.Contains(ip) {
				return fmt.Errorf("ブロック対象のIPアドレスです: %s", ip)
			}
		}
		return nil
	}

	if blockedHostnames[strings.ToLower(host)] {
		return fmt.Errorf("ブロック対象のホストです: %s", host)
	}

	return nil
}
