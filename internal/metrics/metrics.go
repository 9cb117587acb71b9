// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証APIクライアントやセッション管理から利用する。
type MetricsCollector interface {
	RecordGatewayRequest(endpoint string, statusCode int, duration time.Duration)
	RecordLoginAttempt(method, outcome string)
	RecordOTPSend(outcome string)
	RecordOTPVerify(outcome string)
	RecordSessionTransition(state string)
	RecordStorageError(op string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	gatewayStatus     *prometheus.CounterVec
	gatewayLatency    *prometheus.HistogramVec
	loginAttempts     *prometheus.CounterVec
	otpSends          *prometheus.CounterVec
	otpVerifies       *prometheus.CounterVec
	sessionTransition *prometheus.CounterVec
	storageErrors     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		gatewayStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantdesk_gateway_requests_total",
			Help: "認証APIへのリクエスト数（エンドポイント・ステータスコード別）",
		}, []string{"endpoint", "status_code"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tenantdesk_gateway_latency_seconds",
			Help:    "認証APIのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantdesk_login_attempts_total",
			Help: "ログイン試行数（方式・結果別）",
		}, []string{"method", "outcome"}),
		otpSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantdesk_otp_send_total",
			Help: "確認コード送信の結果別件数",
		}, []string{"outcome"}),
		otpVerifies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantdesk_otp_verify_total",
			Help: "確認コード検証の結果別件数",
		}, []string{"outcome"}),
		sessionTransition: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantdesk_session_transitions_total",
			Help: "セッション状態の遷移数（遷移先別）",
		}, []string{"state"}),
		storageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantdesk_storage_errors_total",
			Help: "セッションストアの操作失敗数",
		}, []string{"op"}),
	}

	reg.MustRegister(
		c.gatewayStatus,
		c.gatewayLatency,
		c.loginAttempts,
		c.otpSends,
		c.otpVerifies,
		c.sessionTransition,
		c.storageErrors,
	)

	return c
}

// RecordGatewayRequest は認証APIの呼び出し結果を記録する。
// 通信エラーでレスポンスがない場合、statusCodeは0を渡す。
func (c *Collector) RecordGatewayRequest(endpoint string, statusCode int, duration time.Duration) {
	c.gatewayStatus.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
	c.gatewayLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordLoginAttempt はログイン試行を記録する。
func (c *Collector) RecordLoginAttempt(method, outcome string) {
	c.loginAttempts.WithLabelValues(method, outcome).Inc()
}

// RecordOTPSend は確認コード送信を記録する。
func (c *Collector) RecordOTPSend(outcome string) {
	c.otpSends.WithLabelValues(outcome).Inc()
}

// RecordOTPVerify は確認コード検証を記録する。
func (c *Collector) RecordOTPVerify(outcome string) {
	c.otpVerifies.WithLabelValues(outcome).Inc()
}

// RecordSessionTransition はセッション状態の遷移を記録する。
func (c *Collector) RecordSessionTransition(state string) {
	c.sessionTransition.WithLabelValues(state).Inc()
}

// RecordStorageError はセッションストアの失敗を記録する。
func (c *Collector) RecordStorageError(op string) {
	c.storageErrors.WithLabelValues(op).Inc()
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordGatewayRequest(string, int, time.Duration) {}
func (Nop) RecordLoginAttempt(string, string)                {}
func (Nop) RecordOTPSend(string)                             {}
func (Nop) RecordOTPVerify(string)                           {}
func (Nop) RecordSessionTransition(string)                   {}
func (Nop) RecordStorageError(string)                        {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
