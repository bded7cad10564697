// Команда loadtest гоняет конкурентные циклы оформления заказа по HTTP
// и печатает сводку по задержкам и ошибкам.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/techstore/internal/httpapi"
)

type loadMode string

const (
	// modeBegin открывает и бросает сессию оформления.
	modeBegin loadMode = "begin"
	// modeDetails дополнительно выбирает адрес и способ оплаты.
	modeDetails loadMode = "details"
	// modeVoucher дополнительно запрашивает предпросмотр ваучера.
	modeVoucher loadMode = "voucher"
)

type config struct {
	baseURL         string
	total           int
	totalSet        bool
	duration        time.Duration
	concurrency     int
	timeout         time.Duration
	mode            loadMode
	token           string
	jwtSecret       string
	userID          string
	addressID       string
	paymentMethodID string
	voucherCode     string
	outputPath      string
}

// sample — одно измерение: имя шага, задержка и HTTP-статус (0 при сетевой ошибке).
type sample struct {
	step    string
	latency time.Duration
	status  int
}

// metrics накапливает измерения из всех воркеров.
type metrics struct {
	mu      sync.Mutex
	samples []sample
}

func (m *metrics) add(step string, latency time.Duration, status int) {
	m.mu.Lock()
	m.samples = append(m.samples, sample{step: step, latency: latency, status: status})
	m.mu.Unlock()
}

type quantiles struct {
	Min float64 `json:"min"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
	Max float64 `json:"max"`
}

type stepReport struct {
	Calls     int64            `json:"calls"`
	Failed    int64            `json:"failed"`
	Statuses  map[string]int64 `json:"statuses"`
	LatencyMs quantiles        `json:"latency_ms"`
}

type report struct {
	StartedAt       time.Time             `json:"started_at"`
	DurationSeconds float64               `json:"duration_seconds"`
	Scenarios       int64                 `json:"scenarios"`
	Failed          int64                 `json:"failed"`
	RPS             float64               `json:"rps"`
	Steps           map[string]stepReport `json:"steps"`
}

// build группирует измерения по шагам; шаг "scenario" агрегирует цикл целиком.
func (m *metrics) build(startedAt time.Time, elapsed time.Duration) report {
	m.mu.Lock()
	defer m.mu.Unlock()

	grouped := make(map[string][]sample)
	for _, s := range m.samples {
		grouped[s.step] = append(grouped[s.step], s)
	}

	out := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: elapsed.Seconds(),
		Steps:           make(map[string]stepReport, len(grouped)),
	}
	for step, samples := range grouped {
		r := stepReport{Statuses: make(map[string]int64)}
		latencies := make([]float64, 0, len(samples))
		for _, s := range samples {
			r.Calls++
			if s.status < 200 || s.status >= 300 {
				r.Failed++
			}
			r.Statuses[fmt.Sprintf("%d", s.status)]++
			latencies = append(latencies, float64(s.latency.Microseconds())/1000.0)
		}
		r.LatencyMs = summarize(latencies)
		out.Steps[step] = r
	}

	if scenario, ok := out.Steps["scenario"]; ok {
		out.Scenarios = scenario.Calls
		out.Failed = scenario.Failed
		if elapsed > 0 {
			out.RPS = float64(scenario.Calls) / elapsed.Seconds()
		}
	}
	return out
}

func summarize(values []float64) quantiles {
	if len(values) == 0 {
		return quantiles{}
	}
	sort.Float64s(values)

	var sum float64
	for _, v := range values {
		sum += v
	}
	return quantiles{
		Min: values[0],
		Avg: sum / float64(len(values)),
		P50: percentile(values, 50),
		P95: percentile(values, 95),
		P99: percentile(values, 99),
		Max: values[len(values)-1],
	}
}

// percentile берёт значение по правилу nearest-rank.
func percentile(sorted []float64, p float64) float64 {
	rank := int(math.Ceil(p / 100.0 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

func parseConfig() (config, error) {
	var cfg config
	var modeValue string

	flag.StringVar(&cfg.baseURL, "addr", "http://localhost:8080", "base URL of the checkout service")
	flag.IntVar(&cfg.total, "total", 400, "total scenarios in count mode")
	flag.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 20, "number of concurrent workers")
	flag.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	flag.StringVar(&modeValue, "mode", string(modeBegin), "load mode: begin | details | voucher")
	flag.StringVar(&cfg.token, "token", "", "bearer token of a seeded user")
	flag.StringVar(&cfg.jwtSecret, "jwt-secret", "", "mint a token locally instead of -token (requires -user-id)")
	flag.StringVar(&cfg.userID, "user-id", "", "user id for locally minted token")
	flag.StringVar(&cfg.addressID, "address-id", "", "address id for details/voucher modes")
	flag.StringVar(&cfg.paymentMethodID, "payment-method-id", "", "payment method id for details/voucher modes")
	flag.StringVar(&cfg.voucherCode, "voucher", "", "voucher code for voucher mode")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	cfg.mode = loadMode(strings.TrimSpace(modeValue))
	switch cfg.mode {
	case modeBegin, modeDetails, modeVoucher:
	default:
		return cfg, fmt.Errorf("unsupported mode: %s", modeValue)
	}

	switch {
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.token == "" && cfg.jwtSecret == "":
		return cfg, errors.New("either -token or -jwt-secret with -user-id is required")
	case cfg.token == "" && cfg.userID == "":
		return cfg, errors.New("-user-id is required when minting a token with -jwt-secret")
	case cfg.mode != modeBegin && (cfg.addressID == "" || cfg.paymentMethodID == ""):
		return cfg, errors.New("address-id and payment-method-id are required for details/voucher modes")
	case cfg.mode == modeVoucher && cfg.voucherCode == "":
		return cfg, errors.New("voucher is required for voucher mode")
	}

	return cfg, nil
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	token := cfg.token
	if token == "" {
		minted, mintErr := httpapi.NewTokenManager(cfg.jwtSecret, time.Hour).Issue(cfg.userID, httpapi.RoleCustomer)
		if mintErr != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to mint token: %v\n", mintErr)
			os.Exit(1)
		}
		token = minted
	}

	runner := &scenarioRunner{
		client:  &http.Client{Timeout: cfg.timeout},
		baseURL: strings.TrimRight(cfg.baseURL, "/"),
		token:   token,
		cfg:     cfg,
	}

	startedAt := time.Now()
	col := &metrics{}

	jobs := make(chan struct{}, cfg.concurrency*2)
	var wg sync.WaitGroup
	for i := 0; i < cfg.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				_ = runner.run(col)
			}
		}()
	}

	feed(jobs, cfg)
	wg.Wait()

	result := col.build(startedAt, time.Since(startedAt))
	printReport(result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}
	if result.Failed > 0 {
		os.Exit(1)
	}
}

// feed публикует задания либо фиксированным числом, либо до истечения duration.
func feed(jobs chan<- struct{}, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- struct{}{}
		}
		return
	}

	deadline := time.After(cfg.duration)
	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}
		select {
		case <-deadline:
			return
		case jobs <- struct{}{}:
		}
	}
}

type scenarioRunner struct {
	client  *http.Client
	baseURL string
	token   string
	cfg     config
}

// run выполняет один цикл оформления: открыть сессию, опционально выбрать
// детали и предпросмотреть ваучер, затем бросить сессию. Корзина при этом
// не оформляется, цикл можно повторять бесконечно.
func (r *scenarioRunner) run(col *metrics) error {
	start := time.Now()
	outcome := http.StatusOK
	defer func() {
		col.add("scenario", time.Since(start), outcome)
	}()

	fail := func(step string, status int, err error) error {
		outcome = status
		if err != nil || status == 0 {
			outcome = http.StatusInternalServerError
		}
		return fmt.Errorf("%s: status=%d err=%v", step, status, err)
	}

	status, err := r.call(col, "begin", "/api/checkout", nil)
	if err != nil || status >= 300 {
		return fail("begin checkout", status, err)
	}

	if r.cfg.mode != modeBegin {
		body := map[string]string{
			"address_id":        r.cfg.addressID,
			"payment_method_id": r.cfg.paymentMethodID,
		}
		if status, err = r.call(col, "details", "/api/checkout/details", body); err != nil || status >= 300 {
			return fail("select details", status, err)
		}
	}

	if r.cfg.mode == modeVoucher {
		body := map[string]string{"voucher_code": r.cfg.voucherCode}
		if status, err = r.call(col, "voucher_preview", "/api/checkout/voucher/preview", body); err != nil || status >= 300 {
			return fail("voucher preview", status, err)
		}
	}

	if status, err = r.call(col, "abandon", "/api/checkout/abandon", nil); err != nil || status >= 300 {
		return fail("abandon checkout", status, err)
	}
	return nil
}

func (r *scenarioRunner) call(col *metrics, step, path string, body any) (int, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(http.MethodPost, r.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+r.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		col.add(step, time.Since(start), 0)
		return 0, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	col.add(step, time.Since(start), resp.StatusCode)
	return resp.StatusCode, nil
}

func writeJSONReport(path string, result report) error {
	file, err := os.Create(path) // #nosec G304 -- явный CLI-параметр для локального отчёта
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(result report, cfg config) {
	fmt.Println("Load test summary")
	fmt.Printf("mode=%s scenarios=%d failed=%d duration=%.2fs rps=%.2f\n",
		cfg.mode, result.Scenarios, result.Failed, result.DurationSeconds, result.RPS)

	names := make([]string, 0, len(result.Steps))
	for name := range result.Steps {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := result.Steps[name]
		fmt.Printf("%-16s calls=%-6d failed=%-5d p50=%.2fms p95=%.2fms p99=%.2fms max=%.2fms\n",
			name, s.Calls, s.Failed, s.LatencyMs.P50, s.LatencyMs.P95, s.LatencyMs.P99, s.LatencyMs.Max)
	}
}
