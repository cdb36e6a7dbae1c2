// Benchmark tool for load-testing Kestrel with portfolio data.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/records.csv -url http://localhost:8080
//
// The CSV holds one financial record per row:
//   user_id,record_type,amount,datetime,status
// where record_type is one of transaction|bill|deposit|loan, datetime
// is RFC3339 (transactions only) and status is the bill status
// (bills only). Rows are grouped per user, each user's portfolio is
// sent to POST /evaluate, and the tool reports approval rate, score
// distribution and offer statistics.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Record is one parsed CSV row.
type Record struct {
	UserID   string
	Type     string
	Amount   float64
	Datetime string
	Status   string
}

// EvaluateRequest mirrors the Kestrel API request format.
type EvaluateRequest struct {
	UserID       string        `json:"userId"`
	Transactions []Transaction `json:"transactions,omitempty"`
	Bills        []Bill        `json:"bills,omitempty"`
	Deposits     []Deposit     `json:"deposits,omitempty"`
	Loans        []Loan        `json:"loans,omitempty"`
}

type Transaction struct {
	Amount   float64 `json:"amount"`
	Datetime string  `json:"datetime"`
}

type Bill struct {
	PaymentAmount float64 `json:"payment_amount"`
	Status        string  `json:"status"`
}

type Deposit struct {
	Amount float64 `json:"amount"`
}

type Loan struct {
	PaymentAmount float64 `json:"payment_amount"`
}

// EvaluateResponse mirrors the Kestrel API response format.
type EvaluateResponse struct {
	DecisionID   string `json:"decisionId"`
	CreditScore  int    `json:"creditScore"`
	LendingOffer struct {
		Status     string `json:"status"`
		MaxAmount  int    `json:"maxAmount"`
		TermMonths int    `json:"termMonths"`
	} `json:"lendingOffer"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	Approved int64
	Declined int64

	TotalProcessed   int64
	TotalErrors      int64
	TotalMaxAmount   int64
	TotalScore       int64
	ProcessingTimeMs int64

	mu     sync.Mutex
	scores []int
}

func (m *Metrics) recordScore(score int) {
	m.mu.Lock()
	m.scores = append(m.scores, score)
	m.mu.Unlock()
}

func main() {
	csvPath := flag.String("csv", "", "Path to portfolio records CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 0, "Maximum users to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each decision")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/records.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║           KESTREL BENCHMARK - Lending Decisions               ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	fmt.Printf("\nReading portfolio records from %s...\n", *csvPath)
	portfolios, err := readPortfolioCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d user portfolios\n", len(portfolios))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(portfolios, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readPortfolioCSV(path string, limit int) ([]*EvaluateRequest, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, required := range []string{"user_id", "record_type", "amount"} {
		if _, ok := colIndex[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}

	field := func(record []string, name string) string {
		idx, ok := colIndex[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	byUser := make(map[string]*EvaluateRequest)
	var order []string

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		userID := field(record, "user_id")
		if userID == "" {
			continue
		}
		amount, _ := strconv.ParseFloat(field(record, "amount"), 64)

		req, ok := byUser[userID]
		if !ok {
			if limit > 0 && len(order) >= limit {
				continue
			}
			req = &EvaluateRequest{UserID: userID}
			byUser[userID] = req
			order = append(order, userID)
		}

		switch field(record, "record_type") {
		case "transaction":
			req.Transactions = append(req.Transactions, Transaction{
				Amount:   amount,
				Datetime: field(record, "datetime"),
			})
		case "bill":
			status := field(record, "status")
			if status == "" {
				status = "pending"
			}
			req.Bills = append(req.Bills, Bill{PaymentAmount: amount, Status: status})
		case "deposit":
			req.Deposits = append(req.Deposits, Deposit{Amount: amount})
		case "loan":
			req.Loans = append(req.Loans, Loan{PaymentAmount: amount})
		}
	}

	portfolios := make([]*EvaluateRequest, 0, len(order))
	for _, userID := range order {
		portfolios = append(portfolios, byUser[userID])
	}
	return portfolios, nil
}

func runBenchmark(portfolios []*EvaluateRequest, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan *EvaluateRequest, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for req := range work {
				start := time.Now()
				result, err := evaluatePortfolio(client, baseURL, tenantID, req)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", req.UserID, err)
					}
					continue
				}

				atomic.AddInt64(&metrics.TotalScore, int64(result.CreditScore))
				metrics.recordScore(result.CreditScore)

				if result.LendingOffer.Status == "Approved" {
					atomic.AddInt64(&metrics.Approved, 1)
					atomic.AddInt64(&metrics.TotalMaxAmount, int64(result.LendingOffer.MaxAmount))
				} else {
					atomic.AddInt64(&metrics.Declined, 1)
				}

				if verbose {
					fmt.Printf("%-16s | Score: %3d | %-8s | $%6d over %2d months | %3dms\n",
						req.UserID,
						result.CreditScore,
						result.LendingOffer.Status,
						result.LendingOffer.MaxAmount,
						result.LendingOffer.TermMonths,
						elapsed,
					)
				}
			}
		}()
	}

	for _, req := range portfolios {
		work <- req
	}
	close(work)

	wg.Wait()

	return metrics
}

func evaluatePortfolio(client *http.Client, baseURL, tenantID string, req *EvaluateRequest) (*EvaluateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result EvaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	decided := m.TotalProcessed - m.TotalErrors

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Users Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nDECISIONS\n")
	fmt.Printf("   Approved:         %d\n", m.Approved)
	fmt.Printf("   Declined:         %d\n", m.Declined)
	if decided > 0 {
		fmt.Printf("   Approval Rate:    %.2f%%\n", 100*float64(m.Approved)/float64(decided))
		fmt.Printf("   Average Score:    %.1f\n", float64(m.TotalScore)/float64(decided))
	}
	if m.Approved > 0 {
		fmt.Printf("   Average Offer:    $%.0f\n", float64(m.TotalMaxAmount)/float64(m.Approved))
	}

	printScoreDistribution(m.scores)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Wall Time:        %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		fmt.Printf("   Avg Latency:      %.1fms\n", float64(m.ProcessingTimeMs)/float64(m.TotalProcessed))
		fmt.Printf("   Throughput:       %.1f decisions/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}
	fmt.Println()
}

func printScoreDistribution(scores []int) {
	if len(scores) == 0 {
		return
	}

	buckets := []struct {
		label string
		lo    int
		hi    int
	}{
		{"300 (no history)", 300, 300},
		{"500-549", 500, 549},
		{"550-599", 550, 599},
		{"600-649", 600, 649},
		{"650-699", 650, 699},
		{"700-749", 700, 749},
		{"750-800", 750, 800},
	}

	counts := make([]int, len(buckets))
	for _, score := range scores {
		for i, b := range buckets {
			if score >= b.lo && score <= b.hi {
				counts[i]++
				break
			}
		}
	}

	sorted := append([]int(nil), scores...)
	sort.Ints(sorted)
	median := sorted[len(sorted)/2]

	fmt.Printf("\nSCORE DISTRIBUTION (median %d)\n", median)
	for i, b := range buckets {
		if counts[i] == 0 {
			continue
		}
		bar := strings.Repeat("█", 50*counts[i]/len(scores))
		fmt.Printf("   %-17s %5d  %s\n", b.label, counts[i], bar)
	}
}
