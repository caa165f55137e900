// Benchmark tool for measuring tierprice pricing latency.
//
// Usage:
//
//	go run cmd/benchmark/main.go -csv /path/to/requests.csv -url http://localhost:8080
//
// This tool:
//  1. Reads pricing requests from a CSV (customer_id,product_id,quantity,base_price)
//  2. Sends each request to POST /prices
//  3. Reports latency percentiles, calls over the latency budget, and savings granted
//
// Without -csv it replays the sample customers and products from the seed fixtures.
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
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/tierprice/internal/domain"
	"github.com/shopspring/decimal"
)

// PriceRequest is the tierprice API request format
type PriceRequest struct {
	CustomerID string          `json:"customerId"`
	ProductID  string          `json:"productId"`
	Quantity   int             `json:"quantity"`
	BasePrice  decimal.Decimal `json:"basePrice"`
	Strategy   string          `json:"strategy,omitempty"`
}

// Results tracks benchmark results
type Results struct {
	TotalProcessed int64
	TotalErrors    int64
	Discounted     int64
	OverBudget     int64

	mu           sync.Mutex
	latencies    []time.Duration
	totalSavings decimal.Decimal
}

func (r *Results) record(elapsed time.Duration, result *domain.PriceCalculationResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latencies = append(r.latencies, elapsed)
	r.totalSavings = r.totalSavings.Add(result.TotalSavings)
}

var sampleRequests = []PriceRequest{
	{CustomerID: "cust-gold", ProductID: "prod-drill", Quantity: 2, BasePrice: decimal.NewFromInt(50)},
	{CustomerID: "cust-gold", ProductID: "prod-drill", Quantity: 10, BasePrice: decimal.NewFromInt(50)},
	{CustomerID: "cust-silver", ProductID: "prod-drill", Quantity: 1, BasePrice: decimal.NewFromInt(50)},
	{CustomerID: "cust-silver", ProductID: "prod-saw", Quantity: 5, BasePrice: decimal.NewFromInt(80)},
	{CustomerID: "cust-none", ProductID: "prod-drill", Quantity: 3, BasePrice: decimal.NewFromInt(50)},
}

func main() {
	csvPath := flag.String("csv", "", "Path to pricing request CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "tierprice base URL")
	limit := flag.Int("limit", 10000, "Maximum requests to send (0 = all)")
	repeat := flag.Int("repeat", 200, "Times to replay the sample requests when no CSV is given")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	strategy := flag.String("strategy", "", "Selection strategy to request")
	budget := flag.Duration("budget", 200*time.Millisecond, "Latency budget per request")
	verbose := flag.Bool("verbose", false, "Print each request result")
	flag.Parse()

	fmt.Println("+---------------------------------------------------------------+")
	fmt.Println("|              TIERPRICE BENCHMARK - Pricing Latency            |")
	fmt.Println("+---------------------------------------------------------------+")
	fmt.Printf("\nTierprice URL: %s\n", *baseURL)
	fmt.Printf("Workers:       %d\n", *workers)
	fmt.Printf("Budget:        %v\n", *budget)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: tierprice not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure tierprice is running:")
		fmt.Println("  go run cmd/seed/main.go && go run cmd/tierprice/main.go")
		os.Exit(1)
	}
	fmt.Println("tierprice is healthy")

	var requests []PriceRequest
	if *csvPath != "" {
		var err error
		requests, err = readRequestsCSV(*csvPath, *limit)
		if err != nil {
			fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
			os.Exit(1)
		}
	} else {
		for i := 0; i < *repeat; i++ {
			requests = append(requests, sampleRequests...)
		}
	}
	for i := range requests {
		requests[i].Strategy = *strategy
	}
	fmt.Printf("Loaded %d requests\n", len(requests))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	results := runBenchmark(requests, *baseURL, *workers, *budget, *verbose)
	duration := time.Since(startTime)

	printResults(results, duration, *budget)
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

func readRequestsCSV(path string, limit int) ([]PriceRequest, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range []string{"customer_id", "product_id", "quantity", "base_price"} {
		if _, ok := colIndex[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	var requests []PriceRequest
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		quantity, err := strconv.Atoi(record[colIndex["quantity"]])
		if err != nil {
			continue
		}
		basePrice, err := decimal.NewFromString(record[colIndex["base_price"]])
		if err != nil {
			continue
		}

		requests = append(requests, PriceRequest{
			CustomerID: record[colIndex["customer_id"]],
			ProductID:  record[colIndex["product_id"]],
			Quantity:   quantity,
			BasePrice:  basePrice,
		})

		if limit > 0 && len(requests) >= limit {
			break
		}
	}

	return requests, nil
}

func runBenchmark(requests []PriceRequest, baseURL string, numWorkers int, budget time.Duration, verbose bool) *Results {
	results := &Results{}

	work := make(chan PriceRequest, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for req := range work {
				start := time.Now()
				result, err := priceRequest(client, baseURL, req)
				elapsed := time.Since(start)

				atomic.AddInt64(&results.TotalProcessed, 1)
				if elapsed > budget {
					atomic.AddInt64(&results.OverBudget, 1)
				}

				if err != nil {
					atomic.AddInt64(&results.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s/%s -> %v\n", req.CustomerID, req.ProductID, err)
					}
					continue
				}

				results.record(elapsed, result)
				if result.DiscountApplied {
					atomic.AddInt64(&results.Discounted, 1)
				}

				if verbose {
					rule := "-"
					if result.BestDiscount != nil {
						rule = result.BestDiscount.RuleName
					}
					fmt.Printf("%-12s | %-12s | Qty: %4d | Base: $%10s | Final: $%10s | Rule: %-24s | %v\n",
						req.CustomerID,
						req.ProductID,
						result.Quantity,
						result.BaseTotalPrice.StringFixed(2),
						result.FinalPrice.StringFixed(2),
						rule,
						elapsed.Round(time.Microsecond),
					)
				}
			}
		}()
	}

	for _, req := range requests {
		work <- req
	}
	close(work)

	wg.Wait()

	return results
}

func priceRequest(client *http.Client, baseURL string, req PriceRequest) (*domain.PriceCalculationResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/prices", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result domain.PriceCalculationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func printResults(r *Results, duration, budget time.Duration) {
	fmt.Println("\n+---------------------------------------------------------------+")
	fmt.Println("|                       BENCHMARK RESULTS                       |")
	fmt.Println("+---------------------------------------------------------------+")

	fmt.Printf("\nREQUESTS\n")
	fmt.Printf("   Total Processed:  %d\n", r.TotalProcessed)
	fmt.Printf("   Discounted:       %d\n", r.Discounted)
	fmt.Printf("   Errors:           %d\n", r.TotalErrors)
	fmt.Printf("   Total Savings:    $%s\n", r.totalSavings.StringFixed(2))

	slices.Sort(r.latencies)

	fmt.Printf("\nLATENCY\n")
	fmt.Printf("   p50:              %v\n", percentile(r.latencies, 0.50).Round(time.Microsecond))
	fmt.Printf("   p95:              %v\n", percentile(r.latencies, 0.95).Round(time.Microsecond))
	fmt.Printf("   p99:              %v\n", percentile(r.latencies, 0.99).Round(time.Microsecond))
	if n := len(r.latencies); n > 0 {
		fmt.Printf("   max:              %v\n", r.latencies[n-1].Round(time.Microsecond))
	}
	fmt.Printf("   Over %v:     %d\n", budget, r.OverBudget)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if r.TotalProcessed > 0 {
		fmt.Printf("   Throughput:       %.2f req/sec\n", float64(r.TotalProcessed)/duration.Seconds())
	}

	fmt.Println()
	if r.OverBudget == 0 {
		fmt.Println("   All requests finished within budget")
	} else {
		fmt.Printf("   %.2f%% of requests exceeded the budget\n", 100*float64(r.OverBudget)/float64(r.TotalProcessed))
	}
	fmt.Println()
}
