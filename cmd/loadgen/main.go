// Load generator for exercising Harrier with synthetic telecom traffic.
//
// Usage:
//   go run cmd/loadgen/main.go -url http://localhost:8080 -count 10000
//
// This tool:
//   1. Generates synthetic CDRs, SMS messages, and behavior samples,
//      injecting suspicious traffic at a configurable rate
//   2. Sends each event to Harrier for scoring
//   3. Compares Harrier's verdict (threat created or not) with the
//      injected labels
//   4. Calculates precision, recall, and a severity breakdown
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// EventEnvelope mirrors the Harrier API request format.
type EventEnvelope struct {
	Kind     string          `json:"kind"`
	Call     *CallRecord     `json:"call,omitempty"`
	Message  *MessageRecord  `json:"message,omitempty"`
	Behavior *BehaviorSample `json:"behavior,omitempty"`
}

type CallRecord struct {
	ID              string    `json:"id"`
	FromAddr        string    `json:"fromAddr"`
	ToAddr          string    `json:"toAddr"`
	DurationSeconds int       `json:"durationSeconds"`
	Timestamp       time.Time `json:"timestamp"`
	Kind            string    `json:"kind"`
	Location        string    `json:"location,omitempty"`
}

type MessageRecord struct {
	ID        string    `json:"id"`
	FromAddr  string    `json:"fromAddr"`
	ToAddr    string    `json:"toAddr"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
}

type BehaviorSample struct {
	SubjectID string    `json:"subjectId"`
	Timestamp time.Time `json:"timestamp"`
}

// Outcome mirrors the Harrier API response format.
type Outcome struct {
	EventID string  `json:"eventId"`
	Score   float64 `json:"score"`
	Threat  *struct {
		ID       string `json:"id"`
		Severity string `json:"severity"`
		Status   string `json:"status"`
	} `json:"threat,omitempty"`
	Action *struct {
		Type string `json:"actionType"`
	} `json:"action,omitempty"`
}

// labeledEvent pairs an envelope with its injected ground truth.
type labeledEvent struct {
	envelope   EventEnvelope
	suspicious bool
}

// Metrics tracks load generation results.
type Metrics struct {
	TruePositives  int64 // Suspicious traffic that produced a threat
	FalsePositives int64 // Benign traffic that produced a threat
	TrueNegatives  int64 // Benign traffic dropped below threshold
	FalseNegatives int64 // Suspicious traffic that scored clean

	TotalProcessed int64
	TotalErrors    int64

	CriticalThreats int64
	HighThreats     int64
	MediumThreats   int64
	BlockedThreats  int64
	AutoActions     int64

	ProcessingTimeMs int64
}

// phishingBodies are synthetic payloads the fallback heuristic should flag.
var phishingBodies = []string{
	"URGENT: your account has been suspended, verify now at http://sms-restore.example",
	"Your bank detected unusual activity. Click here to confirm your password immediately",
	"Final notice: verify your account within 24 hours or lose access. Act now",
}

// benignBodies are ordinary traffic.
var benignBodies = []string{
	"Running late, be there in 10",
	"Happy birthday! Hope you have a great day",
	"Can you pick up milk on the way home?",
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Harrier base URL")
	tenantID := flag.String("tenant", "loadgen-test", "Tenant ID for requests")
	count := flag.Int("count", 1000, "Number of events to send")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	suspiciousRate := flag.Float64("suspicious", 0.2, "Fraction of suspicious traffic (0.0-1.0)")
	seed := flag.Int64("seed", 0, "Random seed (0 = time-based)")
	verbose := flag.Bool("verbose", false, "Print each event result")
	flag.Parse()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(*seed))

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          HARRIER LOADGEN - Synthetic Telecom Traffic          ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nHarrier URL:     %s\n", *baseURL)
	fmt.Printf("Tenant ID:       %s\n", *tenantID)
	fmt.Printf("Events:          %d\n", *count)
	fmt.Printf("Workers:         %d\n", *workers)
	fmt.Printf("Suspicious Rate: %.2f\n", *suspiciousRate)
	fmt.Printf("Seed:            %d\n", *seed)
	fmt.Println()

	// Check Harrier is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Harrier not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Harrier is running:")
		fmt.Println("  go run cmd/harrier/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Harrier is healthy")

	// Generate synthetic traffic
	events := generateEvents(rng, *count, *suspiciousRate)
	suspicious := 0
	for _, ev := range events {
		if ev.suspicious {
			suspicious++
		}
	}
	fmt.Printf("✓ Generated %d events (%d suspicious, %d benign)\n",
		len(events), suspicious, len(events)-suspicious)

	// Run load
	fmt.Printf("\nSending traffic with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runLoad(events, *baseURL, *tenantID, *workers, *verbose)
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

func generateEvents(rng *rand.Rand, count int, suspiciousRate float64) []labeledEvent {
	events := make([]labeledEvent, 0, count)
	now := time.Now().UTC()

	for i := 0; i < count; i++ {
		suspicious := rng.Float64() < suspiciousRate
		from := fmt.Sprintf("+1555%07d", rng.Intn(10000000))
		to := fmt.Sprintf("+1555%07d", rng.Intn(10000000))

		var env EventEnvelope
		switch rng.Intn(2) {
		case 0: // SMS
			body := benignBodies[rng.Intn(len(benignBodies))]
			if suspicious {
				body = phishingBodies[rng.Intn(len(phishingBodies))]
			}
			env = EventEnvelope{
				Kind: "message",
				Message: &MessageRecord{
					ID:        fmt.Sprintf("msg-%d", i),
					FromAddr:  from,
					ToAddr:    to,
					Body:      body,
					Timestamp: now,
					Kind:      "text",
				},
			}
		default: // Voice call
			// Normal calls run 30s-10min; suspicious ones are flash
			// calls or marathon calls.
			duration := 30 + rng.Intn(570)
			if suspicious {
				if rng.Intn(2) == 0 {
					duration = 1 + rng.Intn(4)
				} else {
					duration = 3700 + rng.Intn(4000)
				}
			}
			env = EventEnvelope{
				Kind: "call",
				Call: &CallRecord{
					ID:              fmt.Sprintf("call-%d", i),
					FromAddr:        from,
					ToAddr:          to,
					DurationSeconds: duration,
					Timestamp:       now,
					Kind:            "voice",
					Location:        fmt.Sprintf("cell-%03d", rng.Intn(100)),
				},
			}
		}

		events = append(events, labeledEvent{envelope: env, suspicious: suspicious})
	}

	return events
}

func runLoad(events []labeledEvent, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan labeledEvent, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for ev := range work {
				start := time.Now()
				result, err := sendEvent(client, baseURL, tenantID, ev.envelope)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %v\n", err)
					}
					continue
				}

				predicted := result.Threat != nil
				actual := ev.suspicious

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else {
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if result.Threat != nil {
					switch result.Threat.Severity {
					case "critical":
						atomic.AddInt64(&metrics.CriticalThreats, 1)
					case "high":
						atomic.AddInt64(&metrics.HighThreats, 1)
					case "medium":
						atomic.AddInt64(&metrics.MediumThreats, 1)
					}
					if result.Threat.Status == "blocked" {
						atomic.AddInt64(&metrics.BlockedThreats, 1)
					}
				}
				if result.Action != nil {
					atomic.AddInt64(&metrics.AutoActions, 1)
				}

				if verbose {
					status := "✓"
					if (predicted && !actual) || (!predicted && actual) {
						status = "✗"
					}
					severity := "-"
					if result.Threat != nil {
						severity = result.Threat.Severity
					}
					fmt.Printf("%s %-10s | Score: %5.2f | Suspicious: %-5v | Severity: %s\n",
						status, result.EventID, result.Score, actual, severity)
				}
			}
		}()
	}

	for _, ev := range events {
		work <- ev
	}
	close(work)

	wg.Wait()

	return metrics
}

func sendEvent(client *http.Client, baseURL, tenantID string, env EventEnvelope) (*Outcome, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/events", bytes.NewReader(body))
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

	var result Outcome
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                       LOADGEN RESULTS                         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 TRAFFIC STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                      Predicted")
	fmt.Println("                  THREAT      CLEAN")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  S  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           B  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of threats, how many were injected)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of injected, how many were caught)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)

	fmt.Printf("\n🚨 THREAT BREAKDOWN\n")
	fmt.Printf("   Critical:       %d\n", m.CriticalThreats)
	fmt.Printf("   High:           %d\n", m.HighThreats)
	fmt.Printf("   Medium:         %d\n", m.MediumThreats)
	fmt.Printf("   Auto-Blocked:   %d\n", m.BlockedThreats)
	fmt.Printf("   Auto Actions:   %d\n", m.AutoActions)

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		eps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f events/sec\n", eps)
	}

	fmt.Println()
}
