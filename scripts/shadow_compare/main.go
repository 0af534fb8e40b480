// Command shadow_compare diffs API responses between two presence-api
// instances, typically the current deployment and a candidate build.
// Run both with ENABLE_DEMO=true and the same DEMO_SEED_DATE so the
// fixture dataset is identical on each side and bodies are directly
// comparable. Protected routes need a bearer token via -token.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"reflect"
	"strings"
	"time"
)

type target struct {
	Method   string `json:"method"`
	Path     string `json:"path"`
	Critical bool   `json:"critical"`
}

type config struct {
	Targets []target `json:"targets"`
}

type comparison struct {
	Target            target
	CurrentStatus     int
	CandidateStatus   int
	StatusMatch       bool
	BodyMatch         bool
	Error             error
	DurationCandidate time.Duration
	DurationCurrent   time.Duration
}

// Keys whose values differ between instances even on identical data.
var volatileKeys = map[string]bool{
	"generated_at": true,
	"applied_at":   true,
}

func main() {
	var (
		candidateBase string
		currentBase   string
		targetsPath   string
		token         string
		timeout       time.Duration
	)

	flag.StringVar(&candidateBase, "candidate-base", "http://localhost:8080", "Candidate build base URL")
	flag.StringVar(&currentBase, "current-base", "http://localhost:8081", "Current deployment base URL")
	flag.StringVar(&targetsPath, "targets", "", "Path to JSON targets file (defaults to a built-in read-only set)")
	flag.StringVar(&token, "token", "", "Bearer token for protected routes")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "HTTP client timeout")
	flag.Parse()

	targets, err := loadTargets(targetsPath)
	if err != nil {
		log.Fatalf("failed to load targets: %v", err)
	}

	client := &http.Client{Timeout: timeout}
	var (
		comparisons  []comparison
		breaking     int
		optionalDiff int
	)

	for _, t := range targets {
		comp := compareTarget(client, candidateBase, currentBase, token, t)
		if comp.Error != nil {
			if t.Critical {
				breaking++
			}
		} else {
			if !comp.StatusMatch || !comp.BodyMatch {
				if t.Critical {
					breaking++
				} else {
					optionalDiff++
				}
			}
		}
		comparisons = append(comparisons, comp)
	}

	printReport(comparisons)

	fmt.Printf("Breaking diffs: %d, Optional diffs: %d\n", breaking, optionalDiff)
	if breaking > 0 {
		os.Exit(1)
	}
}

func loadTargets(path string) ([]target, error) {
	if path == "" {
		return defaultTargets(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Targets) == 0 {
		return nil, fmt.Errorf("no targets defined in %s", path)
	}
	return cfg.Targets, nil
}

// defaultTargets covers the read-only surface that demo mode can answer
// deterministically.
func defaultTargets() []target {
	return []target{
		{Method: http.MethodGet, Path: "/health", Critical: true},
		{Method: http.MethodGet, Path: "/api/v1/levels", Critical: false},
		{Method: http.MethodGet, Path: "/api/v1/modules", Critical: false},
		{Method: http.MethodGet, Path: "/api/v1/students", Critical: false},
		{Method: http.MethodGet, Path: "/api/v1/enrollments", Critical: false},
		{Method: http.MethodGet, Path: "/api/v1/sessions", Critical: true},
		{Method: http.MethodGet, Path: "/api/v1/exclusions/rules", Critical: true},
		{Method: http.MethodGet, Path: "/api/v1/exclusions/overview", Critical: true},
		{Method: http.MethodGet, Path: "/api/v1/exclusions/excluded", Critical: true},
		{Method: http.MethodGet, Path: "/api/v1/exclusions/near", Critical: true},
		{Method: http.MethodGet, Path: "/api/v1/exclusions/overview?preset=week", Critical: false},
	}
}

func compareTarget(client *http.Client, candidateBase, currentBase, token string, tgt target) comparison {
	comp := comparison{Target: tgt}
	candidateResp, candidateDur, candidateErr := performRequest(client, candidateBase, token, tgt)
	currentResp, currentDur, currentErr := performRequest(client, currentBase, token, tgt)
	comp.DurationCandidate = candidateDur
	comp.DurationCurrent = currentDur

	if candidateErr != nil {
		comp.Error = fmt.Errorf("candidate request failed: %w", candidateErr)
		return comp
	}
	if currentErr != nil {
		comp.Error = fmt.Errorf("current request failed: %w", currentErr)
		return comp
	}

	comp.CandidateStatus = candidateResp.StatusCode
	comp.CurrentStatus = currentResp.StatusCode
	comp.StatusMatch = comp.CandidateStatus == comp.CurrentStatus

	defer candidateResp.Body.Close()
	defer currentResp.Body.Close()

	candidateBody, err := io.ReadAll(candidateResp.Body)
	if err != nil {
		comp.Error = fmt.Errorf("read candidate body: %w", err)
		return comp
	}
	currentBody, err := io.ReadAll(currentResp.Body)
	if err != nil {
		comp.Error = fmt.Errorf("read current body: %w", err)
		return comp
	}

	comp.BodyMatch = bodiesEqual(candidateBody, currentBody)

	return comp
}

func performRequest(client *http.Client, base, token string, tgt target) (*http.Response, time.Duration, error) {
	if client == nil {
		return nil, 0, errors.New("nil client")
	}
	method := strings.ToUpper(strings.TrimSpace(tgt.Method))
	if method == "" {
		method = http.MethodGet
	}
	path := tgt.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	url := strings.TrimRight(base, "/") + path

	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return nil, 0, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	return resp, time.Since(start), nil
}

func bodiesEqual(a, b []byte) bool {
	if bytes.Equal(bytes.TrimSpace(a), bytes.TrimSpace(b)) {
		return true
	}

	var aj, bj interface{}
	if err := json.Unmarshal(a, &aj); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bj); err != nil {
		return false
	}
	normalize(&aj)
	normalize(&bj)
	return reflect.DeepEqual(aj, bj)
}

func normalize(v *interface{}) {
	switch val := (*v).(type) {
	case map[string]interface{}:
		for k := range val {
			if volatileKeys[k] {
				delete(val, k)
			}
		}
		for k, v2 := range val {
			normalize(&v2)
			val[k] = v2
		}
	case []interface{}:
		for i, v2 := range val {
			normalize(&v2)
			val[i] = v2
		}
	case float64:
		if val == float64(int64(val)) {
			*v = int64(val)
		}
	}
}

func printReport(results []comparison) {
	fmt.Println("Shadow Compare Report")
	fmt.Println("======================")
	for _, res := range results {
		status := "OK"
		if res.Error != nil {
			status = "ERROR"
		} else if !res.StatusMatch || !res.BodyMatch {
			status = "DIFF"
		}
		fmt.Printf("[%s] %s %s\n", status, res.Target.Method, res.Target.Path)
		fmt.Printf("  Candidate: %d (%s)\n", res.CandidateStatus, res.DurationCandidate)
		fmt.Printf("  Current: %d (%s)\n", res.CurrentStatus, res.DurationCurrent)
		if res.Error != nil {
			fmt.Printf("  Error: %v\n", res.Error)
		} else {
			fmt.Printf("  Status match: %t | Body match: %t | Critical: %t\n", res.StatusMatch, res.BodyMatch, res.Target.Critical)
		}
	}
}
