package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"chatpipe/internal/config"
	"chatpipe/pkg/modelid"
)

func queryModels(base, key string) (int, []string, error) {
	req, _ := http.NewRequest(http.MethodGet, strings.TrimRight(base, "/")+"/models", nil)
	req.Header.Set("Authorization", "Bearer "+key)
	c := &http.Client{Timeout: 10 * time.Second}
	resp, err := c.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	var out struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return resp.StatusCode, nil, fmt.Errorf("decode response: %w (raw: %.200s)", err, string(b))
	}
	ids := make([]string, 0, len(out.Data))
	for _, m := range out.Data {
		ids = append(ids, m.ID)
	}
	return resp.StatusCode, ids, nil
}

func main() {
	providerName := flag.String("provider", "openai", "provider to probe")
	envName := flag.String("env", "", "environment variable holding the API key (default <PROVIDER>_API_KEY)")
	flag.Parse()

	// Ensure the default invoker config (and .env) is loaded before reading env vars.
	cfg := config.MustLoadInvoker()

	provider := modelid.Provider(strings.TrimSpace(*providerName))
	if !provider.Valid() {
		fmt.Printf("unknown provider %q\n", *providerName)
		os.Exit(1)
	}
	if provider.SelfHosted() {
		fmt.Printf("%s is self-hosted; probe its endpoint URL directly\n", provider)
		os.Exit(1)
	}

	keyEnv := *envName
	if keyEnv == "" {
		keyEnv = strings.ToUpper(strings.ReplaceAll(string(provider), "-", "_")) + "_API_KEY"
	}
	key := os.Getenv(keyEnv)
	if key == "" {
		fmt.Printf("%s not set in env/.env\n", keyEnv)
		os.Exit(1)
	}

	base, ok := cfg.BaseURLFor(provider)
	if !ok || base == "" {
		if provider == modelid.ProviderOpenAI {
			base = "https://api.openai.com/v1"
		} else {
			fmt.Printf("no base url known for provider %s; set base_urls in etc/invoker.yaml\n", provider)
			os.Exit(1)
		}
	}

	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Printf("Provider: %s\n", provider)
	fmt.Printf("Endpoint: %s\n", base)
	fmt.Printf("API key:  %s (%d chars)\n", keyEnv, len(key))
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println()

	status, ids, err := queryModels(base, key)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Status: %d\n", status)
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		fmt.Println("The key was rejected. Check that it belongs to this provider and")
		fmt.Println("has not expired.")
		os.Exit(1)
	}
	fmt.Printf("Models advertised: %d\n", len(ids))

	known := make(map[string]struct{})
	for _, name := range modelid.ModelsFor(provider) {
		known[name] = struct{}{}
	}
	for _, id := range ids {
		marker := " "
		if _, ok := known[id]; ok {
			marker = "*"
		}
		fmt.Printf("  %s %s\n", marker, id)
	}
	fmt.Println()
	fmt.Println("* = recognised by the model identifier catalog")
}
