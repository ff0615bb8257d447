package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"chatpipe/pkg/confkit"
	"chatpipe/pkg/modelid"
	pipelinepkg "chatpipe/pkg/pipeline"
)

func fatalf(format string, args ...interface{}) {
	logx.Errorf(format, args...)
	os.Exit(1)
}

func main() {
	var (
		parseID      = flag.String("parse", "", "model identifier to parse and print")
		listModels   = flag.Bool("models", false, "print the provider/model catalog")
		providerName = flag.String("provider", "", "restrict -models output to one provider")
		validate     = flag.Bool("validate", false, "validate a pipeline config file")
		pipelinePath = flag.String("pipeline-config", "etc/pipeline.yaml", "path to pipeline configuration")
	)
	flag.Parse()
	logx.MustSetup(logx.LogConf{})
	logx.DisableStat()

	confkit.LoadDotenvOnce()

	switch {
	case *parseID != "":
		runParse(*parseID)
	case *listModels:
		runModels(*providerName)
	case *validate:
		runValidate(*pipelinePath)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

// runParse prints the decomposed identifier and its canonical wire form.
func runParse(raw string) {
	parsed, err := modelid.Parse(strings.TrimSpace(raw))
	if err != nil {
		fatalf("parse %q: %v", raw, err)
	}

	fmt.Printf("provider:  %s\n", parsed.Provider)
	fmt.Printf("name:      %s\n", parsed.Name)
	if parsed.Version != "" {
		fmt.Printf("version:   %s\n", parsed.Version)
	}
	if parsed.URL != "" {
		fmt.Printf("url:       %s\n", parsed.URL)
	}
	if parsed.Prefix != "" {
		fmt.Printf("prefix:    %s\n", parsed.Prefix)
	}
	fmt.Printf("canonical: %s\n", parsed.String())
}

// runModels prints the recognised models per provider. Self-hosted
// providers take endpoint URLs instead of catalog names.
func runModels(only string) {
	only = strings.TrimSpace(only)
	for _, p := range modelid.Providers() {
		if only != "" && string(p) != only {
			continue
		}
		if p.SelfHosted() {
			fmt.Printf("%s (self-hosted, identified by endpoint URL)\n", p)
			continue
		}
		if v := modelid.DefaultVersion(p); v != "" {
			fmt.Printf("%s (default version %s)\n", p, v)
		} else {
			fmt.Printf("%s\n", p)
		}
		for _, name := range modelid.ModelsFor(p) {
			fmt.Printf("  %s\n", name)
		}
	}
}

// runValidate loads a pipeline config file strictly and prints one line per
// enabled chatbot with its model keys and config digest.
func runValidate(path string) {
	cfg, err := pipelinepkg.LoadConfig(path)
	if err != nil {
		fatalf("load pipeline config: %v", err)
	}
	source, err := pipelinepkg.NewFileSource(cfg, nil)
	if err != nil {
		fatalf("build file source: %v", err)
	}

	ids := source.ChatbotIDs()
	fmt.Printf("%s: OK (%d chatbots, %d disabled)\n", path, len(ids), len(cfg.Chatbots)-len(ids))
	for _, id := range ids {
		c, err := source.Config(context.Background(), id)
		if err != nil {
			fatalf("config %s: %v", id, err)
		}
		digest, err := pipelinepkg.ConfigDigest(c)
		if err != nil {
			fatalf("digest %s: %v", id, err)
		}
		models := make([]string, 0, len(c.SupportedModels))
		for _, m := range c.SupportedModels {
			models = append(models, m.Key())
		}
		fmt.Printf("  %s  type=%s models=[%s] digest=%s\n", id, c.PipelineType, strings.Join(models, ", "), digest[:12])
	}
}
