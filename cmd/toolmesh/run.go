package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolmesh/callbacks"
	"github.com/effective-security/toolmesh/orchestrator"
	"github.com/effective-security/toolmesh/pkg/llmfactory"
	"github.com/effective-security/toolmesh/pkg/llms"
	"github.com/effective-security/toolmesh/registry"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// newModel returns the model of the configuration, by name if set.
var newModel = func(cfg *llmfactory.Config, name string) (llms.Model, error) {
	f := llmfactory.New(cfg)
	if name != "" {
		return f.ModelByName(name)
	}
	return f.DefaultModel()
}

// registryOptions are appended to the options of the run and tools registries.
var registryOptions []registry.Option

type runFlags struct {
	model         string
	system        string
	maxIterations int
	transcript    string
	format        string
}

func newRunCmd(a *app) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run the prompt through the model and the configured tool providers",
		Long:  "Run the prompt through the model and the configured tool providers.\nThe prompt is read from stdin when omitted or \"-\".",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, f, args)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&f.model, "model", "m", "", "model name, the default model of the default LLM provider if not set")
	flags.StringVar(&f.system, "system", "", "system prompt, overrides the configuration")
	flags.IntVar(&f.maxIterations, "max-iterations", 0, "maximum number of rounds")
	flags.StringVar(&f.transcript, "transcript", "", "file to write the run transcript to")
	flags.StringVarP(&f.format, "output", "o", "text", "output format: text, json or yaml")
	return cmd
}

func (a *app) run(cmd *cobra.Command, f *runFlags, args []string) error {
	ctx := cmd.Context()

	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" || prompt == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return errors.Wrap(err, "failed to read prompt")
		}
		prompt = strings.TrimSpace(string(b))
	}
	if prompt == "" {
		return errors.New("prompt is required")
	}

	switch f.format {
	case "text", "json", "yaml":
	default:
		return errors.Errorf("unsupported output format: %s", f.format)
	}

	model, err := newModel(a.cfg.LLM, values.StringsCoalesce(f.model, a.cfg.Orchestrator.Model))
	if err != nil {
		return errors.WithMessage(err, "failed to create model")
	}

	reg := startProviders(ctx, a.cfg, registryOptions...)
	defer func() {
		if err := reg.Close(); err != nil {
			logger.KV(xlog.ERROR, "reason", "close", "err", err.Error())
		}
	}()

	mode := callbacks.ModeDefault
	if a.verbose {
		mode = callbacks.ModeVerbose
	}
	pad := callbacks.NewScratchpad(mode)
	fanout := callbacks.NewFanout(pad, callbacks.NewPackageLogger(logger))
	if a.verbose {
		fanout.Add(callbacks.NewPrinter(cmd.ErrOrStderr(), mode))
	}

	opts := append(a.cfg.Options(), orchestrator.WithCallback(fanout))
	if f.maxIterations > 0 {
		opts = append(opts, orchestrator.WithMaxIterations(f.maxIterations))
	}

	ctx = pad.StartRun(ctx)
	res, err := orchestrator.New(model, reg, opts...).Execute(ctx, &orchestrator.Request{
		Prompt:       prompt,
		SystemPrompt: values.StringsCoalesce(f.system, a.cfg.Orchestrator.SystemPrompt),
	})
	stats, transcript := pad.EndRun(ctx)
	if f.transcript != "" {
		if werr := os.WriteFile(f.transcript, transcript, 0o600); werr != nil {
			logger.KV(xlog.ERROR, "reason", "transcript", "file", f.transcript, "err", werr.Error())
		}
	}
	if stats != nil {
		logger.ContextKV(ctx, xlog.INFO,
			"status", "run_stats",
			"run_id", stats.RunID,
			"duration", stats.Duration.String(),
			"llm_calls", stats.LLMCalls,
			"tool_calls", stats.ToolCalls,
			"tool_calls_failed", stats.ToolCallsFailed,
		)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch f.format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return errors.WithStack(enc.Encode(res))
	case "yaml":
		b, err := yaml.Marshal(res)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = out.Write(b)
		return errors.WithStack(err)
	}

	fmt.Fprintln(out, res.FinalAnswer)
	if res.HitIterationLimit {
		fmt.Fprintf(cmd.ErrOrStderr(), "stopped after %d iterations\n", res.IterationsUsed)
	}
	return nil
}
