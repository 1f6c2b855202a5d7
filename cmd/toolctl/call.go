package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"toolmesh/internal/app"
)

type callArgs struct {
	conversation string
	argsJSON     string
	pairs        []string
}

func newCallCmd(opts *cliOptions) *cobra.Command {
	args := &callArgs{}
	cmd := &cobra.Command{
		Use:   "call <endpoint> <tool>",
		Short: "Invoke one operation on behalf of a conversation",
		Example: `  toolctl call chart generate_chart --conversation conv-1 \
    --args '{"chart_type":"bar","data":{"categories":["a","b"],"values":[1,2]}}'
  toolctl call pdf list_generated_pdfs --conversation conv-1 --arg limit=5`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, positional []string) error {
			arguments, err := args.arguments()
			if err != nil {
				return err
			}
			hub, cleanup, err := opts.newHub(app.HubOptions{})
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := opts.timeoutContext(cmd.Context())
			defer cancel()

			result, err := hub.Call(ctx, args.conversation, positional[0], positional[1], arguments)
			if err != nil {
				return err
			}
			return printResult(opts.output, result)
		},
	}
	cmd.Flags().StringVarP(&args.conversation, "conversation", "c", "", "conversation identity sent as X-Conversation-ID")
	cmd.Flags().StringVar(&args.argsJSON, "args", "", "arguments as a JSON object")
	cmd.Flags().StringArrayVar(&args.pairs, "arg", nil, "argument as key=value; the value is parsed as JSON when possible (repeatable)")
	return cmd
}

func (a *callArgs) arguments() (map[string]any, error) {
	out := map[string]any{}
	if strings.TrimSpace(a.argsJSON) != "" {
		if err := json.Unmarshal([]byte(a.argsJSON), &out); err != nil {
			return nil, fmt.Errorf("--args must be a JSON object: %w", err)
		}
		if out == nil {
			out = map[string]any{}
		}
	}
	for _, pair := range a.pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("--arg %q must be key=value", pair)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		out[key] = value
	}
	return out, nil
}

// printResult prints a call result. Text results that hold JSON are decoded
// so structured formats nest them instead of quoting.
func printResult(format string, result any) error {
	if text, ok := result.(string); ok {
		var decoded any
		if err := json.Unmarshal([]byte(text), &decoded); err == nil {
			result = decoded
		} else if format == outputText {
			_, err := fmt.Fprintln(stdout, text)
			return err
		}
	}
	switch format {
	case outputText:
		return writeStructured(stdout, outputJSON, result)
	case outputTOML:
		if _, ok := result.(map[string]any); !ok {
			result = map[string]any{"result": result}
		}
	}
	return writeStructured(stdout, format, result)
}
