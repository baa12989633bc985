package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/phalt/clientele-sub001/cache"
	"github.com/spf13/cobra"
)

// parseParams turns name=value arguments into call arguments. Values are
// read as JSON when they parse as JSON, so 25, true and {"a":1} keep their
// types; anything else is a plain string.
func parseParams(args []string) (map[string]any, error) {
	params := make(map[string]any, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected name=value", arg)
		}
		params[name] = parseValue(raw)
	}
	return params, nil
}

func parseValue(raw string) any {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return raw
	}
	return v
}

// signatureFor declares one required parameter per given name.
func signatureFor(name string, params map[string]any) cache.Signature {
	sig := cache.NewSignature(name)
	for p := range params {
		sig.Params = append(sig.Params, cache.Required(p))
	}
	return sig
}

func keyCmd() *cobra.Command {
	var (
		method string
		path   string
		name   string
	)
	cmd := &cobra.Command{
		Use:   "key [name=value...]",
		Short: "Print the cache key a memoized call would use",
		Example: `  clientele key --method GET --path '/pokemon/{id}' id=25
  clientele key --name compute x=3 scale=2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(args)
			if err != nil {
				return err
			}
			if path == "" && name == "" {
				return fmt.Errorf("one of --path or --name is required")
			}
			key := cache.GenerateCacheKey(signatureFor(name, params), nil, params, path)
			if path != "" && method != "" {
				key = strings.ToUpper(method) + ":" + key
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	cmd.Flags().StringVar(&method, "method", "GET", "HTTP method of the operation")
	cmd.Flags().StringVar(&path, "path", "", "path template of the operation, e.g. /pokemon/{id}")
	cmd.Flags().StringVar(&name, "name", "", "operation name, used when there is no path template")
	return cmd
}
