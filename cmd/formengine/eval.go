package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/formengine/internal/condition"
	"github.com/pitabwire/formengine/internal/definition"
	"github.com/pitabwire/formengine/internal/logic"
	"github.com/pitabwire/formengine/internal/session"
	"github.com/pitabwire/formengine/internal/structure"
	"github.com/pitabwire/formengine/model"
)

// readDefinitionFiles parses every definition file under the given file or
// directory paths.
func readDefinitionFiles(paths []string) ([]model.DefinitionFile, error) {
	loader := definition.NewLoader()
	var files []model.DefinitionFile
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			loaded, err := loader.LoadAll([]string{p})
			if err != nil {
				return nil, err
			}
			files = append(files, loaded...)
			continue
		}
		f, err := loader.LoadFile(p)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// loadDefinitions reads definition files from a file or directory path and
// validates them. Rule errors are reported on stderr but do not fail.
func loadDefinitions(cmd *cobra.Command, paths ...string) (*definition.Registry, error) {
	files, err := readDefinitionFiles(paths)
	if err != nil {
		return nil, err
	}

	rep := definition.NewValidator().Validate(files)
	for _, ve := range rep.RuleErrors {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", ve.Error())
	}
	if !rep.OK() {
		return nil, fmt.Errorf("invalid definitions: %s (and %d more)", rep.Errors[0].Error(), len(rep.Errors)-1)
	}
	return definition.NewRegistry(files), nil
}

// readAnswers decodes a JSON object of answers from path. "-" reads stdin.
func readAnswers(cmd *cobra.Command, path string) (model.Answers, error) {
	if path == "" {
		return model.Answers{}, nil
	}
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	answers := model.Answers{}
	if err := json.NewDecoder(r).Decode(&answers); err != nil {
		return nil, fmt.Errorf("decoding answers: %w", err)
	}
	return answers, nil
}

type evalResult struct {
	FormID string             `json:"form_id"`
	Mode   string             `json:"mode"`
	Fields []logic.FieldState `json:"fields"`
	Pages  [][]string         `json:"pages"`
}

func evaluate(ctx context.Context, form model.FormDefinition, mode session.Mode, answers model.Answers) evalResult {
	logger := zap.NewNop()
	resolver := logic.NewResolver(form, condition.NewEvaluator(), logger)
	hidden := func(ctx context.Context, f model.FieldDefinition, answers model.Answers) bool {
		return !mode.ExposeHidden && resolver.IsHidden(ctx, f, answers)
	}
	pages := structure.NewBuilder(form.Checksum, hidden, logger).Build(ctx, form.Fields, answers)

	res := evalResult{
		FormID: form.ID,
		Mode:   mode.Name,
		Fields: resolver.States(ctx, answers, logic.Overrides{
			ExposeHidden:  mode.ExposeHidden,
			ForceDisabled: mode.ForceDisabled,
		}),
		Pages: make([][]string, 0, pages.Count()),
	}
	for i := 0; i < pages.Count(); i++ {
		ids := []string{}
		for _, f := range pages.Fields(i) {
			ids = append(ids, f.ID)
		}
		res.Pages = append(res.Pages, ids)
	}
	return res
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newEvalCmd() *cobra.Command {
	var modeName string
	cmd := &cobra.Command{
		Use:   "eval <definitions> <form-id> [answers.json]",
		Short: "Resolve field states and pages of a form for a set of answers",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := session.ParseMode(modeName)
			if err != nil {
				return err
			}
			registry, err := loadDefinitions(cmd, args[0])
			if err != nil {
				return err
			}
			form, ok := registry.GetForm(args[1])
			if !ok {
				return fmt.Errorf("form %q not found", args[1])
			}
			var answersPath string
			if len(args) == 3 {
				answersPath = args[2]
			}
			answers, err := readAnswers(cmd, answersPath)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), evaluate(cmd.Context(), form, mode, answers))
		},
	}
	cmd.Flags().StringVarP(&modeName, "mode", "m", "default", "session mode (default, preview, prefill, read_only, test)")
	return cmd
}

func newPagesCmd() *cobra.Command {
	var answersPath string
	cmd := &cobra.Command{
		Use:   "pages <definitions> <form-id>",
		Short: "Print the field ids of each visible page of a form",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := loadDefinitions(cmd, args[0])
			if err != nil {
				return err
			}
			form, ok := registry.GetForm(args[1])
			if !ok {
				return fmt.Errorf("form %q not found", args[1])
			}
			answers, err := readAnswers(cmd, answersPath)
			if err != nil {
				return err
			}
			res := evaluate(cmd.Context(), form, session.ModeDefault, answers)
			for i, ids := range res.Pages {
				fmt.Fprintf(cmd.OutOrStdout(), "page %d: %v\n", i+1, ids)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&answersPath, "answers", "a", "", "JSON file of answers, - for stdin")
	return cmd
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <path>...",
		Short: "Validate form definition files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := readDefinitionFiles(args)
			if err != nil {
				return err
			}

			rep := definition.NewValidator().Validate(files)
			out := cmd.OutOrStdout()
			for _, ve := range rep.Errors {
				fmt.Fprintf(out, "error   %s [%s] %s\n", ve.Path, ve.Code, ve.Message)
			}
			for _, ve := range rep.RuleErrors {
				fmt.Fprintf(out, "warning %s [%s] %s\n", ve.Path, ve.Code, ve.Message)
			}
			forms := 0
			for _, f := range files {
				forms += len(f.Forms)
			}
			fmt.Fprintf(out, "%d files, %d forms, %d errors, %d warnings\n", len(files), forms, len(rep.Errors), len(rep.RuleErrors))
			if !rep.OK() {
				return fmt.Errorf("%d definition errors", len(rep.Errors))
			}
			return nil
		},
	}
}
