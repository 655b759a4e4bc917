package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sweetpotato0/textgen/internal/app"
	"github.com/sweetpotato0/textgen/message"
	"github.com/sweetpotato0/textgen/runner"
	"github.com/sweetpotato0/textgen/textgen"
)

var (
	genModel     string
	genSystem    string
	genAssistant string
	genWebSearch bool
	genParallel  int
)

var generateCmd = &cobra.Command{
	Use:   "generate [prompt...]",
	Short: "Answer one or more prompts and print the answers",
	Long: `Each argument is answered as a separate single-turn conversation.
Prompts are generated concurrently, bounded by --parallel.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		a, err := app.Build(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		name := genModel
		if name == "" {
			name = a.Models[0].Name
		}
		m, ok := a.Model(name)
		if !ok {
			return fmt.Errorf("unknown model %q", name)
		}

		tasks := make([]*runner.Task, 0, len(args))
		for _, prompt := range args {
			preprompt := genSystem
			if preprompt == "" && genAssistant == "" {
				preprompt = m.Preprompt
			}
			c, err := textgen.NewContext(ctx, a.Assistants, textgen.Context{
				Conversation: textgen.Conversation{
					ID:          uuid.NewString(),
					Model:       m.Name,
					Preprompt:   preprompt,
					AssistantID: genAssistant,
				},
				Messages:  []*message.Message{message.NewMessage(message.RoleUser, prompt)},
				Model:     m,
				WebSearch: genWebSearch,
			})
			if err != nil {
				return err
			}
			tasks = append(tasks, &runner.Task{ID: c.Conversation.ID, Context: c})
		}

		out := cmd.OutOrStdout()
		var failed int
		results := runner.NewParallelRunner(a.Generator, genParallel).RunParallel(ctx, tasks)
		for i, res := range results {
			if len(results) > 1 {
				fmt.Fprintf(out, "### %s\n", strings.TrimSpace(args[i]))
			}
			switch {
			case res.Error != nil:
				failed++
				fmt.Fprintf(out, "error: %v\n", res.Error)
			case res.Answer.Error != "":
				failed++
				fmt.Fprintf(out, "error: %s\n", res.Answer.Error)
			default:
				fmt.Fprintln(out, res.Answer.Text)
				if res.Answer.Interrupted {
					fmt.Fprintln(out, "[interrupted]")
				}
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d generations failed", failed, len(results))
		}
		return nil
	},
}

func init() {
	generateCmd.Flags().StringVarP(&genModel, "model", "m", "", "model name (default: first configured model)")
	generateCmd.Flags().StringVar(&genSystem, "system", "", "system prompt overriding the model preprompt")
	generateCmd.Flags().StringVar(&genAssistant, "assistant", "", "assistant id")
	generateCmd.Flags().BoolVar(&genWebSearch, "web-search", false, "search the web before answering")
	generateCmd.Flags().IntVarP(&genParallel, "parallel", "p", 4, "maximum concurrent generations")
	rootCmd.AddCommand(generateCmd)
}
