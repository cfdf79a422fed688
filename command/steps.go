package command

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/template"

	"github.com/charmbracelet/lipgloss"
	"github.com/tomatool/ketchup/internal/config"
	"github.com/tomatool/ketchup/internal/handler"
	"github.com/urfave/cli/v2"
)

var stepsCommand = &cli.Command{
	Name:  "steps",
	Usage: "List available Gherkin steps",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "filter",
			Aliases: []string{"f"},
			Usage:   "Filter steps by keyword",
		},
		&cli.StringFlag{
			Name:    "type",
			Aliases: []string{"t"},
			Usage:   "Filter by category (scenario, api, cache, database)",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output in JSON format",
		},
		&cli.BoolFlag{
			Name:  "markdown",
			Usage: "Output a Markdown step reference",
		},
	},
	Action: runSteps,
}

// stepCatalog returns every step category. No handler connects anything
// before Init, so a registry with one resource per type is enough.
func stepCatalog() ([]handler.StepCategory, error) {
	registry, err := handler.NewRegistry(map[string]config.Resource{
		"db":    {Type: "postgres"},
		"cache": {Type: "redis"},
	}, nil, nil)
	if err != nil {
		return nil, err
	}
	return registry.Categories(handler.NewScenario(nil)), nil
}

func filterCategories(categories []handler.StepCategory, keyword, category string) []handler.StepCategory {
	keyword = strings.ToLower(keyword)
	category = strings.ToLower(category)

	var filtered []handler.StepCategory
	for _, cat := range categories {
		if category != "" && !strings.HasPrefix(strings.ToLower(cat.Name), category) {
			continue
		}

		var steps []handler.StepDef
		for _, step := range cat.Steps {
			if keyword != "" &&
				!strings.Contains(strings.ToLower(step.Description), keyword) &&
				!strings.Contains(strings.ToLower(step.Pattern), keyword) {
				continue
			}
			steps = append(steps, step)
		}
		if len(steps) == 0 {
			continue
		}

		filtered = append(filtered, handler.StepCategory{
			Name:        cat.Name,
			Description: cat.Description,
			Steps:       steps,
		})
	}
	return filtered
}

func runSteps(c *cli.Context) error {
	categories, err := stepCatalog()
	if err != nil {
		return err
	}
	categories = filterCategories(categories, c.String("filter"), c.String("type"))

	if c.Bool("json") {
		output, err := json.MarshalIndent(categories, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Fprintln(c.App.Writer, string(output))
		return nil
	}

	if c.Bool("markdown") {
		return writeMarkdown(c.App.Writer, categories)
	}

	printSteps(c.App.Writer, categories)
	return nil
}

const markdownTemplate = `# Step reference
{{range .}}
## {{.Name}}

{{.Description}}
{{range groups .Steps}}
### {{.Name}}

| Step | Description |
|------|-------------|
{{range .Steps}}| ` + "`{{cell .Example}}`" + ` | {{cell .Description}} |
{{end}}{{end}}{{end}}`

type stepGroup struct {
	Name  string
	Steps []handler.StepDef
}

// groupSteps keeps steps in catalog order, starting a new group whenever
// the group name changes
func groupSteps(steps []handler.StepDef) []stepGroup {
	var groups []stepGroup
	for _, step := range steps {
		if len(groups) == 0 || groups[len(groups)-1].Name != step.Group {
			groups = append(groups, stepGroup{Name: step.Group})
		}
		last := &groups[len(groups)-1]
		last.Steps = append(last.Steps, step)
	}
	return groups
}

func writeMarkdown(w io.Writer, categories []handler.StepCategory) error {
	tmpl, err := template.New("steps").Funcs(template.FuncMap{
		"groups": groupSteps,
		"cell": func(s string) string {
			s, _, _ = strings.Cut(s, "\n")
			return strings.ReplaceAll(s, "|", "\\|")
		},
	}).Parse(markdownTemplate)
	if err != nil {
		return fmt.Errorf("parsing template: %w", err)
	}
	return tmpl.Execute(w, categories)
}

var (
	categoryStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("36"))
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	patternStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	boldStyle     = lipgloss.NewStyle().Bold(true)
)

func printSteps(w io.Writer, categories []handler.StepCategory) {
	for _, cat := range categories {
		fmt.Fprintf(w, "\n%s\n%s\n\n", categoryStyle.Render(cat.Name), mutedStyle.Render(cat.Description))

		group := ""
		for _, step := range cat.Steps {
			if step.Group != group {
				group = step.Group
				fmt.Fprintf(w, "  %s\n", mutedStyle.Render("# "+group))
			}
			example, _, _ := strings.Cut(step.Example, "\n")
			fmt.Fprintf(w, "  %s\n", boldStyle.Render(step.Description))
			fmt.Fprintf(w, "  %s\n", patternStyle.Render(step.Pattern))
			fmt.Fprintf(w, "  %s\n\n", mutedStyle.Render("Example: "+example))
		}
	}
}
