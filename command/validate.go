package command

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/cucumber/gherkin/go/v26"
	messages "github.com/cucumber/messages/go/v21"
	"github.com/tomatool/ketchup/internal/config"
	"github.com/tomatool/ketchup/internal/handler"
	"github.com/tomatool/ketchup/internal/placeholder"
	"github.com/urfave/cli/v2"
)

var validateCommand = &cli.Command{
	Name:  "validate",
	Usage: "Validate configuration and feature files",
	Flags: []cli.Flag{
		configFlag,
		&cli.BoolFlag{
			Name:  "plain",
			Usage: "disable colors and interactive UI (for CI)",
		},
	},
	Action: runValidate,
}

const (
	statusOK      = "ok"
	statusWarning = "warning"
	statusError   = "error"
)

// ValidationResult holds the result of a validation check
type ValidationResult struct {
	Category   string
	Item       string
	Status     string
	Message    string
	Suggestion string
}

// Validator checks a config file and the feature files it points at
type Validator struct {
	configPath   string
	config       *config.Config
	resolver     *placeholder.Resolver
	stepPatterns []*regexp.Regexp
	results      []ValidationResult
}

func runValidate(c *cli.Context) error {
	v := &Validator{configPath: c.String("config")}

	if c.Bool("plain") {
		return v.runPlain(c.App.Writer)
	}
	return v.runInteractive()
}

func (v *Validator) add(r ValidationResult) {
	v.results = append(v.results, r)
}

func (v *Validator) counts() (ok, warnings, errs int) {
	for _, r := range v.results {
		switch r.Status {
		case statusOK:
			ok++
		case statusWarning:
			warnings++
		case statusError:
			errs++
		}
	}
	return ok, warnings, errs
}

// grouped returns results by category in first-seen order
func (v *Validator) grouped() ([]string, map[string][]ValidationResult) {
	var order []string
	groups := make(map[string][]ValidationResult)
	for _, r := range v.results {
		if _, seen := groups[r.Category]; !seen {
			order = append(order, r.Category)
		}
		groups[r.Category] = append(groups[r.Category], r)
	}
	return order, groups
}

// runPlain runs validation without the Bubble Tea UI
func (v *Validator) runPlain(w io.Writer) error {
	fmt.Fprintln(w, "Validating ketchup configuration...")
	fmt.Fprintln(w)

	v.validate()

	order, groups := v.grouped()
	for _, category := range order {
		fmt.Fprintf(w, "[%s]\n", category)
		for _, r := range groups[category] {
			icon := "✓"
			switch r.Status {
			case statusError:
				icon = "✗"
			case statusWarning:
				icon = "!"
			}

			fmt.Fprintf(w, "  %s %s", icon, r.Item)
			if r.Message != "" {
				fmt.Fprintf(w, ": %s", r.Message)
			}
			fmt.Fprintln(w)
			if r.Suggestion != "" {
				fmt.Fprintf(w, "    → %s\n", r.Suggestion)
			}
		}
		fmt.Fprintln(w)
	}

	ok, warnings, errs := v.counts()
	fmt.Fprintf(w, "Summary: %d passed, %d warnings, %d errors\n", ok, warnings, errs)

	if errs > 0 {
		return fmt.Errorf("validation failed with %d error(s)", errs)
	}
	return nil
}

// runInteractive runs validation with the Bubble Tea UI
func (v *Validator) runInteractive() error {
	m, err := tea.NewProgram(newValidateModel(v)).Run()
	if err != nil {
		return err
	}

	if _, _, errs := m.(validateModel).validator.counts(); errs > 0 {
		return fmt.Errorf("validation failed with %d error(s)", errs)
	}
	return nil
}

func (v *Validator) validate() {
	v.loadStepPatterns()

	v.validateConfig()
	if v.config == nil {
		return
	}

	v.validateProperties()
	v.validateResources()
	v.validateContainers()
	v.validateFeatureFiles()
}

func (v *Validator) loadStepPatterns() {
	categories, err := stepCatalog()
	if err != nil {
		return
	}
	for _, cat := range categories {
		for _, step := range cat.Steps {
			if re, err := regexp.Compile(step.Pattern); err == nil {
				v.stepPatterns = append(v.stepPatterns, re)
			}
		}
	}
}

func (v *Validator) validateConfig() {
	if _, err := os.Stat(v.configPath); errors.Is(err, fs.ErrNotExist) {
		v.add(ValidationResult{
			Category:   "Config",
			Item:       v.configPath,
			Status:     statusError,
			Message:    "config file not found",
			Suggestion: fmt.Sprintf("Create a %s file or specify path with --config", v.configPath),
		})
		return
	}

	cfg, err := config.Load(v.configPath)
	if err != nil {
		v.add(ValidationResult{
			Category:   "Config",
			Item:       v.configPath,
			Status:     statusError,
			Message:    err.Error(),
			Suggestion: "Check the config file syntax and structure",
		})
		return
	}

	v.config = cfg
	v.add(ValidationResult{Category: "Config", Item: v.configPath, Status: statusOK, Message: "valid configuration"})

}

func (v *Validator) validateProperties() {
	provider, err := config.LoadProvider(v.config)
	if err != nil {
		v.add(ValidationResult{
			Category:   "Properties",
			Item:       v.config.PropertiesFile,
			Status:     statusError,
			Message:    err.Error(),
			Suggestion: "Check properties_file points at a readable key=value file",
		})
		return
	}
	v.resolver = placeholder.New(provider, nil)

	if _, err := provider.APIBaseURL(); err != nil {
		v.add(ValidationResult{
			Category:   "Properties",
			Item:       config.KeyAPIBaseURL,
			Status:     statusWarning,
			Message:    "not set",
			Suggestion: "API steps with a relative endpoint need " + config.KeyAPIBaseURL,
		})
		return
	}
	v.add(ValidationResult{Category: "Properties", Item: config.KeyAPIBaseURL, Status: statusOK, Message: provider.Get(config.KeyAPIBaseURL, "")})
}

func (v *Validator) validateResources() {
	valid := handler.ValidResourceTypes()

	for _, name := range slices.Sorted(maps.Keys(v.config.Resources)) {
		res := v.config.Resources[name]
		if !slices.Contains(valid, res.Type) {
			v.add(ValidationResult{
				Category:   "Resources",
				Item:       name,
				Status:     statusError,
				Message:    fmt.Sprintf("unknown type %q", res.Type),
				Suggestion: "Valid types: " + strings.Join(valid, ", "),
			})
			continue
		}

		_, hasDSN := res.Options["dsn"]
		_, hasAddr := res.Options["addr"]
		if res.Container == "" && ((res.Type == "postgres" && !hasDSN) || (res.Type == "redis" && !hasAddr)) {
			v.add(ValidationResult{
				Category:   "Resources",
				Item:       name,
				Status:     statusWarning,
				Message:    fmt.Sprintf("%s resource without container or connection option", res.Type),
				Suggestion: "Add 'container: <name>', or set options.dsn (postgres) / options.addr (redis)",
			})
			continue
		}

		v.add(ValidationResult{Category: "Resources", Item: name, Status: statusOK, Message: "type: " + res.Type})
	}
}

func (v *Validator) validateContainers() {
	for _, name := range slices.Sorted(maps.Keys(v.config.Containers)) {
		cont := v.config.Containers[name]
		if cont.WaitFor.Type == "" && len(cont.Ports) == 0 {
			v.add(ValidationResult{
				Category:   "Containers",
				Item:       name,
				Status:     statusWarning,
				Message:    "no wait_for strategy and no ports",
				Suggestion: "Add wait_for so tests start after the container is ready: wait_for: {type: log, target: \"ready\"}",
			})
			continue
		}
		v.add(ValidationResult{Category: "Containers", Item: name, Status: statusOK, Message: "image: " + cont.Image})
	}
}

// walkError reports a feature path that could not be read
func (v *Validator) walkError(configured, root, path string, err error) {
	result := ValidationResult{
		Category: "Features",
		Item:     path,
		Status:   statusError,
		Message:  err.Error(),
	}
	if path == root {
		result.Item = "features.paths: " + configured
		if errors.Is(err, fs.ErrNotExist) {
			result.Message = "directory does not exist"
			result.Suggestion = "Create the directory: mkdir -p " + root
		}
	}
	v.add(result)
}

func (v *Validator) validateFeatureFiles() {
	var files []string
	for _, p := range v.config.Features.Paths {
		root := v.config.Path(p)
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				v.walkError(p, root, path, err)
				return nil
			}
			if !d.IsDir() && strings.HasSuffix(path, ".feature") {
				files = append(files, path)
			}
			return nil
		})
	}

	if len(files) == 0 {
		v.add(ValidationResult{
			Category:   "Features",
			Item:       "(none)",
			Status:     statusWarning,
			Message:    "no feature files found",
			Suggestion: "Create .feature files in your features directory",
		})
		return
	}

	for _, file := range files {
		v.validateFeatureFile(file)
	}
}

func (v *Validator) validateFeatureFile(path string) {
	item := filepath.Base(path)

	f, err := os.Open(path)
	if err != nil {
		v.add(ValidationResult{Category: "Features", Item: item, Status: statusError, Message: fmt.Sprintf("cannot read file: %v", err)})
		return
	}
	defer f.Close()

	doc, err := gherkin.ParseGherkinDocument(f, (&messages.Incrementing{}).NewId)
	if err != nil {
		v.add(ValidationResult{
			Category:   "Features",
			Item:       item,
			Status:     statusError,
			Message:    fmt.Sprintf("parse error: %v", err),
			Suggestion: "Check Gherkin syntax: https://cucumber.io/docs/gherkin/reference/",
		})
		return
	}
	if doc.Feature == nil {
		v.add(ValidationResult{
			Category:   "Features",
			Item:       item,
			Status:     statusError,
			Message:    "no Feature found in file",
			Suggestion: "Add 'Feature: <name>' at the top of the file",
		})
		return
	}

	var steps []*messages.Step
	scenarios := 0
	collect := func(children []*messages.FeatureChild) {
		for _, child := range children {
			if child.Background != nil {
				steps = append(steps, child.Background.Steps...)
			}
			if child.Scenario != nil {
				scenarios++
				steps = append(steps, child.Scenario.Steps...)
			}
		}
	}
	collect(doc.Feature.Children)
	for _, child := range doc.Feature.Children {
		if child.Rule == nil {
			continue
		}
		for _, rc := range child.Rule.Children {
			if rc.Background != nil {
				steps = append(steps, rc.Background.Steps...)
			}
			if rc.Scenario != nil {
				scenarios++
				steps = append(steps, rc.Scenario.Steps...)
			}
		}
	}

	var undefined, missingKeys []string
	for _, step := range steps {
		if !v.isStepDefined(step.Text) {
			undefined = append(undefined, step.Text)
		}
		if v.resolver == nil {
			continue
		}
		for _, text := range stepTexts(step) {
			var missing *placeholder.MissingConfigKeyError
			if _, err := v.resolver.Resolve(text); errors.As(err, &missing) && !slices.Contains(missingKeys, missing.Key) {
				missingKeys = append(missingKeys, missing.Key)
			}
		}
	}

	switch {
	case len(missingKeys) > 0:
		v.add(ValidationResult{
			Category:   "Features",
			Item:       item,
			Status:     statusError,
			Message:    "missing config keys: " + strings.Join(missingKeys, ", "),
			Suggestion: "Define them under properties or in properties_file",
		})
	case len(undefined) > 0:
		shown := undefined
		if len(shown) > 3 {
			shown = shown[:3]
		}
		v.add(ValidationResult{
			Category:   "Features",
			Item:       item,
			Status:     statusWarning,
			Message:    fmt.Sprintf("%d undefined step(s): %s", len(undefined), strings.Join(shown, ", ")),
			Suggestion: "Run 'ketchup steps' to see available steps",
		})
	default:
		v.add(ValidationResult{Category: "Features", Item: item, Status: statusOK, Message: fmt.Sprintf("%d scenario(s)", scenarios)})
	}
}

// stepTexts returns the step text plus any doc string and table cells
func stepTexts(step *messages.Step) []string {
	texts := []string{step.Text}
	if step.DocString != nil {
		texts = append(texts, step.DocString.Content)
	}
	if step.DataTable != nil {
		for _, row := range step.DataTable.Rows {
			for _, cell := range row.Cells {
				texts = append(texts, cell.Value)
			}
		}
	}
	return texts
}

func (v *Validator) isStepDefined(text string) bool {
	for _, pattern := range v.stepPatterns {
		if pattern.MatchString(text) {
			return true
		}
	}
	return false
}

// Bubble Tea model
type validateModel struct {
	validator *Validator
	spinner   spinner.Model
	done      bool
}

type validationDoneMsg struct{}

func newValidateModel(v *Validator) validateModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("160"))
	return validateModel{validator: v, spinner: s}
}

func (m validateModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		func() tea.Msg {
			m.validator.validate()
			return validationDoneMsg{}
		},
	)
}

func (m validateModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case validationDoneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m validateModel) View() string {
	var s strings.Builder

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("160"))
	okStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	suggestionStyle := mutedStyle.Italic(true)

	s.WriteString("\n" + titleStyle.Render("ketchup validate") + "\n\n")

	if !m.done {
		s.WriteString(m.spinner.View() + " Validating configuration...")
		return s.String()
	}

	order, groups := m.validator.grouped()
	for _, category := range order {
		s.WriteString(categoryStyle.Render(category) + "\n")
		for _, r := range groups[category] {
			icon := okStyle.Render("✓")
			switch r.Status {
			case statusWarning:
				icon = warnStyle.Render("!")
			case statusError:
				icon = errStyle.Render("✗")
			}

			fmt.Fprintf(&s, "  %s %s", icon, r.Item)
			if r.Message != "" {
				fmt.Fprintf(&s, ": %s", r.Message)
			}
			s.WriteString("\n")
			if r.Suggestion != "" {
				fmt.Fprintf(&s, "    %s\n", suggestionStyle.Render("→ "+r.Suggestion))
			}
		}
		s.WriteString("\n")
	}

	ok, warnings, errs := m.validator.counts()
	summary := []string{okStyle.Render(fmt.Sprintf("%d passed", ok))}
	if warnings > 0 {
		summary = append(summary, warnStyle.Render(fmt.Sprintf("%d warnings", warnings)))
	}
	if errs > 0 {
		summary = append(summary, errStyle.Render(fmt.Sprintf("%d errors", errs)))
	}
	fmt.Fprintf(&s, "Summary: %s\n", strings.Join(summary, ", "))

	switch {
	case errs > 0:
		s.WriteString(errStyle.Render("\n✗ Validation failed") + "\n")
	case warnings > 0:
		s.WriteString(warnStyle.Render("\n! Validation passed with warnings") + "\n")
	default:
		s.WriteString(okStyle.Render("\n✓ Validation passed!") + "\n")
	}

	return s.String()
}
