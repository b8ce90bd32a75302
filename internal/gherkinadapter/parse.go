package gherkinadapter

import (
	"fmt"
	"io"
	"strings"

	gherkin "github.com/cucumber/gherkin/go/v26"
	messages "github.com/cucumber/messages/go/v21"

	"github.com/stepdriver/host/internal/hosterr"
)

// idCounter hands out deterministic synthetic ids to the gherkin parser,
// which requires an id generator but whose ids this adapter never uses.
func idCounter() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%d", n)
	}
}

// Parse reads a single .feature file and returns its language-neutral AST.
// Background steps, if any, are prepended to every scenario's step list so
// downstream consumers never need to know Background exists.
func Parse(path string, r io.Reader) (*Feature, error) {
	doc, err := gherkin.ParseGherkinDocument(r, idCounter())
	if err != nil {
		return nil, &hosterr.ConfigurationError{Reason: fmt.Sprintf("parsing feature file %q", path), Cause: err}
	}
	if doc.Feature == nil {
		return nil, &hosterr.ConfigurationError{Reason: fmt.Sprintf("feature file %q declares no Feature", path)}
	}

	var background []Step
	feature := &Feature{Name: doc.Feature.Name, Path: path}

	for _, child := range doc.Feature.Children {
		if child.Background != nil {
			background = append(background, stepsOf(child.Background.Steps)...)
			continue
		}
		if child.Scenario != nil {
			feature.Scenarios = append(feature.Scenarios, scenarioOf(child.Scenario, background, doc.Feature.Tags)...)
		}
	}

	return feature, nil
}

func stepsOf(ms []*messages.Step) []Step {
	out := make([]Step, 0, len(ms))
	for _, s := range ms {
		out = append(out, Step{
			Keyword: strings.TrimSpace(s.Keyword),
			Text:    s.Text,
			Line:    int(s.Location.Line),
		})
	}
	return out
}

// scenarioOf expands a Scenario Outline's Examples tables into one Scenario
// per row; a plain Scenario yields exactly one. Feature-level tags are
// inherited by every scenario.
func scenarioOf(s *messages.Scenario, background []Step, featureTags []*messages.Tag) []Scenario {
	tags := tagNames(featureTags)
	tags = append(tags, tagNames(s.Tags)...)

	steps := make([]Step, len(background))
	copy(steps, background)
	steps = append(steps, stepsOf(s.Steps)...)

	if len(s.Examples) == 0 {
		return []Scenario{{
			Name:  s.Name,
			Tags:  tags,
			Line:  int(s.Location.Line),
			Steps: steps,
		}}
	}

	var out []Scenario
	for _, ex := range s.Examples {
		if ex.TableHeader == nil {
			continue
		}
		headers := cellValues(ex.TableHeader)
		exTags := append(append([]string{}, tags...), tagNames(ex.Tags)...)
		for _, row := range ex.TableBody {
			values := cellValues(row)
			out = append(out, Scenario{
				Name:  substitute(s.Name, headers, values),
				Tags:  exTags,
				Line:  int(row.Location.Line),
				Steps: substituteSteps(steps, headers, values),
			})
		}
	}
	return out
}

func cellValues(row *messages.TableRow) []string {
	out := make([]string, len(row.Cells))
	for i, c := range row.Cells {
		out[i] = c.Value
	}
	return out
}

func substitute(text string, headers, values []string) string {
	for i, h := range headers {
		if i >= len(values) {
			break
		}
		text = strings.ReplaceAll(text, "<"+h+">", values[i])
	}
	return text
}

func substituteSteps(steps []Step, headers, values []string) []Step {
	out := make([]Step, len(steps))
	for i, st := range steps {
		out[i] = Step{Keyword: st.Keyword, Line: st.Line, Text: substitute(st.Text, headers, values)}
	}
	return out
}

func tagNames(tags []*messages.Tag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.Name
	}
	return out
}
