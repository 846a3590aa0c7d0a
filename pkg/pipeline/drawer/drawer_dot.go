package drawer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/template"
	"time"

	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"
	"gopkg.in/go-playground/colors.v1" //nolint

	"github.com/askiada/go-stepline/pkg/pipeline/measure"
)

// DOTDrawer draws the dependency graph of a pipeline in Graphviz DOT format.
type DOTDrawer struct {
	graph       graph.Graph[string, string]
	dotFileName string
}

// NewDOTDrawer creates a new DOT drawer writing to dotFileName.
func NewDOTDrawer(dotFileName string) *DOTDrawer {
	return &DOTDrawer{
		dotFileName: dotFileName,
		graph:       graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles()),
	}
}

// AddStep adds a step to the pipeline graph. Adding a step twice is a no-op.
func (d *DOTDrawer) AddStep(name string) error {
	err := d.graph.AddVertex(name, graph.VertexAttribute("shape", "box"))
	if errors.Is(err, graph.ErrVertexAlreadyExists) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "unable to add vertex")
	}

	return nil
}

// AddLink adds a link between a dependency and the step depending on it.
// Links that would close a cycle are dropped.
func (d *DOTDrawer) AddLink(dependencyName, stepName string) error {
	err := d.graph.AddEdge(dependencyName, stepName)
	// Cycles, self links included, are reported by pipeline validation.
	if errors.Is(err, graph.ErrEdgeAlreadyExists) || errors.Is(err, graph.ErrEdgeCreatesCycle) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "unable to add edge from %s to %s", dependencyName, stepName)
	}

	return nil
}

// MarkMissing adds a dashed vertex for a dependency that is not registered.
func (d *DOTDrawer) MarkMissing(name string) error {
	err := d.graph.AddVertex(name, graph.VertexAttribute("style", "dashed"))
	if err != nil && !errors.Is(err, graph.ErrVertexAlreadyExists) {
		return errors.Wrap(err, "unable to add vertex")
	}

	return nil
}

// Render writes the graph to wrt.
func (d *DOTDrawer) Render(wrt io.Writer) error {
	return dot(d.graph, wrt, GraphAttribute("rankdir", "LR"))
}

// Draw creates a DOT file with the pipeline graph.
func (d *DOTDrawer) Draw() error {
	file, err := os.Create(d.dotFileName)
	if err != nil {
		return errors.Wrapf(err, "unable to create file %s", d.dotFileName)
	}
	defer file.Close()

	err = d.Render(file)
	if err != nil {
		return errors.Wrapf(err, "unable to create dot file %s", d.dotFileName)
	}

	return nil
}

const maxRGB = 240

// AddMeasure labels every measured step with its average duration and colours
// it from blue (fastest) to red (slowest).
func (d *DOTDrawer) AddMeasure(msr measure.Measure) error {
	averages := make(map[string]time.Duration)
	sorted := []time.Duration{}

	for name, mt := range msr.AllMetrics() {
		avg := mt.AVGDuration()
		if mt.Runs() == 0 {
			continue
		}
		averages[name] = avg
		sorted = append(sorted, avg)
	}

	if len(sorted) == 0 {
		return nil
	}

	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] > sorted[j]
	})

	maxValue := sorted[0]
	minValue := sorted[len(sorted)-1]

	for name, avg := range averages {
		fraction := 1.0
		if maxValue > minValue {
			fraction = float64(avg-minValue) / float64(maxValue-minValue)
		}

		red := maxRGB * fraction
		blue := maxRGB - red

		colour, err := colors.RGB(uint8(red), 0, uint8(blue)) //nolint
		if err != nil {
			return errors.Wrap(err, "unable to get colour")
		}

		_, properties, err := d.graph.VertexWithProperties(name)
		if errors.Is(err, graph.ErrVertexNotFound) {
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "unable to get properties of step %s", name)
		}

		properties.Attributes["color"] = colour.ToHEX().String()
		properties.Attributes["xlabel"] = avg.String()

		if failures := msr.GetMetric(name).Failures(); failures > 0 {
			properties.Attributes["xlabel"] += fmt.Sprintf(", failures: %d", failures)
		}
	}

	return nil
}

//nolint:lll //this is a template
const dotTemplate = `strict {{.GraphType}} {
	{{range $k, $v := .Attributes}}
		{{$k}}="{{$v}}";
	{{end}}
	{{range $s := .Statements}}
		"{{.Source}}" {{if .Target}}{{$.EdgeOperator}} "{{.Target}}" [ {{range $k, $v := .EdgeAttributes}}{{$k}}="{{$v}}", {{end}} weight={{.EdgeWeight}} ]{{else}}[ {{range $k, $v := .HTMLAttributes}}{{$k}}={{$v}}, {{end}} {{range $k, $v := .SourceAttributes}}{{$k}}="{{$v}}", {{end}} weight={{.SourceWeight}} ]{{end}};
	{{end}}
	}
	`

type description struct {
	GraphType    string
	Attributes   map[string]string
	EdgeOperator string
	Statements   []statement
}

type statement struct {
	Source           interface{}
	Target           interface{}
	SourceAttributes map[string]string
	HTMLAttributes   map[string]string
	EdgeAttributes   map[string]string
	SourceWeight     int
	EdgeWeight       int
}

func dot[K comparable, T any](g graph.Graph[K, T], wrt io.Writer, options ...func(*description)) error {
	desc, err := generateDOT(g, options...)
	if err != nil {
		return fmt.Errorf("failed to generate DOT description: %w", err)
	}

	return renderDOT(wrt, desc)
}

// GraphAttribute is a functional option for the DOT rendering.
func GraphAttribute(key, value string) func(*description) {
	return func(d *description) {
		d.Attributes[key] = value
	}
}

// generateDOT walks the graph in topological order so the output is stable.
func generateDOT[K comparable, T any](gra graph.Graph[K, T], options ...func(*description)) (description, error) {
	desc := description{
		GraphType:    "graph",
		Attributes:   make(map[string]string),
		EdgeOperator: "--",
		Statements:   make([]statement, 0),
	}

	for _, option := range options {
		option(&desc)
	}

	if gra.Traits().IsDirected {
		desc.GraphType = "digraph"
		desc.EdgeOperator = "->"
	}

	adjacencyMap, err := gra.AdjacencyMap()
	if err != nil {
		return desc, errors.Wrap(err, "unable to get adjacency map")
	}

	order, err := graph.StableTopologicalSort(gra, func(a, b K) bool {
		return fmt.Sprint(a) < fmt.Sprint(b)
	})
	if err != nil {
		return desc, errors.Wrap(err, "unable to sort vertices")
	}

	for _, vertex := range order {
		_, sourceProperties, err := gra.VertexWithProperties(vertex)
		if err != nil {
			return desc, errors.Wrap(err, "unable to get vertex properties")
		}

		htmlAttributes := make(map[string]string)
		sourceAttributes := make(map[string]string, len(sourceProperties.Attributes))

		for k, v := range sourceProperties.Attributes {
			sourceAttributes[k] = v
		}

		if xlabel, ok := sourceAttributes["xlabel"]; ok {
			htmlAttributes["label"] = fmt.Sprintf(`<%+v <BR /> <FONT POINT-SIZE="12">%s</FONT>>`, vertex, xlabel)

			delete(sourceAttributes, "xlabel")
		}

		stmt := statement{
			Source:           vertex,
			SourceWeight:     sourceProperties.Weight,
			SourceAttributes: sourceAttributes,
			HTMLAttributes:   htmlAttributes,
		}
		desc.Statements = append(desc.Statements, stmt)

		targets := make([]K, 0, len(adjacencyMap[vertex]))
		for target := range adjacencyMap[vertex] {
			targets = append(targets, target)
		}
		sort.Slice(targets, func(i, j int) bool {
			return fmt.Sprint(targets[i]) < fmt.Sprint(targets[j])
		})

		for _, target := range targets {
			edge := adjacencyMap[vertex][target]
			stmt := statement{
				Source:         vertex,
				Target:         target,
				EdgeWeight:     edge.Properties.Weight,
				EdgeAttributes: edge.Properties.Attributes,
			}
			desc.Statements = append(desc.Statements, stmt)
		}
	}

	return desc, nil
}

func renderDOT(wrt io.Writer, desc description) error {
	tpl, err := template.New("dotTemplate").Parse(dotTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	err = tpl.Execute(wrt, desc)
	if err != nil {
		return errors.Wrap(err, "unable to execute template")
	}

	return nil
}

var _ Drawer = (*DOTDrawer)(nil)
